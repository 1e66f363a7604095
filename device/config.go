package device

import "sync"

// MaxTickPeriodMS is the hard ceiling on the worker tick period.
const MaxTickPeriodMS = 100

// DefaultTickPeriodMS is the tick period a Client starts with before any
// SetOption("do_work_freq_ms", ...) call.
const DefaultTickPeriodMS = 1

// ClientConfig holds the tunables of a Client that are meaningful at this
// layer, as opposed to transport-specific options forwarded verbatim to
// the LL (see options.go).
type ClientConfig struct {
	// TickPeriodMS is the Worker's inter-tick sleep duration.
	TickPeriodMS int `json:"tick_period_ms"`

	// MessageTimeoutMS is the per-message timeout ceiling. Zero means unset.
	MessageTimeoutMS int `json:"message_timeout_ms"`

	// MaxInFlightDetachedTasks bounds concurrent blob-upload / method-invoke
	// HTTP worker goroutines.
	MaxInFlightDetachedTasks int `json:"max_in_flight_detached_tasks"`

	// QueueDiagnosticsEnabled controls whether dropped-record diagnostics
	// are logged in addition to being counted.
	QueueDiagnosticsEnabled bool `json:"queue_diagnostics_enabled"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		TickPeriodMS:             DefaultTickPeriodMS,
		MessageTimeoutMS:         0,
		MaxInFlightDetachedTasks: 16,
		QueueDiagnosticsEnabled:  true,
	}
}

// ClientConfigFromMap builds a ClientConfig from a generic map, tolerating
// both native int/bool values and the float64 values encoding/json produces
// when decoding numbers into interface{}. Unknown keys are ignored.
func ClientConfigFromMap(m map[string]any) *ClientConfig {
	c := DefaultClientConfig()

	if v, ok := m["tick_period_ms"].(int); ok {
		c.TickPeriodMS = v
	} else if v, ok := m["tick_period_ms"].(float64); ok {
		c.TickPeriodMS = int(v)
	}
	if v, ok := m["message_timeout_ms"].(int); ok {
		c.MessageTimeoutMS = v
	} else if v, ok := m["message_timeout_ms"].(float64); ok {
		c.MessageTimeoutMS = int(v)
	}
	if v, ok := m["max_in_flight_detached_tasks"].(int); ok {
		c.MaxInFlightDetachedTasks = v
	} else if v, ok := m["max_in_flight_detached_tasks"].(float64); ok {
		c.MaxInFlightDetachedTasks = int(v)
	}
	if v, ok := m["queue_diagnostics_enabled"].(bool); ok {
		c.QueueDiagnosticsEnabled = v
	}

	return c
}

var (
	globalClientConfig *ClientConfig
	globalConfigMu     sync.RWMutex
)

// GetDefaultClientConfig returns the process-wide default config injected
// by SetDefaultClientConfig, or library defaults if none was injected.
// Used by the from-environment construction variant.
func GetDefaultClientConfig() *ClientConfig {
	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()

	if globalClientConfig == nil {
		return DefaultClientConfig()
	}
	return globalClientConfig
}

// SetDefaultClientConfig injects a process-wide default config.
func SetDefaultClientConfig(cfg *ClientConfig) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalClientConfig = cfg
}

// ResetDefaultClientConfig clears any injected default config (for tests).
func ResetDefaultClientConfig() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalClientConfig = nil
}
