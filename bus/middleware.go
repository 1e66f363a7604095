package bus

import (
	"context"
)

// LoggingMiddleware logs all message traffic through the bus via the
// injected structured logger.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("bus_message_received", "topic", message.Topic())
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("bus_message_failed", "topic", message.Topic(), "error", err.Error())
	} else {
		m.logger.Debug("bus_message_completed", "topic", message.Topic())
	}
	return result, nil
}

// Ensure LoggingMiddleware implements the Middleware interface.
var _ Middleware = (*LoggingMiddleware)(nil)
