// Package faketransport is a deterministic, in-memory transport.Provider
// used by the device package tests and by the demonstration daemon as a
// loopback transport. It never touches the network; every async
// completion is driven explicitly by the caller via the Fire* methods or
// by queuing a script for DoWork to play back.
package faketransport

import (
	"context"
	"errors"
	"sync"

	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// ErrSimulated is returned by an operation the test has scripted to fail.
var ErrSimulated = errors.New("faketransport: simulated failure")

type pendingEvent struct {
	onConfirm func(ok bool)
}

type pendingReported struct {
	onComplete func(statusCode int)
}

type pendingTwin struct {
	onComplete func(payload []byte, ok bool)
}

// Fake implements transport.Provider entirely in memory. All exported
// methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	created     bool
	destroyed   bool
	callbacks   transport.Callbacks
	connStr     string
	sendStatus  transport.SendStatus
	retryPolicy int
	retryTO     int
	options     map[string]any

	doWorkCount int

	pendingEvents    []pendingEvent
	pendingReported  []pendingReported
	pendingTwins     []pendingTwin
	sentDispositions []DispositionCall
	methodResponses  []MethodResponseCall

	// FailSendEventAsync, if set, makes every SendEventAsync call return
	// ErrSimulated instead of queuing a completion.
	FailSendEventAsync bool
	// FailUpload, if set, makes UploadToBlob/UploadMultipleBlocksToBlob
	// return ErrSimulated.
	FailUpload bool
	// FailInvokeMethod, if set, makes InvokeMethod return ErrSimulated.
	FailInvokeMethod bool
	// UploadDelay is invoked (if non-nil) inside UploadToBlob before
	// returning, so tests can simulate a slow HTTP exchange.
	UploadDelay func()
}

// DispositionCall records one SendMessageDisposition invocation.
type DispositionCall struct {
	Message     transport.Message
	Disposition transport.Disposition
}

// MethodResponseCall records one DeviceMethodResponse invocation.
type MethodResponseCall struct {
	MethodID string
	Payload  []byte
	Status   int
}

// New returns an unstarted Fake.
func New() *Fake {
	return &Fake{
		sendStatus: transport.SendStatusIdle,
		options:    make(map[string]any),
	}
}

func (f *Fake) Create(connectionString string, callbacks transport.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	f.connStr = connectionString
	f.callbacks = callbacks
	return nil
}

func (f *Fake) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *Fake) DoWork(ctx context.Context) {
	f.mu.Lock()
	f.doWorkCount++
	events := f.pendingEvents
	f.pendingEvents = nil
	reported := f.pendingReported
	f.pendingReported = nil
	twins := f.pendingTwins
	f.pendingTwins = nil
	f.mu.Unlock()

	for _, e := range events {
		e.onConfirm(true)
	}
	for _, r := range reported {
		r.onComplete(200)
	}
	for _, t := range twins {
		t.onComplete([]byte(`{"desired":{}}`), true)
	}
}

func (f *Fake) SendEventAsync(msg transport.Message, onConfirm func(ok bool)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSendEventAsync {
		return ErrSimulated
	}
	f.pendingEvents = append(f.pendingEvents, pendingEvent{onConfirm: onConfirm})
	return nil
}

func (f *Fake) GetSendStatus() transport.SendStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendStatus
}

// SetSendStatus lets a test force the status GetSendStatus reports next.
func (f *Fake) SetSendStatus(s transport.SendStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendStatus = s
}

func (f *Fake) SendReportedState(payload []byte, onComplete func(statusCode int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingReported = append(f.pendingReported, pendingReported{onComplete: onComplete})
	return nil
}

func (f *Fake) GetTwinAsync(onComplete func(payload []byte, ok bool)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingTwins = append(f.pendingTwins, pendingTwin{onComplete: onComplete})
	return nil
}

func (f *Fake) DeviceMethodResponse(methodID string, payload []byte, status int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methodResponses = append(f.methodResponses, MethodResponseCall{MethodID: methodID, Payload: payload, Status: status})
	return nil
}

func (f *Fake) SendMessageDisposition(msg transport.Message, disposition transport.Disposition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentDispositions = append(f.sentDispositions, DispositionCall{Message: msg, Disposition: disposition})
	return nil
}

func (f *Fake) SetOption(name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options[name] = value
	return nil
}

func (f *Fake) SetRetryPolicy(policy int, retryTimeoutSec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryPolicy, f.retryTO = policy, retryTimeoutSec
	return nil
}

func (f *Fake) GetRetryPolicy() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retryPolicy, f.retryTO
}

func (f *Fake) UploadToBlob(ctx context.Context, destinationName string, source []byte) error {
	if f.UploadDelay != nil {
		f.UploadDelay()
	}
	if f.FailUpload {
		return ErrSimulated
	}
	return nil
}

func (f *Fake) UploadMultipleBlocksToBlob(ctx context.Context, destinationName string, produceBlock func() (block []byte, ok bool)) error {
	if f.FailUpload {
		return ErrSimulated
	}
	for {
		block, ok := produceBlock()
		if !ok || len(block) == 0 {
			return nil
		}
	}
}

func (f *Fake) InvokeMethod(ctx context.Context, req transport.MethodInvokeRequest) (transport.MethodInvokeResponse, error) {
	if f.FailInvokeMethod {
		return transport.MethodInvokeResponse{}, ErrSimulated
	}
	return transport.MethodInvokeResponse{StatusCode: 200, Payload: []byte(`{}`)}, nil
}

// ---------------------------------------------------------------------
// Test-driving helpers: simulate LL-thread events. Each Fire* method
// invokes the registered callback immediately on the calling goroutine,
// not from inside DoWork.
// ---------------------------------------------------------------------

// FireDesiredTwin simulates the LL delivering a desired-twin update.
func (f *Fake) FireDesiredTwin(kind transport.TwinUpdateKind, payload []byte) {
	f.mu.Lock()
	cb := f.callbacks.OnDesiredTwin
	f.mu.Unlock()
	if cb != nil {
		cb(kind, payload)
	}
}

// FireConnectionStatus simulates a connection-status change.
func (f *Fake) FireConnectionStatus(status transport.ConnectionStatus, reason transport.ConnectionStatusReason) {
	f.mu.Lock()
	cb := f.callbacks.OnConnectionStatus
	f.mu.Unlock()
	if cb != nil {
		cb(status, reason)
	}
}

// FireDeviceMethod simulates an inbound device-method invocation.
func (f *Fake) FireDeviceMethod(inv transport.MethodInvocation) {
	f.mu.Lock()
	cb := f.callbacks.OnDeviceMethod
	f.mu.Unlock()
	if cb != nil {
		cb(inv)
	}
}

// FireInboundMessage simulates an inbound telemetry-style message.
func (f *Fake) FireInboundMessage(msg transport.Message) transport.Disposition {
	f.mu.Lock()
	cb := f.callbacks.OnInboundMessage
	f.mu.Unlock()
	if cb == nil {
		return transport.DispositionRejected
	}
	return cb(msg)
}

// FireInputMessage simulates an inbound module-to-module routed message.
func (f *Fake) FireInputMessage(inputName string, msg transport.Message) transport.Disposition {
	f.mu.Lock()
	cb := f.callbacks.OnInputMessage
	f.mu.Unlock()
	if cb == nil {
		return transport.DispositionRejected
	}
	return cb(inputName, msg)
}

// ---------------------------------------------------------------------
// Introspection for assertions.
// ---------------------------------------------------------------------

func (f *Fake) DoWorkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doWorkCount
}

func (f *Fake) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *Fake) ConnectionString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connStr
}

func (f *Fake) Option(name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.options[name]
	return v, ok
}

func (f *Fake) Dispositions() []DispositionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DispositionCall, len(f.sentDispositions))
	copy(out, f.sentDispositions)
	return out
}

func (f *Fake) MethodResponses() []MethodResponseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MethodResponseCall, len(f.methodResponses))
	copy(out, f.methodResponses)
	return out
}

var _ transport.Provider = (*Fake)(nil)
