// Package transport defines the capability interface the device package's
// Client Facade drives: a single-threaded, cooperatively-scheduled "lower
// layer" (LL) transport engine abstracting MQTT/AMQP/HTTP protocol
// encoding, TLS, reconnect/retry timers, and SAS-token refresh. None of
// that wire-level behavior is specified here; only the shape the core
// needs to call into it.
package transport

import "context"

// ConnectionStatus mirrors the LL's reported connection state.
type ConnectionStatus int

const (
	ConnectionAuthenticated ConnectionStatus = iota
	ConnectionUnauthenticated
	ConnectionDisconnected
)

// ConnectionStatusReason mirrors the LL's reason code for a status change.
type ConnectionStatusReason int

const (
	ReasonOK ConnectionStatusReason = iota
	ReasonExpiredSASToken
	ReasonDeviceDisabled
	ReasonBadCredential
	ReasonRetryExpired
	ReasonNoNetwork
	ReasonCommunicationError
)

// SendStatus mirrors GetSendStatus's result.
type SendStatus int

const (
	SendStatusIdle SendStatus = iota
	SendStatusBusy
)

// Disposition is the application's verdict on an inbound message.
type Disposition int

const (
	DispositionAccepted Disposition = iota
	DispositionRejected
	DispositionAbandoned
	DispositionAsyncAck
)

// Message is the opaque application message handle the Facade forwards to
// the LL. Message body construction and property maps are out of scope
// for this layer; Message is treated as an already-built value.
type Message struct {
	Body       []byte
	Properties map[string]string
	OutputName string
	InputName  string
}

// TwinUpdateKind distinguishes a full twin document from a partial
// (patch) update.
type TwinUpdateKind int

const (
	TwinUpdateComplete TwinUpdateKind = iota
	TwinUpdatePartial
)

// MethodInvocation is an inbound device-method call delivered by the LL.
type MethodInvocation struct {
	MethodName string
	Payload    []byte
	MethodID   string
}

// MethodInvokeRequest is the input to a device-to-device/module method
// invoke, carried by a Detached Task.
type MethodInvokeRequest struct {
	DeviceID   string
	ModuleID   string // empty for device-scoped invoke
	MethodName string
	Payload    []byte
	TimeoutMS  int
}

// MethodInvokeResponse is the result of a method invoke HTTP exchange.
type MethodInvokeResponse struct {
	StatusCode int
	Payload    []byte
}

// Callbacks is the set of *standing* thunks the Facade registers with the
// LL at construction, for event kinds that are not tied to a single
// Facade call (desired-twin updates, connection status, inbound
// methods/messages). The LL invokes these synchronously during DoWork,
// with the Serialization Lock already held by the caller of DoWork;
// they must only perform bounded, non-blocking work (the device
// package's thunks just enqueue a Callback Queue Record and return).
//
// One-shot completions (SendEventAsync, SendReportedState, GetTwinAsync)
// are instead delivered via the per-call completion closure each of
// those Provider methods accepts, since each carries its own callback
// and user context.
type Callbacks struct {
	OnDesiredTwin      func(kind TwinUpdateKind, payload []byte)
	OnConnectionStatus func(status ConnectionStatus, reason ConnectionStatusReason)
	OnDeviceMethod     func(inv MethodInvocation)
	OnInboundMessage   func(msg Message) Disposition
	OnInputMessage     func(inputName string, msg Message) Disposition
}

// Provider is the capability set the device package's Client drives. An
// implementation encapsulates one of MQTT/AMQP/HTTP (plain or tunnelled);
// transport selection is a choice of which Provider implementation the
// Client was constructed with.
type Provider interface {
	// Create initializes the LL with the supplied connection parameters
	// and registers callbacks. It must not block.
	Create(connectionString string, callbacks Callbacks) error

	// Destroy tears down the LL. Must be idempotent.
	Destroy()

	// DoWork drives one LL tick. May invoke any of Callbacks synchronously.
	// The caller holds the Serialization Lock for the duration of this call.
	DoWork(ctx context.Context)

	// SendEventAsync forwards msg to the LL. onConfirm is invoked by a
	// later DoWork call (under the Lock, from the Worker) exactly once
	// with the broker's accept/reject outcome; the device package bridges
	// that into an EventConfirmation Callback Queue Record.
	SendEventAsync(msg Message, onConfirm func(ok bool)) error

	// GetSendStatus reports IDLE or BUSY.
	GetSendStatus() SendStatus

	// SendReportedState forwards a reported-state patch; onComplete fires
	// once, from a later DoWork call, with the service's status code.
	SendReportedState(payload []byte, onComplete func(statusCode int)) error

	// GetTwinAsync requests the full twin document; onComplete fires once,
	// from a later DoWork call, with the twin payload (nil on failure).
	GetTwinAsync(onComplete func(payload []byte, ok bool)) error

	// DeviceMethodResponse ships a sync-method response for methodID.
	DeviceMethodResponse(methodID string, payload []byte, status int) error

	// SendMessageDisposition reports the application's disposition for an
	// inbound message previously delivered via OnInboundMessage/OnInputMessage.
	SendMessageDisposition(msg Message, disposition Disposition) error

	// SetOption forwards an option verbatim to the LL. Options recognized
	// by the device package itself (do_work_freq_ms, messageTimeout,
	// maxInFlightDetachedTasks) are intercepted before reaching here; see
	// device/options.go.
	SetOption(name string, value any) error

	// SetRetryPolicy forwards the retry policy to the LL.
	SetRetryPolicy(policy int, retryTimeoutSec int) error

	// GetRetryPolicy returns the currently configured retry policy.
	GetRetryPolicy() (policy int, retryTimeoutSec int)

	// UploadToBlob performs a single-shot blob upload. Blocking; intended
	// to be called from a Detached Task goroutine, not the Worker.
	UploadToBlob(ctx context.Context, destinationName string, source []byte) error

	// UploadMultipleBlocksToBlob drives a multi-block upload, repeatedly
	// invoking produceBlock to obtain the next block until it signals end
	// of data (ok=false) or returns an empty block with ok=true treated as
	// EOF. Blocking; intended for a Detached Task goroutine.
	UploadMultipleBlocksToBlob(ctx context.Context, destinationName string, produceBlock func() (block []byte, ok bool)) error

	// InvokeMethod performs a device-to-device/module method invoke over
	// HTTP. Blocking; intended for a Detached Task goroutine.
	InvokeMethod(ctx context.Context, req MethodInvokeRequest) (MethodInvokeResponse, error)
}
