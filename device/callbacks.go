package device

import (
	"sync"

	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// Callback signatures for the Facade operations.
type (
	EventConfirmationCallback func(result ConfirmationResult, userCtx any)
	ReportedStateCallback     func(statusCode int, userCtx any)
	GetTwinCallback           func(payload []byte, userCtx any)
	DeviceTwinCallback        func(kind transport.TwinUpdateKind, payload []byte, userCtx any)
	ConnectionStatusCallback  func(status transport.ConnectionStatus, reason transport.ConnectionStatusReason, userCtx any)

	// DeviceMethodCallback is the synchronous-response method handler: it
	// returns the response body, size is implied by len(response), and a
	// status code.
	DeviceMethodCallback func(methodName string, payload []byte, userCtx any) (response []byte, status int)

	// DeviceMethodCallbackEx is the asynchronous-response flavour: the
	// handler is invoked and must later call Client.DeviceMethodResponse
	// with the given methodID.
	DeviceMethodCallbackEx func(methodName string, payload []byte, methodID string, userCtx any)

	MessageCallback      func(msg transport.Message, userCtx any) transport.Disposition
	InputMessageCallback func(inputName string, msg transport.Message, userCtx any) transport.Disposition

	// UploadCallback fires once for UploadToBlobAsync /
	// UploadMultipleBlocksToBlobAsync.
	UploadCallback func(result ConfirmationResult, userCtx any)

	// MethodInvokeCallback fires once for a cross-device/module method
	// invoke Detached Task.
	MethodInvokeCallback func(result ConfirmationResult, resp transport.MethodInvokeResponse, userCtx any)

	// BlockDataProducer supplies the next block for a multi-block blob
	// upload; ok=false signals end of data.
	BlockDataProducer func() (block []byte, ok bool)
)

// callbackTable holds the standing handlers registered on a Client,
// writable only under the Serialization Lock.
type callbackTable struct {
	mu sync.Mutex

	desiredTwin       DeviceTwinCallback
	desiredTwinCtx    any
	connectionStatus  ConnectionStatusCallback
	connectionCtx     any
	methodSync        DeviceMethodCallback
	methodSyncCtx     any
	methodAsync       DeviceMethodCallbackEx
	methodAsyncCtx    any
	inboundMessage    MessageCallback
	inboundCtx        any
	inputMessage      map[string]inputRoute
}

type inputRoute struct {
	cb  InputMessageCallback
	ctx any
}

func newCallbackTable() *callbackTable {
	return &callbackTable{inputMessage: make(map[string]inputRoute)}
}

func (t *callbackTable) setDesiredTwin(cb DeviceTwinCallback, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desiredTwin, t.desiredTwinCtx = cb, ctx
}

func (t *callbackTable) setConnectionStatus(cb ConnectionStatusCallback, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectionStatus, t.connectionCtx = cb, ctx
}

func (t *callbackTable) setMethodSync(cb DeviceMethodCallback, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methodSync, t.methodSyncCtx = cb, ctx
	t.methodAsync, t.methodAsyncCtx = nil, nil
}

func (t *callbackTable) setMethodAsync(cb DeviceMethodCallbackEx, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methodAsync, t.methodAsyncCtx = cb, ctx
	t.methodSync, t.methodSyncCtx = nil, nil
}

func (t *callbackTable) setInboundMessage(cb MessageCallback, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inboundMessage, t.inboundCtx = cb, ctx
}

// isMethodAsync reports which method-response flavour is currently
// registered, so the LL-thread thunk (dispatch.go's onDeviceMethod) can
// decide which Record Kind to build at enqueue time; the sync/async
// split is a property of the record, chosen once, not re-resolved at
// dispatch time.
func (t *callbackTable) isMethodAsync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.methodAsync != nil
}

// lookupInputRoute returns the handler registered for inputName, captured
// at enqueue time so the InputMessage record carries its own handler
// rather than re-resolving it from a dispatch-time snapshot as the other
// standing-handler kinds do.
func (t *callbackTable) lookupInputRoute(inputName string) (inputRoute, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	route, ok := t.inputMessage[inputName]
	return route, ok
}

func (t *callbackTable) setInputMessage(name string, cb InputMessageCallback, ctx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb == nil {
		delete(t.inputMessage, name)
		return
	}
	t.inputMessage[name] = inputRoute{cb: cb, ctx: ctx}
}

// snapshot is taken under the Lock at the top of each Worker dispatch
// pass, so dispatch itself can run lock-free even while the application
// concurrently re-registers handlers.
type tableSnapshot struct {
	desiredTwin      DeviceTwinCallback
	desiredTwinCtx   any
	connectionStatus ConnectionStatusCallback
	connectionCtx    any
	methodSync       DeviceMethodCallback
	methodSyncCtx    any
	methodAsync      DeviceMethodCallbackEx
	methodAsyncCtx   any
	inboundMessage   MessageCallback
	inboundCtx       any
	inputMessage     map[string]inputRoute
}

func (t *callbackTable) snapshot() tableSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	routes := make(map[string]inputRoute, len(t.inputMessage))
	for k, v := range t.inputMessage {
		routes[k] = v
	}
	return tableSnapshot{
		desiredTwin:      t.desiredTwin,
		desiredTwinCtx:   t.desiredTwinCtx,
		connectionStatus: t.connectionStatus,
		connectionCtx:    t.connectionCtx,
		methodSync:       t.methodSync,
		methodSyncCtx:    t.methodSyncCtx,
		methodAsync:      t.methodAsync,
		methodAsyncCtx:   t.methodAsyncCtx,
		inboundMessage:   t.inboundMessage,
		inboundCtx:       t.inboundCtx,
		inputMessage:     routes,
	}
}
