package device

import (
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// ---------------------------------------------------------------------
// LL-thread thunks. Every function in this block is invoked synchronously
// from transport.Provider.DoWork, with the Serialization Lock already
// held by the Worker. Each one only builds a Record and enqueues it:
// bounded, non-blocking work.
// ---------------------------------------------------------------------

// onDesiredTwin handles the LL's standing desired-twin notification. A
// genuinely empty twin document is meaningful and is NOT substituted
// with EmptyMethodPayload; only the method-call path gets that
// treatment, since a method call truly has no arguments.
func (c *Client) onDesiredTwin(kind transport.TwinUpdateKind, payload []byte) {
	c.queue.Enqueue(Record{
		Kind:           RecordDeviceTwin,
		TwinUpdateKind: kind,
		TwinPayload:    copyBytes(payload),
	})
}

// onConnectionStatus handles the LL's standing connection-status notification.
func (c *Client) onConnectionStatus(status transport.ConnectionStatus, reason transport.ConnectionStatusReason) {
	c.queue.Enqueue(Record{
		Kind:       RecordConnectionStatus,
		ConnStatus: status,
		ConnReason: reason,
	})
}

// onDeviceMethod handles an inbound device-method invocation. Which Record
// Kind it becomes (sync vs async) is decided here, once, from whichever
// handler flavour is currently registered — setMethodSync/setMethodAsync
// keep the two mutually exclusive, so this check is unambiguous.
func (c *Client) onDeviceMethod(inv transport.MethodInvocation) {
	if len(inv.Payload) == 0 {
		inv.Payload = EmptyMethodPayload
	} else {
		inv.Payload = copyBytes(inv.Payload)
	}

	kind := RecordDeviceMethodSync
	if c.table.isMethodAsync() {
		kind = RecordDeviceMethodAsync
	}
	c.queue.Enqueue(Record{Kind: kind, MethodInvocation: inv})
}

// onInboundMessage handles a standing inbound-message delivery. The
// returned Disposition is always AsyncAck: the real disposition is
// decided by the Worker's dispatch phase (outside the Lock) and shipped
// back via a later SendMessageDisposition call.
func (c *Client) onInboundMessage(msg transport.Message) transport.Disposition {
	c.queue.Enqueue(Record{Kind: RecordInboundMessage, Message: msg})
	return transport.DispositionAsyncAck
}

// onInputMessage is the input-route-keyed counterpart of onInboundMessage.
// The route's handler is captured into the record now, not re-resolved
// from the table at dispatch time, so a route removed between enqueue
// and dispatch still delivers to the handler that was live when the
// message arrived.
func (c *Client) onInputMessage(inputName string, msg transport.Message) transport.Disposition {
	route, _ := c.table.lookupInputRoute(inputName)
	c.queue.Enqueue(Record{
		Kind:         RecordInputMessage,
		Message:      msg,
		InputName:    inputName,
		inputHandler: route,
	})
	return transport.DispositionAsyncAck
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ---------------------------------------------------------------------
// Worker dispatch phase. Runs outside the Serialization Lock; any
// re-entry into the LL (method response, message disposition) takes the
// Lock again for just that call.
// ---------------------------------------------------------------------

// dispatch fires the user callback for every Record moved out of the
// Callback Queue by one Drain. Takes a single table snapshot up front
// rather than re-reading the table per record; the snapshot is a
// point-in-time copy safe to reuse across the batch.
func (c *Client) dispatch(records []Record) {
	if len(records) == 0 {
		return
	}
	snap := c.table.snapshot()
	for _, rec := range records {
		start := time.Now()
		c.dispatchOne(rec, snap)
		c.workerMetrics.ObserveDispatch(c.id, rec.Kind, time.Since(start).Seconds())
	}
}

func (c *Client) dispatchOne(rec Record, snap tableSnapshot) {
	switch rec.Kind {
	case RecordDeviceTwin:
		c.dispatchDeviceTwin(rec, snap)
	case RecordEventConfirmation:
		if rec.EventCb != nil {
			c.invoke("event_confirmation_callback", func() { rec.EventCb(rec.ConfirmResult, rec.UserContext) })
		}
	case RecordReportedState:
		if rec.ReportedCb != nil {
			c.invoke("reported_state_callback", func() { rec.ReportedCb(rec.ReportedStatus, rec.UserContext) })
		}
	case RecordConnectionStatus:
		if snap.connectionStatus != nil {
			c.invoke("connection_status_callback", func() {
				snap.connectionStatus(rec.ConnStatus, rec.ConnReason, snap.connectionCtx)
			})
		}
	case RecordDeviceMethodSync:
		c.dispatchMethodSync(rec, snap)
	case RecordDeviceMethodAsync:
		if snap.methodAsync != nil {
			c.invoke("device_method_async_callback", func() {
				snap.methodAsync(rec.MethodInvocation.MethodName, rec.MethodInvocation.Payload, rec.MethodInvocation.MethodID, snap.methodAsyncCtx)
			})
		}
	case RecordInboundMessage:
		if snap.inboundMessage != nil {
			c.dispatchInboundMessage(rec, snap.inboundMessage, snap.inboundCtx)
		}
	case RecordInputMessage:
		if rec.inputHandler.cb != nil {
			c.dispatchInputMessage(rec)
		}
	}
}

func (c *Client) dispatchDeviceTwin(rec Record, snap tableSnapshot) {
	if rec.twinOneShotSet {
		if rec.TwinOneShotCb != nil {
			c.invoke("get_twin_callback", func() { rec.TwinOneShotCb(rec.TwinPayload, rec.UserContext) })
		}
		return
	}
	if snap.desiredTwin != nil {
		c.invoke("desired_twin_callback", func() {
			snap.desiredTwin(rec.TwinUpdateKind, rec.TwinPayload, snap.desiredTwinCtx)
		})
	}
}

// dispatchMethodSync invokes the sync-response method handler and, if it
// produced a non-empty response, re-acquires the Lock to ship it. A
// zero-size response never reaches the LL.
func (c *Client) dispatchMethodSync(rec Record, snap tableSnapshot) {
	if snap.methodSync == nil {
		return
	}
	var response []byte
	var status int
	c.invoke("device_method_sync_callback", func() {
		response, status = snap.methodSync(rec.MethodInvocation.MethodName, rec.MethodInvocation.Payload, snap.methodSyncCtx)
	})
	if len(response) == 0 {
		return
	}
	c.lock.Lock()
	err := c.provider.DeviceMethodResponse(rec.MethodInvocation.MethodID, response, status)
	c.lock.Unlock()
	if err != nil {
		c.logger.Warn("device_method_response_failed", "client", c.id, "method_id", rec.MethodInvocation.MethodID, "error", err)
	}
}

func (c *Client) dispatchInboundMessage(rec Record, cb MessageCallback, ctx any) {
	disposition := transport.DispositionAsyncAck
	c.invoke("inbound_message_callback", func() { disposition = cb(rec.Message, ctx) })
	c.shipDisposition(rec.Message, disposition)
}

func (c *Client) dispatchInputMessage(rec Record) {
	disposition := transport.DispositionAsyncAck
	c.invoke("input_message_callback", func() {
		disposition = rec.inputHandler.cb(rec.InputName, rec.Message, rec.inputHandler.ctx)
	})
	c.shipDisposition(rec.Message, disposition)
}

// shipDisposition re-acquires the Lock to forward disposition to the LL,
// unless the handler returned AsyncAck (meaning the application will call
// SendMessageDisposition explicitly later).
func (c *Client) shipDisposition(msg transport.Message, disposition transport.Disposition) {
	if disposition == transport.DispositionAsyncAck {
		return
	}
	c.lock.Lock()
	err := c.provider.SendMessageDisposition(msg, disposition)
	c.lock.Unlock()
	if err != nil {
		c.logger.Warn("send_message_disposition_failed", "client", c.id, "error", err)
	}
}

// invoke runs fn under panic recovery so a misbehaving user callback
// cannot take down the Worker goroutine.
func (c *Client) invoke(operation string, fn func()) {
	_ = safeExecute(c.logger, operation, func() error {
		fn()
		return nil
	})
}

// dispatchAbort is the teardown-time counterpart of dispatch: every
// one-shot callback still pending in the Queue at Destroy fires with an
// abort result, so no pending notification is silently lost. Standing
// handlers never receive a teardown notification, so ConnectionStatus,
// DeviceMethodSync/Async, InboundMessage, and InputMessage records are
// simply dropped here.
func (c *Client) dispatchAbort(records []Record) {
	for _, rec := range records {
		switch rec.Kind {
		case RecordEventConfirmation:
			if rec.EventCb != nil {
				c.invoke("event_confirmation_callback_abort", func() { rec.EventCb(ConfirmationBecauseDestroy, rec.UserContext) })
			}
		case RecordReportedState:
			if rec.ReportedCb != nil {
				c.invoke("reported_state_callback_abort", func() { rec.ReportedCb(ReportedStateAbortStatus, rec.UserContext) })
			}
		case RecordDeviceTwin:
			if rec.twinOneShotSet && rec.TwinOneShotCb != nil {
				c.invoke("get_twin_callback_abort", func() { rec.TwinOneShotCb(nil, rec.UserContext) })
			}
		}
	}
}

// ReportedStateAbortStatus is delivered to a pending SendReportedState
// callback that is still in the Queue at Destroy, standing in for the
// broker status code that will now never arrive.
const ReportedStateAbortStatus = -1
