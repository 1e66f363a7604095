package device

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// Every operation below follows the same recipe: validate arguments
// without taking the Lock, lazily start the Worker, take the Lock, call
// the LL, release the Lock, return a Result. No Go error or panic ever
// crosses these functions; Result is the complete outcome vocabulary.

// SendEvent forwards msg to the LL. cb fires exactly once, from the
// Worker's dispatch phase, with the broker's accept/reject outcome; cb
// may be nil.
func (c *Client) SendEvent(msg *transport.Message, cb EventConfirmationCallback, userCtx any) Result {
	if msg == nil {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	c.lock.Lock()
	id := c.oneShots.register(oneShotEntry{kind: RecordEventConfirmation, eventCb: cb, ctx: userCtx})
	err := c.provider.SendEventAsync(*msg, func(ok bool) {
		c.oneShots.resolve(id)
		result := ConfirmationOK
		if !ok {
			result = ConfirmationError
		}
		c.queue.Enqueue(Record{Kind: RecordEventConfirmation, ConfirmResult: result, EventCb: cb, UserContext: userCtx})
	})
	if err != nil {
		c.oneShots.resolve(id)
	}
	c.lock.Unlock()

	return resultFor(err)
}

// SendEventToOutput is SendEvent with an output name attached to msg
// before it reaches the LL. An empty output name is rejected before any
// message mutation.
func (c *Client) SendEventToOutput(msg *transport.Message, outputName string, cb EventConfirmationCallback, userCtx any) Result {
	if msg == nil {
		return ResultInvalidArg
	}
	if outputName == "" {
		return ResultInvalidArg
	}
	withOutput := *msg
	withOutput.OutputName = outputName
	return c.SendEvent(&withOutput, cb, userCtx)
}

// GetSendStatus reports IDLE or BUSY, consistent with the LL at the
// moment of the call. In shared-transport mode the answer comes back
// over the transport's bus, from the query handler this Client
// registered at construction, since it has no Worker of its own.
func (c *Client) GetSendStatus() (transport.SendStatus, Result) {
	if c.stopped.Load() {
		return transport.SendStatusIdle, ResultError
	}
	if c.shared != nil {
		answer, err := c.shared.Events().QuerySync(context.Background(), transport.SendStatusQuery{ClientID: c.id})
		if err != nil {
			c.logger.Warn("send_status_query_failed", "client", c.id, "error", err)
			return transport.SendStatusIdle, ResultError
		}
		status, ok := answer.(transport.SendStatus)
		if !ok {
			return transport.SendStatusIdle, ResultError
		}
		return status, ResultOK
	}
	c.lock.Lock()
	status := c.provider.GetSendStatus()
	c.lock.Unlock()
	return status, ResultOK
}

// SetMessageCallback replaces the standing inbound-message handler;
// passing a nil handler unregisters it.
func (c *Client) SetMessageCallback(handler MessageCallback, ctx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setInboundMessage(handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// SetInputMessageCallback registers a per-route handler, name-qualified.
func (c *Client) SetInputMessageCallback(inputName string, handler InputMessageCallback, ctx any) Result {
	if inputName == "" {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setInputMessage(inputName, handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// SetConnectionStatusCallback replaces the standing connection-status handler.
func (c *Client) SetConnectionStatusCallback(handler ConnectionStatusCallback, ctx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setConnectionStatus(handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// SetRetryPolicy forwards the retry policy to the LL.
func (c *Client) SetRetryPolicy(policy int, retryTimeoutSec int) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.lock.Lock()
	err := c.provider.SetRetryPolicy(policy, retryTimeoutSec)
	c.lock.Unlock()
	return resultFor(err)
}

// GetRetryPolicy returns the currently configured retry policy.
func (c *Client) GetRetryPolicy() (policy int, retryTimeoutSec int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.provider.GetRetryPolicy()
}

// SetDeviceTwinCallback registers the standing desired-twin handler;
// passing (nil, nil) disables subsequent dispatches.
func (c *Client) SetDeviceTwinCallback(handler DeviceTwinCallback, ctx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setDesiredTwin(handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// SendReportedState forwards a reported-state patch; cb fires once with
// the service's status code.
func (c *Client) SendReportedState(payload []byte, cb ReportedStateCallback, userCtx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	c.lock.Lock()
	id := c.oneShots.register(oneShotEntry{kind: RecordReportedState, reportedCb: cb, ctx: userCtx})
	err := c.provider.SendReportedState(payload, func(statusCode int) {
		c.oneShots.resolve(id)
		c.queue.Enqueue(Record{Kind: RecordReportedState, ReportedCb: cb, ReportedStatus: statusCode, UserContext: userCtx})
	})
	if err != nil {
		c.oneShots.resolve(id)
	}
	c.lock.Unlock()

	return resultFor(err)
}

// GetTwinAsync requests the full twin document; cb fires exactly once
// with the payload, or (nil, ...) on failure.
func (c *Client) GetTwinAsync(cb GetTwinCallback, userCtx any) Result {
	if cb == nil {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	c.lock.Lock()
	id := c.oneShots.register(oneShotEntry{kind: RecordDeviceTwin, twinCb: cb, ctx: userCtx})
	err := c.provider.GetTwinAsync(func(payload []byte, ok bool) {
		c.oneShots.resolve(id)
		var body []byte
		if ok {
			body = payload
		}
		c.queue.Enqueue(Record{Kind: RecordDeviceTwin, twinOneShotSet: true, TwinOneShotCb: cb, TwinPayload: body, UserContext: userCtx})
	})
	if err != nil {
		c.oneShots.resolve(id)
	}
	c.lock.Unlock()

	return resultFor(err)
}

// SetDeviceMethodCallback registers the synchronous-response method
// handler, replacing any asynchronous-response handler (the two flavours
// are mutually exclusive; see callbackTable.setMethodSync).
func (c *Client) SetDeviceMethodCallback(handler DeviceMethodCallback, ctx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setMethodSync(handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// SetDeviceMethodCallbackEx registers the asynchronous-response method
// handler: the handler is invoked and must later call
// Client.DeviceMethodResponse with the supplied methodID.
func (c *Client) SetDeviceMethodCallbackEx(handler DeviceMethodCallbackEx, ctx any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()
	c.lock.Lock()
	c.table.setMethodAsync(handler, ctx)
	c.lock.Unlock()
	return ResultOK
}

// DeviceMethodResponse ships an async-response-flow method reply.
func (c *Client) DeviceMethodResponse(methodID string, payload []byte, status int) Result {
	if methodID == "" {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.lock.Lock()
	err := c.provider.DeviceMethodResponse(methodID, payload, status)
	c.lock.Unlock()
	return resultFor(err)
}

// UploadToBlobAsync runs a single-shot blob upload in a Detached Task. cb
// fires once with OK/Error; source is copied before this call returns so
// the caller may free its buffer immediately.
func (c *Client) UploadToBlobAsync(destinationName string, source []byte, cb UploadCallback, userCtx any) Result {
	if destinationName == "" {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	src := copyBytes(source)

	c.lock.Lock()
	defer c.lock.Unlock()

	admitted := c.admission.check(c.tasks.InFlightCount(-1))
	if !admitted.Allowed {
		c.logger.Warn("upload_to_blob_rejected", "client", c.id, "reason", admitted.Reason, "in_flight", admitted.InFlight, "limit", admitted.Limit)
		return ResultError
	}

	c.tasks.AddTask(TaskBlobUploadSingle, userCtx, func(rec *TaskRecord) {
		defer rec.markCollectible()
		err := c.provider.UploadToBlob(context.Background(), destinationName, src)
		if cb == nil {
			return
		}
		result := ConfirmationOK
		if err != nil {
			result = ConfirmationError
		}
		c.invoke("blob_upload_callback", func() { cb(result, userCtx) })
	})
	return ResultOK
}

// UploadMultipleBlocksToBlobAsync drives a multi-block upload: the LL
// repeatedly calls produceBlock until it signals end of data.
func (c *Client) UploadMultipleBlocksToBlobAsync(destinationName string, produceBlock BlockDataProducer, cb UploadCallback, userCtx any) Result {
	if destinationName == "" {
		return ResultInvalidArg
	}
	if produceBlock == nil {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	c.lock.Lock()
	defer c.lock.Unlock()

	admitted := c.admission.check(c.tasks.InFlightCount(-1))
	if !admitted.Allowed {
		c.logger.Warn("upload_multiblock_rejected", "client", c.id, "reason", admitted.Reason, "in_flight", admitted.InFlight, "limit", admitted.Limit)
		return ResultError
	}

	c.tasks.AddTask(TaskBlobUploadMultiblock, userCtx, func(rec *TaskRecord) {
		defer rec.markCollectible()
		err := c.provider.UploadMultipleBlocksToBlob(context.Background(), destinationName, produceBlock)
		if cb == nil {
			return
		}
		result := ConfirmationOK
		if err != nil {
			result = ConfirmationError
		}
		c.invoke("blob_upload_callback", func() { cb(result, userCtx) })
	})
	return ResultOK
}

// InvokeMethodAsync performs a device-to-device/module method invoke over
// HTTP in a Detached Task, since that exchange must not stall the
// cooperative LL loop.
func (c *Client) InvokeMethodAsync(req transport.MethodInvokeRequest, cb MethodInvokeCallback, userCtx any) Result {
	if req.DeviceID == "" || req.MethodName == "" {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.ensureWorkerStarted()

	c.lock.Lock()
	defer c.lock.Unlock()

	admitted := c.admission.check(c.tasks.InFlightCount(-1))
	if !admitted.Allowed {
		c.logger.Warn("method_invoke_rejected", "client", c.id, "reason", admitted.Reason, "in_flight", admitted.InFlight, "limit", admitted.Limit)
		return ResultError
	}

	c.tasks.AddTask(TaskMethodInvoke, userCtx, func(rec *TaskRecord) {
		defer rec.markCollectible()
		resp, err := c.provider.InvokeMethod(context.Background(), req)
		if cb == nil {
			return
		}
		result := ConfirmationOK
		if err != nil {
			result = ConfirmationError
		}
		c.invoke("method_invoke_callback", func() { cb(result, resp, userCtx) })
	})
	return ResultOK
}

// SendMessageDisposition is used when an inbound handler returned
// AsyncAck, to supply the disposition out of band.
func (c *Client) SendMessageDisposition(msg *transport.Message, disposition transport.Disposition) Result {
	if msg == nil {
		return ResultInvalidArg
	}
	if c.stopped.Load() {
		return ResultError
	}
	c.lock.Lock()
	err := c.provider.SendMessageDisposition(*msg, disposition)
	c.lock.Unlock()
	return resultFor(err)
}

// SetOption intercepts three option names (the two core-owned ones,
// do_work_freq_ms and messageTimeout, plus the Go-native
// maxInFlightDetachedTasks admission knob); every other name is forwarded
// verbatim to the LL.
func (c *Client) SetOption(name string, value any) Result {
	if c.stopped.Load() {
		return ResultError
	}
	switch name {
	case OptionDoWorkFreqMS:
		ms, ok := toInt(value)
		if !ok {
			return ResultInvalidArg
		}
		c.lock.Lock()
		err := c.opts.setTickPeriod(ms)
		c.lock.Unlock()
		return resultFor(err)

	case OptionMessageTimeout:
		ms, ok := toInt(value)
		if !ok {
			return ResultInvalidArg
		}
		c.lock.Lock()
		err := c.opts.setMessageTimeout(ms)
		c.lock.Unlock()
		return resultFor(err)

	case OptionMaxInFlightDetachedTasks:
		limit, ok := toInt(value)
		if !ok || limit <= 0 {
			return ResultInvalidArg
		}
		c.admission.setLimit(limit)
		return ResultOK

	default:
		c.lock.Lock()
		err := c.provider.SetOption(name, value)
		c.lock.Unlock()
		return resultFor(err)
	}
}

// toInt coerces the option-value vocabulary SetOption callers are likely
// to pass (the config package's float64/int dual-assertion idiom,
// extended to the integer types a Go caller would naturally reach for).
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// ---------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------

// Destroy tears the Client down: every pending one-shot callback fires
// with an abort result, and Destroy does not return until the Worker and
// every Detached Task have joined. Idempotent.
func (c *Client) Destroy() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}

	// (1) Signal the shared Transport, if any, to stop driving this
	// Client; the Transport itself (and its other Contributors) lives on.
	if c.shared != nil && c.unregisterShared != nil {
		c.unregisterShared()
	}
	if c.unsubscribeBus != nil {
		c.unsubscribeBus()
	}

	// (2) The stop flag above is read by runWorker on its next Lock
	// acquisition (in shared mode, step 1 already removed this Client
	// from the Transport's rotation); briefly taking the Lock here ensures
	// we don't race a worker pass that is already in flight.
	c.lock.Lock()
	c.lock.Unlock()

	// (3)+(4) Join the Worker (exclusive mode only; shared mode has none).
	if c.shared == nil && c.workerStarted.Load() {
		close(c.workerStopCh)
		c.workerWG.Wait()
	}

	// (5) Drain Detached Tasks: release/sleep/reacquire/gc_sweep until none remain.
	c.tasks.Drain(c.lock, func() { time.Sleep(c.drainSleepPeriod()) })

	// (6) Destroy the LL.
	c.lock.Lock()
	c.provider.Destroy()
	c.lock.Unlock()

	// (7) Any one-shot callback the LL never got around to confirming
	// (Destroy racing an in-flight SendEventAsync) fires now with its
	// abort result; see device/oneshot.go.
	c.dispatchAbortOneShots(c.oneShots.drainAbort())

	// (8) Any record still in the Queue never got a Worker dispatch pass;
	// fire abort for the one-shot kinds among them.
	residual := c.queue.Drain()
	c.dispatchAbort(residual)
}

// drainSleepPeriod is the tick period used while draining Detached Tasks
// during teardown: the current tick period option, or DefaultTickPeriodMS
// if that value is not positive.
func (c *Client) drainSleepPeriod() time.Duration {
	c.lock.Lock()
	ms := c.opts.tickPeriod()
	c.lock.Unlock()
	if ms <= 0 {
		ms = DefaultTickPeriodMS
	}
	return time.Duration(ms) * time.Millisecond
}
