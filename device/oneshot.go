package device

import "sync"

// oneShotEntry tracks a one-shot callback between the moment the Facade
// hands it to the LL and the moment the LL-thread thunk resolves it into
// a Callback Queue Record. The LL owns its own pending-message
// bookkeeping; what this registry backs is the guarantee that every
// one-shot callback fires exactly once, including BECAUSE_DESTROY when
// no LL confirmation ever arrives. It is what lets Destroy find and
// abort callbacks the LL never got around to confirming.
type oneShotEntry struct {
	kind       RecordKind
	eventCb    EventConfirmationCallback
	reportedCb ReportedStateCallback
	twinCb     GetTwinCallback
	ctx        any
}

type oneShotRegistry struct {
	mu      sync.Mutex
	next    int
	entries map[int]oneShotEntry
}

func newOneShotRegistry() *oneShotRegistry {
	return &oneShotRegistry{entries: make(map[int]oneShotEntry)}
}

// register records a one-shot callback as in-flight and returns a handle
// to resolve it by. Must be called with the Serialization Lock held (it
// is always called from inside a Facade operation's locked section,
// immediately before the matching provider call).
func (r *oneShotRegistry) register(e oneShotEntry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.entries[id] = e
	return id
}

// resolve removes id from the in-flight set; called once the LL-thread
// thunk has turned the callback into a real Callback Queue Record (or
// once the Facade call failed synchronously and the callback will never
// fire at all).
func (r *oneShotRegistry) resolve(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// drainAbort empties the registry and returns everything still in
// flight, for Destroy to fire with an abort result.
func (r *oneShotRegistry) drainAbort() []oneShotEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]oneShotEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.entries = make(map[int]oneShotEntry)
	return out
}

// dispatchAbortOneShots fires every still-pending one-shot callback with
// its abort result. Used only by Destroy, after the LL itself has been
// torn down.
func (c *Client) dispatchAbortOneShots(entries []oneShotEntry) {
	for _, e := range entries {
		switch e.kind {
		case RecordEventConfirmation:
			if e.eventCb != nil {
				c.invoke("event_confirmation_callback_abort", func() { e.eventCb(ConfirmationBecauseDestroy, e.ctx) })
			}
		case RecordReportedState:
			if e.reportedCb != nil {
				c.invoke("reported_state_callback_abort", func() { e.reportedCb(ReportedStateAbortStatus, e.ctx) })
			}
		case RecordDeviceTwin:
			if e.twinCb != nil {
				c.invoke("get_twin_callback_abort", func() { e.twinCb(nil, e.ctx) })
			}
		}
	}
}
