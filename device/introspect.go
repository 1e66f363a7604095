package device

// ClientSnapshot is a point-in-time view of a Client's health, used by the
// admin control plane (rpcserver) to answer ListClients/GetClientStatus
// without reaching into the Client's internals directly.
type ClientSnapshot struct {
	ID            string
	Stopped       bool
	WorkerStarted bool
	QueueDepth    int
	TasksInFlight int
}

// Snapshot returns the Client's current ClientSnapshot.
func (c *Client) Snapshot() ClientSnapshot {
	return ClientSnapshot{
		ID:            c.id,
		Stopped:       c.stopped.Load(),
		WorkerStarted: c.workerStarted.Load(),
		QueueDepth:    c.queue.Len(),
		TasksInFlight: c.tasks.InFlightCount(-1),
	}
}
