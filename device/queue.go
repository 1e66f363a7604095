package device

import (
	"sync"

	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// RecordKind tags a Callback Queue Record's payload variant. Go has no
// native sum type; a Kind enum plus kind-specific payload fields beats
// an interface-per-kind here, since every kind is dispatched by a single
// switch in the Worker, not extended by third parties.
type RecordKind int

const (
	RecordDeviceTwin RecordKind = iota
	RecordEventConfirmation
	RecordReportedState
	RecordConnectionStatus
	RecordDeviceMethodSync
	RecordDeviceMethodAsync
	RecordInboundMessage
	RecordInputMessage
)

// EmptyMethodPayload is substituted whenever a service-originated method
// call carries a zero-length payload, so the application always observes
// a valid JSON scalar.
var EmptyMethodPayload = []byte("{}")

// Record is a single Callback Queue entry. Exactly the fields relevant
// to Kind are populated.
type Record struct {
	Kind RecordKind

	// DeviceTwin
	TwinUpdateKind  transport.TwinUpdateKind
	TwinPayload     []byte
	TwinOneShotCb   GetTwinCallback
	twinOneShotSet  bool

	// EventConfirmation / ReportedState
	ConfirmResult  ConfirmationResult
	EventCb        EventConfirmationCallback
	ReportedCb     ReportedStateCallback
	ReportedStatus int

	// ConnectionStatus
	ConnStatus transport.ConnectionStatus
	ConnReason transport.ConnectionStatusReason

	// DeviceMethod (sync and async)
	MethodInvocation transport.MethodInvocation

	// InboundMessage / InputMessage
	Message      transport.Message
	InputName    string
	inputHandler inputRoute

	UserContext any
}

// Queue is the bounded-growth FIFO of pending Records. Enqueue is called
// from LL-thread callbacks with the Serialization Lock already held;
// Drain performs the single moved-handoff the Worker uses to dispatch
// outside the Lock.
type Queue struct {
	mu      sync.Mutex
	records []Record
	logger  Logger
	metrics QueueMetricsSink
	name    string
}

// QueueMetricsSink lets observability/metrics.go observe queue depth and
// drops without the device package importing prometheus directly.
type QueueMetricsSink interface {
	ObserveDepth(clientID string, depth int)
	IncDropped(clientID string, kind RecordKind)
}

type nopQueueMetrics struct{}

func (nopQueueMetrics) ObserveDepth(string, int)       {}
func (nopQueueMetrics) IncDropped(string, RecordKind) {}

// NewQueue creates an empty Queue. name identifies the owning Client in
// logs and metrics.
func NewQueue(name string, logger Logger, metrics QueueMetricsSink) *Queue {
	if metrics == nil {
		metrics = nopQueueMetrics{}
	}
	return &Queue{logger: orNop(logger), metrics: metrics, name: name}
}

// Enqueue appends rec. Must be called with the Client's Serialization
// Lock held. O(1) amortized via Go's slice append.
func (q *Queue) Enqueue(rec Record) {
	q.mu.Lock()
	q.records = append(q.records, rec)
	depth := len(q.records)
	q.mu.Unlock()

	q.metrics.ObserveDepth(q.name, depth)
}

// dropWithDiagnostic counts a dropped record of the given kind and logs a
// diagnostic; nothing is propagated as an error to the LL. No enqueue
// path in this package calls it: Enqueue never drops a record.
func (q *Queue) dropWithDiagnostic(kind RecordKind, reason string) {
	q.metrics.IncDropped(q.name, kind)
	q.logger.Warn("callback_queue_record_dropped",
		"client", q.name, "kind", kind, "reason", reason)
}

// Drain atomically swaps the live slice for a fresh empty one and returns
// the moved copy. After Drain returns, the moved slice is exclusively
// owned by the caller (the Worker) and the Queue is empty for the next
// Enqueue wave. Must be called with the Lock held; the returned slice is
// safe to range over after releasing it.
func (q *Queue) Drain() []Record {
	q.mu.Lock()
	moved := q.records
	q.records = nil
	q.mu.Unlock()

	q.metrics.ObserveDepth(q.name, 0)
	return moved
}

// Len reports the current queue depth (diagnostic use only).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
