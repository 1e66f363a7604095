package device

import (
	"sync"

	"github.com/google/uuid"
)

// TaskType tags a Detached Task Record's kind.
type TaskType int

const (
	TaskBlobUploadSingle TaskType = iota
	TaskBlobUploadMultiblock
	TaskMethodInvoke
)

func (t TaskType) String() string {
	switch t {
	case TaskBlobUploadSingle:
		return "blob_upload_single"
	case TaskBlobUploadMultiblock:
		return "blob_upload_multiblock"
	case TaskMethodInvoke:
		return "method_invoke"
	default:
		return "unknown"
	}
}

// TaskState is the lifecycle of a Detached Task Record; transitions are
// validated against taskValidTransitions.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCollectible
	TaskJoined
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCollectible:
		return "collectible"
	case TaskJoined:
		return "joined"
	default:
		return "unknown"
	}
}

var taskValidTransitions = map[TaskState]map[TaskState]bool{
	TaskPending:     {TaskRunning: true},
	TaskRunning:     {TaskCollectible: true},
	TaskCollectible: {TaskJoined: true},
	TaskJoined:      {},
}

// TaskRecord is a Detached Task Record: the handle for one in-flight HTTP
// worker goroutine (blob upload or method invoke) plus the per-record
// mutex guarding its collectible flag.
type TaskRecord struct {
	ID       string
	Type     TaskType
	UserCtx  any

	stateMu sync.Mutex
	state   TaskState

	done chan struct{} // closed when the goroutine body returns
}

func newTaskRecord(typ TaskType, userCtx any) *TaskRecord {
	return &TaskRecord{
		ID:      uuid.NewString(),
		Type:    typ,
		UserCtx: userCtx,
		state:   TaskPending,
		done:    make(chan struct{}),
	}
}

func (r *TaskRecord) transition(to TaskState) bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !taskValidTransitions[r.state][to] {
		return false
	}
	r.state = to
	return true
}

// markCollectible is called by the task goroutine just before exit,
// flipping the collectible flag under the record's own mutex. The task
// may flip the flag after the Worker has inspected the record; the
// per-record mutex bounds that race to the flag itself. Only the first
// call has an effect, so a second call (AddTask's panic handler after the
// body's own deferred call) is harmless.
func (r *TaskRecord) markCollectible() {
	if r.transition(TaskCollectible) {
		close(r.done)
	}
}

func (r *TaskRecord) isCollectible() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state == TaskCollectible
}

// TaskRegistry tracks in-flight HTTP worker tasks and joins completed
// ones via GCSweep. Mutated only under the Client's Serialization Lock,
// except for the per-record collectible flag.
type TaskRegistry struct {
	mu      sync.Mutex
	records []*TaskRecord
	logger  Logger
	metrics TaskMetricsSink
	name    string
}

// TaskMetricsSink lets observability/metrics.go observe in-flight task
// counts without the device package importing prometheus directly.
type TaskMetricsSink interface {
	SetInFlight(clientID string, taskType TaskType, n int)
}

type nopTaskMetrics struct{}

func (nopTaskMetrics) SetInFlight(string, TaskType, int) {}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry(name string, logger Logger, metrics TaskMetricsSink) *TaskRegistry {
	if metrics == nil {
		metrics = nopTaskMetrics{}
	}
	return &TaskRegistry{logger: orNop(logger), metrics: metrics, name: name}
}

// AddTask appends a new record for typ/userCtx, transitions it to
// Running, spawns fn(record) under panic recovery, and returns the
// record. Must be called with the Serialization Lock held. fn must call
// record.markCollectible() before returning (the Facade's task bodies do
// so with defer); if fn panics, AddTask marks the record collectible.
func (reg *TaskRegistry) AddTask(typ TaskType, userCtx any, fn func(rec *TaskRecord)) *TaskRecord {
	rec := newTaskRecord(typ, userCtx)
	rec.transition(TaskRunning)

	reg.mu.Lock()
	reg.records = append(reg.records, rec)
	n := reg.countLocked(typ)
	reg.mu.Unlock()

	reg.metrics.SetInFlight(reg.name, typ, n)

	safeGo(reg.logger, "detached_task:"+typ.String(), func() {
		fn(rec)
	}, func(recovered any) {
		// The task body panicked; mark the record collectible (a no-op
		// if the body's deferred call already did) so GCSweep can still
		// reclaim it.
		rec.markCollectible()
	})

	return rec
}

func (reg *TaskRegistry) countLocked(typ TaskType) int {
	n := 0
	for _, r := range reg.records {
		if r.Type == typ {
			n++
		}
	}
	return n
}

// InFlightCount returns the number of records whose task is still running
// (not yet collectible), optionally filtered by type (pass -1 for all
// types). Used by admission control.
func (reg *TaskRegistry) InFlightCount(typ TaskType) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	for _, r := range reg.records {
		if typ >= 0 && r.Type != typ {
			continue
		}
		if r.isCollectible() {
			continue
		}
		n++
	}
	return n
}

// GCSweep iterates the registry; for each record whose collectible flag
// is set, joins it, unlinks it, and drops it. Records not yet collectible
// are skipped, not retried within the same sweep; the next Worker tick's
// sweep picks them up. Must be called with the Lock held.
func (reg *TaskRegistry) GCSweep() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	kept := reg.records[:0]
	for _, r := range reg.records {
		if !r.isCollectible() {
			kept = append(kept, r)
			continue
		}
		<-r.done // already closed by markCollectible; join is instantaneous
		r.transition(TaskJoined)
	}
	reg.records = kept

	for _, typ := range []TaskType{TaskBlobUploadSingle, TaskBlobUploadMultiblock, TaskMethodInvoke} {
		reg.metrics.SetInFlight(reg.name, typ, reg.countLocked(typ))
	}
}

// Drain blocks, repeatedly releasing/reacquiring the caller-supplied lock
// and sleeping between GCSweep passes, until every record has been
// joined. Used by Destroy.
func (reg *TaskRegistry) Drain(lock sync.Locker, sleep func()) {
	for {
		lock.Lock()
		reg.GCSweep()
		remaining := len(reg.records)
		lock.Unlock()

		if remaining == 0 {
			return
		}
		sleep()
	}
}
