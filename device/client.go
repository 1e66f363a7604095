package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/bus"
	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// ClientMetricsSink bundles the metrics sinks a Client reports to. nil
// fields are replaced with no-ops, so device never requires the
// observability package to be wired in.
type ClientMetricsSink struct {
	Queue  QueueMetricsSink
	Tasks  TaskMetricsSink
	Worker WorkerMetricsSink
}

// WorkerMetricsSink observes Worker tick and per-record dispatch timing.
type WorkerMetricsSink interface {
	ObserveTick(clientID string, seconds float64)
	ObserveDispatch(clientID string, kind RecordKind, seconds float64)
}

type nopWorkerMetrics struct{}

func (nopWorkerMetrics) ObserveTick(string, float64)              {}
func (nopWorkerMetrics) ObserveDispatch(string, RecordKind, float64) {}

// Client is one logical device/module connection. It owns an LL handle (a
// transport.Provider), a Lock (owned or borrowed), at most one Worker
// goroutine, the Callback Queue, the Detached Task Registry, and the
// registered-callback table.
type Client struct {
	id       string
	logger   Logger
	provider transport.Provider

	lock *clientLock
	opts optionState

	queue         *Queue
	tasks         *TaskRegistry
	table         *callbackTable
	admission     *admissionControl
	oneShots      *oneShotRegistry
	workerMetrics WorkerMetricsSink

	stopped       atomic.Bool
	workerStarted atomic.Bool
	workerWG      sync.WaitGroup
	workerStopCh  chan struct{}

	shared           *transport.Shared
	unregisterShared func()
	unsubscribeBus   func()
	pendingMu        sync.Mutex
	pendingDispatch  []Record
}

// NewFromConnectionString is the "from-connection-string" construction
// variant: an exclusive Client with its own Lock and Worker.
func NewFromConnectionString(id, connectionString string, provider transport.Provider, logger Logger, cfg *ClientConfig) (*Client, error) {
	return newClient(id, connectionString, provider, logger, cfg, nil)
}

// NewFromConfig is the "from-config-struct" construction variant: same as
// NewFromConnectionString but makes the explicit-config intent clear at
// call sites that build a ClientConfig by hand rather than taking defaults.
func NewFromConfig(id, connectionString string, provider transport.Provider, logger Logger, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errInvalidArg("cfg must not be nil")
	}
	return newClient(id, connectionString, provider, logger, cfg, nil)
}

// NewFromEnvironment is the "from-environment" construction variant: uses
// the process-wide default config injected via SetDefaultClientConfig.
func NewFromEnvironment(id, connectionString string, provider transport.Provider, logger Logger) (*Client, error) {
	return newClient(id, connectionString, provider, logger, GetDefaultClientConfig(), nil)
}

// NewFromSharedTransport is the "from-existing-shared-transport"
// construction variant: the Client borrows its Lock from shared and
// contributes a do-work function to its multiplexed Worker instead of
// running one of its own.
func NewFromSharedTransport(id, connectionString string, provider transport.Provider, shared *transport.Shared, logger Logger, cfg *ClientConfig) (*Client, error) {
	if shared == nil {
		return nil, errInvalidArg("shared must not be nil")
	}
	return newClient(id, connectionString, provider, logger, cfg, shared)
}

func newClient(id, connectionString string, provider transport.Provider, logger Logger, cfg *ClientConfig, shared *transport.Shared) (*Client, error) {
	if provider == nil {
		return nil, errInvalidArg("provider must not be nil")
	}
	if connectionString == "" {
		return nil, errInvalidArg("connectionString must not be empty")
	}
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	log := orNop(logger)

	c := &Client{
		id:            id,
		logger:        log,
		provider:      provider,
		opts:          *newOptionState(cfg),
		queue:         NewQueue(id, log, nil),
		tasks:         NewTaskRegistry(id, log, nil),
		table:         newCallbackTable(),
		admission:     newAdmissionControl(cfg.MaxInFlightDetachedTasks),
		oneShots:      newOneShotRegistry(),
		workerMetrics: nopWorkerMetrics{},
		workerStopCh:  make(chan struct{}),
	}

	if shared != nil {
		c.shared = shared
		c.lock = newBorrowedLock(shared.Locker())
		c.wireSharedEvents()
	} else {
		c.lock = newOwnedLock()
	}

	callbacks := transport.Callbacks{
		OnDesiredTwin:      c.onDesiredTwin,
		OnConnectionStatus: c.onConnectionStatus,
		OnDeviceMethod:     c.onDeviceMethod,
		OnInboundMessage:   c.onInboundMessage,
		OnInputMessage:     c.onInputMessage,
	}
	if err := provider.Create(connectionString, callbacks); err != nil {
		return nil, err
	}

	return c, nil
}

// WithMetrics wires observability sinks into an already-constructed
// Client (kept separate from newClient so the observability package never
// needs to be imported by constructors that don't want it).
func (c *Client) WithMetrics(sink ClientMetricsSink) *Client {
	if sink.Queue != nil {
		c.queue.metrics = sink.Queue
	}
	if sink.Tasks != nil {
		c.tasks.metrics = sink.Tasks
	}
	if sink.Worker != nil {
		c.workerMetrics = sink.Worker
	}
	return c
}

// ID returns the Client's identity, used by the admin control plane.
func (c *Client) ID() string { return c.id }

// ---------------------------------------------------------------------
// Worker lifecycle (component D)
// ---------------------------------------------------------------------

// ensureWorkerStarted lazily starts the background Worker (or registers
// with the shared Transport) on the first operation that can generate
// async traffic. A Client that is created and immediately destroyed
// never starts a Worker.
func (c *Client) ensureWorkerStarted() {
	if c.stopped.Load() {
		return
	}
	if !c.workerStarted.CompareAndSwap(false, true) {
		return
	}
	if c.shared != nil {
		c.unregisterShared = c.shared.Register(c)
		c.shared.Start()
		return
	}

	c.workerWG.Add(1)
	go c.runWorker()
}

// runWorker is the Dispatch Worker loop, used only in exclusive
// (non-shared) mode: one LL tick, one GC sweep, and one queue move under
// the Lock, then dispatch and sleep with the Lock released.
func (c *Client) runWorker() {
	defer c.workerWG.Done()

	for {
		select {
		case <-c.workerStopCh:
			return
		default:
		}

		c.lock.Lock()
		if c.stopped.Load() {
			c.lock.Unlock()
			return
		}

		tickStart := time.Now()
		_ = safeExecute(c.logger, "worker_do_work", func() error {
			c.provider.DoWork(nil)
			return nil
		})
		_ = safeExecute(c.logger, "worker_gc_sweep", func() error {
			c.tasks.GCSweep()
			return nil
		})
		moved := c.queue.Drain()
		period := c.opts.tickPeriod()
		c.lock.Unlock()
		c.workerMetrics.ObserveTick(c.id, time.Since(tickStart).Seconds())

		c.dispatch(moved)

		select {
		case <-c.workerStopCh:
			return
		case <-time.After(time.Duration(period) * time.Millisecond):
		}
	}
}

// wireSharedEvents hooks this Client into the shared transport's bus: a
// status change on the one physical connection is published once by the
// transport and lands on every rider's Callback Queue, and send-status
// queries against this Client are answered here since it has no Worker
// of its own.
func (c *Client) wireSharedEvents() {
	events := c.shared.Events()

	unsub := events.Subscribe(transport.ConnectionStatusTopic, func(_ context.Context, m bus.Message) (any, error) {
		ev, ok := m.(transport.ConnectionStatusChanged)
		if !ok {
			return nil, nil
		}
		if c.stopped.Load() {
			return nil, nil
		}
		c.onConnectionStatus(ev.Status, ev.Reason)
		return nil, nil
	})

	topic := transport.SendStatusTopic(c.id)
	if err := events.RegisterHandler(topic, func(_ context.Context, _ bus.Message) (any, error) {
		c.lock.Lock()
		status := c.provider.GetSendStatus()
		c.lock.Unlock()
		return status, nil
	}); err != nil {
		c.logger.Warn("send_status_handler_registration_failed", "client", c.id, "error", err)
	}

	c.unsubscribeBus = func() {
		unsub()
		events.UnregisterHandler(topic)
	}
}

// TickLocked and DispatchPending implement transport.Contributor for
// shared-transport mode.
func (c *Client) TickLocked(ctx context.Context) {
	tickStart := time.Now()
	_ = safeExecute(c.logger, "worker_do_work", func() error {
		c.provider.DoWork(nil)
		return nil
	})
	_ = safeExecute(c.logger, "worker_gc_sweep", func() error {
		c.tasks.GCSweep()
		return nil
	})
	moved := c.queue.Drain()
	c.workerMetrics.ObserveTick(c.id, time.Since(tickStart).Seconds())

	c.pendingMu.Lock()
	c.pendingDispatch = moved
	c.pendingMu.Unlock()
}

func (c *Client) DispatchPending() {
	c.pendingMu.Lock()
	moved := c.pendingDispatch
	c.pendingDispatch = nil
	c.pendingMu.Unlock()

	c.dispatch(moved)
}
