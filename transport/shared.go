package transport

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/bus"
)

// Contributor is implemented by a device.Client operating in shared-transport
// (multiplexed) mode. Shared drives every registered Contributor's LL tick
// under its own single Lock, then lets each Contributor dispatch its queue
// outside that Lock, so user callbacks still never fire under the Lock.
type Contributor interface {
	// TickLocked runs one LL-do-work + gc_sweep + queue-move pass. Called
	// with Shared's Lock held.
	TickLocked(ctx context.Context)

	// DispatchPending fires the user callbacks moved out of the queue by
	// the most recent TickLocked call. Called with the Lock released.
	DispatchPending()
}

// Shared is a multiplexed Transport: several logical Clients borrow its
// single mutex and are driven by its single background Worker, instead of
// each Client owning its own Lock and Worker (the "exclusive" variant in
// device.Client).
type Shared struct {
	mu         sync.Mutex
	tickPeriod time.Duration
	events     *bus.InMemoryBus

	regMu        sync.Mutex
	contributors map[int]Contributor
	nextID       int

	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewShared creates a Shared transport with the given tick period. The
// multiplexed worker is not started until Start is called.
func NewShared(tickPeriod time.Duration) *Shared {
	if tickPeriod <= 0 {
		tickPeriod = DefaultMultiplexTickPeriod
	}
	return &Shared{
		tickPeriod:   tickPeriod,
		events:       bus.New(time.Second, nil),
		contributors: make(map[int]Contributor),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Events exposes the bus carrying this transport's connection-status
// fan-out and per-client send-status queries.
func (s *Shared) Events() *bus.InMemoryBus { return s.events }

// BroadcastConnectionStatus publishes one status change for the shared
// connection; every registered Client's subscription turns it into a
// ConnectionStatus record on that Client's own Callback Queue.
func (s *Shared) BroadcastConnectionStatus(status ConnectionStatus, reason ConnectionStatusReason) {
	_ = s.events.Publish(context.Background(), ConnectionStatusChanged{Status: status, Reason: reason})
}

// DefaultMultiplexTickPeriod is used when Shared is constructed with a
// non-positive tick period.
const DefaultMultiplexTickPeriod = 10 * time.Millisecond

// Locker exposes the borrowed mutex a Client in shared mode must acquire
// instead of creating its own. The Client must never deinitialize a mutex
// it does not own; here it only ever calls Lock/Unlock, never any
// destructive operation, honoring the "must not deinitialize a borrowed
// mutex" invariant.
func (s *Shared) Locker() sync.Locker { return &s.mu }

// Register adds a Contributor to the multiplexed rotation and returns an
// idempotent unregister function.
func (s *Shared) Register(c Contributor) (unregister func()) {
	s.regMu.Lock()
	id := s.nextID
	s.nextID++
	s.contributors[id] = c
	s.regMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.regMu.Lock()
			delete(s.contributors, id)
			s.regMu.Unlock()
		})
	}
}

// Start launches the multiplexed worker loop, if not already running.
func (s *Shared) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Stop signals the multiplexed worker to exit and waits for it to do so.
// Safe to call even if Start never ran (no Client ever produced traffic);
// in that case it also prevents a later Start from launching the loop.
func (s *Shared) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.startOnce.Do(func() {
		close(s.done)
	})
	<-s.done
}

func (s *Shared) snapshot() []Contributor {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	out := make([]Contributor, 0, len(s.contributors))
	for _, c := range s.contributors {
		out = append(out, c)
	}
	return out
}

func (s *Shared) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		contributors := s.snapshot()

		s.mu.Lock()
		for _, c := range contributors {
			c.TickLocked(context.Background())
		}
		s.mu.Unlock()

		for _, c := range contributors {
			c.DispatchPending()
		}
	}
}
