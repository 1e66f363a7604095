package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberEntry holds a subscriber with its unique ID for proper unsubscribe support.
type subscriberEntry struct {
	id      string
	handler HandlerFunc
}

// InMemoryBus is an in-memory implementation of Bus.
//
// Thread-safe event bus for single-process deployments: one shared
// transport, several Clients, one operator process.
//
// Usage:
//
//	b := bus.New(time.Second, logger)
//
//	// Register handlers
//	b.RegisterHandler(sendStatusTopic, statusHandler)
//	b.Subscribe(connectionStatusTopic, queueHandler)
//
//	// Use the bus
//	b.Publish(ctx, ConnectionStatusChanged{...})
//	status, _ := b.QuerySync(ctx, SendStatusQuery{ClientID: "d1"})
type InMemoryBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscriberEntry
	middleware   []Middleware
	queryTimeout time.Duration
	nextSubID    uint64 // atomic counter for unique subscriber IDs
	logger       Logger
	mu           sync.RWMutex
}

// New creates an InMemoryBus. A nil logger disables logging.
func New(queryTimeout time.Duration, logger Logger) *InMemoryBus {
	if logger == nil {
		logger = noopLogger{}
	}
	if queryTimeout <= 0 {
		queryTimeout = time.Second
	}
	return &InMemoryBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscriberEntry),
		middleware:   make([]Middleware, 0),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Publish publishes an event to all subscribers of its topic.
// Subscribers run concurrently; a subscriber error is logged but does not
// stop the other subscribers.
func (b *InMemoryBus) Publish(ctx context.Context, event Message) error {
	topic := event.Topic()

	processed, err := b.runMiddlewareBefore(ctx, event)
	if err != nil {
		return err
	}
	if processed == nil {
		b.logger.Debug("event_aborted_by_middleware", "topic", topic)
		return nil
	}

	// Copy the entries so the lock is not held during handler execution.
	b.mu.RLock()
	entries := b.subscribers[topic]
	entriesCopy := make([]subscriberEntry, len(entries))
	copy(entriesCopy, entries)
	b.mu.RUnlock()

	if len(entriesCopy) == 0 {
		b.logger.Debug("no_subscribers_for_event", "topic", topic)
		_, _ = b.runMiddlewareAfter(ctx, event, nil, nil)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(entriesCopy))

	for i, entry := range entriesCopy {
		wg.Add(1)
		go func(idx int, h HandlerFunc) {
			defer wg.Done()
			_, err := h(ctx, processed)
			if err != nil {
				errs[idx] = err
				b.logger.Warn("subscriber_failed", "subscriber_idx", idx, "topic", topic, "error", err.Error())
			}
		}(i, entry.handler)
	}

	wg.Wait()

	var firstError error
	for _, e := range errs {
		if e != nil {
			firstError = e
			break
		}
	}

	_, _ = b.runMiddlewareAfter(ctx, event, nil, firstError)
	return nil
}

// QuerySync sends a query and waits for the response from its registered
// handler, bounded by the bus's query timeout.
func (b *InMemoryBus) QuerySync(ctx context.Context, query Query) (any, error) {
	topic := query.Topic()

	processed, err := b.runMiddlewareBefore(ctx, query)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, NewNoHandlerError(topic)
	}

	b.mu.RLock()
	handler, exists := b.handlers[topic]
	b.mu.RUnlock()

	if !exists {
		return nil, NewNoHandlerError(topic)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, e := handler(timeoutCtx, processed)
		resultCh <- result{value: v, err: e}
	}()

	select {
	case <-timeoutCtx.Done():
		err := NewQueryTimeoutError(topic, b.queryTimeout.Seconds())
		_, _ = b.runMiddlewareAfter(ctx, query, nil, err)
		return nil, err
	case res := <-resultCh:
		finalResult, middlewareErr := b.runMiddlewareAfter(ctx, query, res.value, res.err)
		if middlewareErr != nil {
			return finalResult, middlewareErr
		}
		return finalResult, res.err
	}
}

// Subscribe subscribes to a topic.
// Returns an unsubscribe function, safe to call multiple times (idempotent).
func (b *InMemoryBus) Subscribe(topic string, handler HandlerFunc) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	if _, exists := b.subscribers[topic]; !exists {
		b.subscribers[topic] = make([]subscriberEntry, 0)
	}
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{
		id:      subID,
		handler: handler,
	})
	b.mu.Unlock()

	b.logger.Debug("subscribed", "topic", topic, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		entries := b.subscribers[topic]
		for i, entry := range entries {
			if entry.id == subID {
				b.subscribers[topic] = append(entries[:i], entries[i+1:]...)
				b.logger.Debug("unsubscribed", "topic", topic, "sub_id", subID)
				return
			}
		}
		// Already unsubscribed.
	}
}

// RegisterHandler registers the query handler for a topic.
// Only one handler per topic is allowed.
func (b *InMemoryBus) RegisterHandler(topic string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[topic]; exists {
		return NewHandlerAlreadyRegisteredError(topic)
	}

	b.handlers[topic] = handler
	b.logger.Debug("handler_registered", "topic", topic)
	return nil
}

// UnregisterHandler removes the query handler for a topic, if any.
func (b *InMemoryBus) UnregisterHandler(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
}

// AddMiddleware adds middleware to the bus, executed in registration order.
func (b *InMemoryBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middleware = append(b.middleware, middleware)
	b.logger.Debug("middleware_added")
}

// HasHandler checks if a query handler is registered for a topic.
func (b *InMemoryBus) HasHandler(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.handlers[topic]
	return exists
}

// Clear removes all handlers, subscribers, and middleware.
// Useful for testing.
func (b *InMemoryBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[string]HandlerFunc)
	b.subscribers = make(map[string][]subscriberEntry)
	b.middleware = make([]Middleware, 0)
	b.logger.Debug("bus_cleared")
}

func (b *InMemoryBus) runMiddlewareBefore(ctx context.Context, message Message) (Message, error) {
	b.mu.RLock()
	middlewareCopy := make([]Middleware, len(b.middleware))
	copy(middlewareCopy, b.middleware)
	b.mu.RUnlock()

	current := message
	for _, mw := range middlewareCopy {
		result, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

// runMiddlewareAfter runs the middleware after-chain in reverse order.
func (b *InMemoryBus) runMiddlewareAfter(ctx context.Context, message Message, result any, err error) (any, error) {
	b.mu.RLock()
	middlewareCopy := make([]Middleware, len(b.middleware))
	copy(middlewareCopy, b.middleware)
	b.mu.RUnlock()

	currentResult := result
	for i := len(middlewareCopy) - 1; i >= 0; i-- {
		afterResult, afterErr := middlewareCopy[i].After(ctx, message, currentResult, err)
		if afterErr != nil {
			err = afterErr
		}
		if afterResult != nil {
			currentResult = afterResult
		}
	}
	return currentResult, err
}

// Ensure InMemoryBus implements the Bus interface.
var _ Bus = (*InMemoryBus)(nil)
