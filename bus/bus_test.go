package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	topic string
	value int
}

func (e testEvent) Topic() string { return e.topic }

type testQuery struct {
	topic string
}

func (q testQuery) Topic() string { return q.topic }
func (q testQuery) IsQuery()      {}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(time.Second, nil)

	var hits atomic.Int32
	for i := 0; i < 3; i++ {
		b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
			hits.Add(1)
			return nil, nil
		})
	}

	err := b.Publish(context.Background(), testEvent{topic: "status"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(time.Second, nil)
	err := b.Publish(context.Background(), testEvent{topic: "nobody-home"})
	assert.NoError(t, err)
}

func TestPublishSubscriberErrorDoesNotStopOthers(t *testing.T) {
	b := New(time.Second, nil)

	var hits atomic.Int32
	b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		return nil, errors.New("boom")
	})
	b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		hits.Add(1)
		return nil, nil
	})

	err := b.Publish(context.Background(), testEvent{topic: "status"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(time.Second, nil)

	var hits atomic.Int32
	unsub := b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		hits.Add(1)
		return nil, nil
	})

	unsub()
	unsub() // second call must be safe

	require.NoError(t, b.Publish(context.Background(), testEvent{topic: "status"}))
	assert.Equal(t, int32(0), hits.Load())
}

func TestUnsubscribeRemovesOnlyItsOwnEntry(t *testing.T) {
	b := New(time.Second, nil)

	var first, second atomic.Int32
	unsub1 := b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		first.Add(1)
		return nil, nil
	})
	b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		second.Add(1)
		return nil, nil
	})

	unsub1()
	require.NoError(t, b.Publish(context.Background(), testEvent{topic: "status"}))

	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestQuerySyncRoundTrip(t *testing.T) {
	b := New(time.Second, nil)

	require.NoError(t, b.RegisterHandler("q", func(ctx context.Context, m Message) (any, error) {
		return 42, nil
	}))

	result, err := b.QuerySync(context.Background(), testQuery{topic: "q"})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestQuerySyncNoHandler(t *testing.T) {
	b := New(time.Second, nil)

	_, err := b.QuerySync(context.Background(), testQuery{topic: "q"})
	var noHandler *NoHandlerError
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, "q", noHandler.Topic)
}

func TestQuerySyncTimesOut(t *testing.T) {
	b := New(20*time.Millisecond, nil)

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, b.RegisterHandler("slow", func(ctx context.Context, m Message) (any, error) {
		<-block
		return nil, nil
	}))

	_, err := b.QuerySync(context.Background(), testQuery{topic: "slow"})
	var timeout *QueryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow", timeout.Topic)
}

func TestRegisterHandlerRejectsDuplicate(t *testing.T) {
	b := New(time.Second, nil)

	handler := func(ctx context.Context, m Message) (any, error) { return nil, nil }
	require.NoError(t, b.RegisterHandler("q", handler))

	err := b.RegisterHandler("q", handler)
	var dup *HandlerAlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
}

func TestUnregisterHandlerAllowsReRegistration(t *testing.T) {
	b := New(time.Second, nil)

	handler := func(ctx context.Context, m Message) (any, error) { return "v1", nil }
	require.NoError(t, b.RegisterHandler("q", handler))
	b.UnregisterHandler("q")
	assert.False(t, b.HasHandler("q"))

	require.NoError(t, b.RegisterHandler("q", func(ctx context.Context, m Message) (any, error) {
		return "v2", nil
	}))

	result, err := b.QuerySync(context.Background(), testQuery{topic: "q"})
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}

type abortMiddleware struct{}

func (abortMiddleware) Before(ctx context.Context, m Message) (Message, error) { return nil, nil }
func (abortMiddleware) After(ctx context.Context, m Message, result any, err error) (any, error) {
	return result, nil
}

func TestMiddlewareCanAbortPublish(t *testing.T) {
	b := New(time.Second, nil)
	b.AddMiddleware(abortMiddleware{})

	var hits atomic.Int32
	b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
		hits.Add(1)
		return nil, nil
	})

	require.NoError(t, b.Publish(context.Background(), testEvent{topic: "status"}))
	assert.Equal(t, int32(0), hits.Load())
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	b := New(time.Second, nil)
	b.AddMiddleware(NewLoggingMiddleware(nil))

	require.NoError(t, b.RegisterHandler("q", func(ctx context.Context, m Message) (any, error) {
		return "ok", nil
	}))

	result, err := b.QuerySync(context.Background(), testQuery{topic: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(time.Second, nil)

	var wg sync.WaitGroup
	var hits atomic.Int64

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("status", func(ctx context.Context, m Message) (any, error) {
				hits.Add(1)
				return nil, nil
			})
			defer unsub()
			for j := 0; j < 50; j++ {
				_ = b.Publish(context.Background(), testEvent{topic: "status", value: j})
			}
		}()
	}

	wg.Wait()
	assert.Positive(t, hits.Load())
}

func TestClearRemovesEverything(t *testing.T) {
	b := New(time.Second, nil)
	b.Subscribe("status", func(ctx context.Context, m Message) (any, error) { return nil, nil })
	require.NoError(t, b.RegisterHandler("q", func(ctx context.Context, m Message) (any, error) { return nil, nil }))

	b.Clear()

	assert.False(t, b.HasHandler("q"))
	_, err := b.QuerySync(context.Background(), testQuery{topic: "q"})
	assert.Error(t, err)
}
