package device

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTaskRegistry_GCSweepJoinsOnlyCollectible verifies GCSweep reclaims a
// finished task while leaving a still-running one in place.
func TestTaskRegistry_GCSweepJoinsOnlyCollectible(t *testing.T) {
	reg := NewTaskRegistry("test", nil, nil)

	release := make(chan struct{})
	mu := &sync.Mutex{}

	reg.AddTask(TaskBlobUploadSingle, nil, func(rec *TaskRecord) {
		defer rec.markCollectible()
		<-release
	})
	fastRec := reg.AddTask(TaskMethodInvoke, nil, func(rec *TaskRecord) {
		defer rec.markCollectible()
	})

	require.Eventually(t, func() bool { return fastRec.isCollectible() }, time.Second, time.Millisecond)

	mu.Lock()
	reg.GCSweep()
	mu.Unlock()

	assert.Equal(t, 1, reg.InFlightCount(-1), "the still-running task must remain")

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		reg.GCSweep()
		return reg.InFlightCount(-1) == 0
	}, time.Second, time.Millisecond)
}

// TestTaskRegistry_DrainBlocksUntilJoined: Destroy (via Drain) must not
// return while any Detached Task remains unjoined.
func TestTaskRegistry_DrainBlocksUntilJoined(t *testing.T) {
	reg := NewTaskRegistry("test", nil, nil)
	release := make(chan struct{})
	mu := &sync.Mutex{}

	reg.AddTask(TaskBlobUploadSingle, nil, func(rec *TaskRecord) {
		defer rec.markCollectible()
		<-release
	})

	drained := make(chan struct{})
	go func() {
		reg.Drain(mu, func() { time.Sleep(time.Millisecond) })
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned before the task released")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after the task released")
	}
}

// TestTaskRecord_TransitionTable rejects any transition outside the
// pending->running->collectible->joined chain.
func TestTaskRecord_TransitionTable(t *testing.T) {
	rec := newTaskRecord(TaskMethodInvoke, nil)
	assert.False(t, rec.transition(TaskCollectible), "cannot skip running")
	assert.True(t, rec.transition(TaskRunning))
	assert.False(t, rec.transition(TaskJoined), "cannot skip collectible")
	assert.True(t, rec.transition(TaskCollectible))
	assert.True(t, rec.transition(TaskJoined))
	assert.False(t, rec.transition(TaskRunning), "joined is terminal")
}
