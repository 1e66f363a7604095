package device

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/faketransport"
	"github.com/jeeves-cluster-organization/deviceclient/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSharedTransport_TwoClientsMultiplexed verifies two Clients borrowing
// one transport.Shared each get driven and dispatched independently,
// confirming the TickLocked/DispatchPending wiring.
func TestSharedTransport_TwoClientsMultiplexed(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	fakeA := faketransport.New()
	fakeB := faketransport.New()

	cA, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", fakeA, shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cA.Destroy)

	cB, err := NewFromSharedTransport("device-b", "HostName=h;DeviceId=b;SharedAccessKey=k", fakeB, shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cB.Destroy)

	var callsA, callsB int32
	require.Equal(t, ResultOK, cA.SendEvent(&transport.Message{Body: []byte("a")}, func(ConfirmationResult, any) {
		atomic.AddInt32(&callsA, 1)
	}, nil))
	require.Equal(t, ResultOK, cB.SendEvent(&transport.Message{Body: []byte("b")}, func(ConfirmationResult, any) {
		atomic.AddInt32(&callsB, 1)
	}, nil))

	waitUntil(t, time.Second, func() bool {
		return atomic.LoadInt32(&callsA) == 1 && atomic.LoadInt32(&callsB) == 1
	})

	assert.GreaterOrEqual(t, fakeA.DoWorkCount(), 1)
	assert.GreaterOrEqual(t, fakeB.DoWorkCount(), 1)
}

// TestSharedTransport_UnregisterOnDestroyLeavesOtherContributorRunning
// checks that destroying one Client in shared mode does not disturb a
// second Client still registered with the same Shared.
func TestSharedTransport_UnregisterOnDestroyLeavesOtherContributorRunning(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	fakeA := faketransport.New()
	fakeB := faketransport.New()

	cA, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", fakeA, shared, nil, nil)
	require.NoError(t, err)
	cB, err := NewFromSharedTransport("device-b", "HostName=h;DeviceId=b;SharedAccessKey=k", fakeB, shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cB.Destroy)

	require.Equal(t, ResultOK, cA.SendEvent(&transport.Message{Body: []byte("a")}, nil, nil))
	waitUntil(t, time.Second, func() bool { return fakeA.DoWorkCount() > 0 })

	cA.Destroy()

	var callsB int32
	require.Equal(t, ResultOK, cB.SendEvent(&transport.Message{Body: []byte("b")}, func(ConfirmationResult, any) {
		atomic.AddInt32(&callsB, 1)
	}, nil))
	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&callsB) == 1 })
}

// TestSharedTransport_ConnectionStatusBroadcast: one status change on the
// shared physical connection fans out to every registered Client's
// standing connection-status handler via the transport's bus.
func TestSharedTransport_ConnectionStatusBroadcast(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	cA, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", faketransport.New(), shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cA.Destroy)
	cB, err := NewFromSharedTransport("device-b", "HostName=h;DeviceId=b;SharedAccessKey=k", faketransport.New(), shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cB.Destroy)

	var gotA, gotB int32
	require.Equal(t, ResultOK, cA.SetConnectionStatusCallback(func(status transport.ConnectionStatus, reason transport.ConnectionStatusReason, _ any) {
		if status == transport.ConnectionDisconnected && reason == transport.ReasonNoNetwork {
			atomic.AddInt32(&gotA, 1)
		}
	}, nil))
	require.Equal(t, ResultOK, cB.SetConnectionStatusCallback(func(status transport.ConnectionStatus, reason transport.ConnectionStatusReason, _ any) {
		if status == transport.ConnectionDisconnected && reason == transport.ReasonNoNetwork {
			atomic.AddInt32(&gotB, 1)
		}
	}, nil))

	shared.BroadcastConnectionStatus(transport.ConnectionDisconnected, transport.ReasonNoNetwork)

	waitUntil(t, time.Second, func() bool {
		return atomic.LoadInt32(&gotA) == 1 && atomic.LoadInt32(&gotB) == 1
	})
}

// TestSharedTransport_BroadcastAfterDestroySkipsStoppedClient: a Client
// already destroyed must not observe later broadcasts, while its sibling
// still does.
func TestSharedTransport_BroadcastAfterDestroySkipsStoppedClient(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	cA, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", faketransport.New(), shared, nil, nil)
	require.NoError(t, err)
	cB, err := NewFromSharedTransport("device-b", "HostName=h;DeviceId=b;SharedAccessKey=k", faketransport.New(), shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(cB.Destroy)

	var gotA, gotB int32
	require.Equal(t, ResultOK, cA.SetConnectionStatusCallback(func(transport.ConnectionStatus, transport.ConnectionStatusReason, any) {
		atomic.AddInt32(&gotA, 1)
	}, nil))
	require.Equal(t, ResultOK, cB.SetConnectionStatusCallback(func(transport.ConnectionStatus, transport.ConnectionStatusReason, any) {
		atomic.AddInt32(&gotB, 1)
	}, nil))

	cA.Destroy()
	shared.BroadcastConnectionStatus(transport.ConnectionAuthenticated, transport.ReasonOK)

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&gotB) == 1 })
	assert.Equal(t, int32(0), atomic.LoadInt32(&gotA))
}

// TestSharedTransport_SendStatusQuery: GetSendStatus against a Client
// behind a shared transport is answered over the bus by the handler that
// Client registered at construction.
func TestSharedTransport_SendStatusQuery(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	fake := faketransport.New()
	c, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", fake, shared, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	status, result := c.GetSendStatus()
	require.Equal(t, ResultOK, result)
	assert.Equal(t, transport.SendStatusIdle, status)

	fake.SetSendStatus(transport.SendStatusBusy)
	status, result = c.GetSendStatus()
	require.Equal(t, ResultOK, result)
	assert.Equal(t, transport.SendStatusBusy, status)
}

// TestSharedTransport_SendStatusQueryAfterDestroyFails: once the Client
// is destroyed its query handler is gone, so the facade reports an error
// rather than a stale answer.
func TestSharedTransport_SendStatusQueryAfterDestroyFails(t *testing.T) {
	shared := transport.NewShared(2 * time.Millisecond)
	defer shared.Stop()

	c, err := NewFromSharedTransport("device-a", "HostName=h;DeviceId=a;SharedAccessKey=k", faketransport.New(), shared, nil, nil)
	require.NoError(t, err)
	c.Destroy()

	_, result := c.GetSendStatus()
	assert.Equal(t, ResultError, result)
}
