package device

import (
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/deviceclient/faketransport"
)

// waitUntil polls cond every 2ms until it returns true or timeout elapses,
// failing the test on timeout. Used instead of a fixed sleep so tests run
// as fast as the Worker actually dispatches.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// newTestClient builds an exclusive Client over a fresh *faketransport.Fake
// with a 1ms tick period, for fast dispatch in tests.
func newTestClient(t *testing.T) (*Client, *faketransport.Fake) {
	t.Helper()
	fake := faketransport.New()
	cfg := DefaultClientConfig()
	cfg.TickPeriodMS = 1
	c, err := NewFromConnectionString("test-device", "HostName=h.example;DeviceId=d;SharedAccessKey=k", fake, nil, cfg)
	if err != nil {
		t.Fatalf("NewFromConnectionString: %v", err)
	}
	t.Cleanup(c.Destroy)
	return c, fake
}
