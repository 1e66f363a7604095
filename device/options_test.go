package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetOption_TickPeriodMessageTimeoutSymmetric: do_work_freq_ms and
// messageTimeout enforce the identical "tick < timeout" rule in both
// directions, and a rejected SetOption never mutates the other field.
func TestSetOption_TickPeriodMessageTimeoutSymmetric(t *testing.T) {
	c, _ := newTestClient(t)

	res := c.SetOption(OptionMessageTimeout, 50)
	require.Equal(t, ResultOK, res)

	// tick period must now stay strictly below 50.
	res = c.SetOption(OptionDoWorkFreqMS, 50)
	assert.Equal(t, ResultInvalidArg, res, "tick period equal to timeout must be rejected")

	res = c.SetOption(OptionDoWorkFreqMS, 60)
	assert.Equal(t, ResultInvalidArg, res, "tick period greater than timeout must be rejected")

	res = c.SetOption(OptionDoWorkFreqMS, 10)
	assert.Equal(t, ResultOK, res)

	// messageTimeout must now stay strictly above the current tick period (10).
	res = c.SetOption(OptionMessageTimeout, 10)
	assert.Equal(t, ResultInvalidArg, res, "timeout equal to tick period must be rejected")

	res = c.SetOption(OptionMessageTimeout, 5)
	assert.Equal(t, ResultInvalidArg, res, "timeout less than tick period must be rejected")

	res = c.SetOption(OptionMessageTimeout, 20)
	assert.Equal(t, ResultOK, res)
}

// TestSetOption_TickPeriodFreeBeforeTimeoutSet checks that do_work_freq_ms
// may be set freely while messageTimeout is still unset (treated as +Inf).
func TestSetOption_TickPeriodFreeBeforeTimeoutSet(t *testing.T) {
	c, _ := newTestClient(t)
	res := c.SetOption(OptionDoWorkFreqMS, 99)
	assert.Equal(t, ResultOK, res)
}

// TestSetOption_TickPeriodOutOfRange checks the bound on do_work_freq_ms.
func TestSetOption_TickPeriodOutOfRange(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionDoWorkFreqMS, 0))
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionDoWorkFreqMS, -5))
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionDoWorkFreqMS, MaxTickPeriodMS+1))
}

// TestSetOption_RejectionDoesNotMutate verifies a rejected SetOption call
// leaves prior state untouched.
func TestSetOption_RejectionDoesNotMutate(t *testing.T) {
	c, _ := newTestClient(t)
	require.Equal(t, ResultOK, c.SetOption(OptionMessageTimeout, 50))
	require.Equal(t, ResultOK, c.SetOption(OptionDoWorkFreqMS, 10))

	// Attempt an invalid tick period; messageTimeout must remain 50, so a
	// subsequent valid-but-close messageTimeout change should still see 10
	// as the tick period floor.
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionDoWorkFreqMS, 1000))
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionMessageTimeout, 10))
	assert.Equal(t, ResultOK, c.SetOption(OptionMessageTimeout, 11))
}

// TestSetOption_MaxInFlightDetachedTasks exercises the Go-native admission
// control knob.
func TestSetOption_MaxInFlightDetachedTasks(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, ResultOK, c.SetOption(OptionMaxInFlightDetachedTasks, 4))
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionMaxInFlightDetachedTasks, 0))
	assert.Equal(t, ResultInvalidArg, c.SetOption(OptionMaxInFlightDetachedTasks, -1))
}

// TestSetOption_UnknownNameForwardsToProvider checks the passthrough path.
func TestSetOption_UnknownNameForwardsToProvider(t *testing.T) {
	c, fake := newTestClient(t)
	res := c.SetOption("product_info", "my-app/1.0")
	require.Equal(t, ResultOK, res)
	v, ok := fake.Option("product_info")
	require.True(t, ok)
	assert.Equal(t, "my-app/1.0", v)
}
