package nudge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecore/forge/internal/core"
)

func intPtr(n int) *int { return &n }

func TestNudger_Disabled(t *testing.T) {
	n := New(nil)
	assert.False(t, n.ShouldAddIntervalNudge(5))
	assert.False(t, n.ShouldAddYieldNudge(5))
}

func TestNudger_IntervalNudge(t *testing.T) {
	n := New(&core.NudgeConfig{Message: "keep going", Interval: intPtr(3)})

	assert.False(t, n.ShouldAddIntervalNudge(0))
	assert.False(t, n.ShouldAddIntervalNudge(2))
	assert.True(t, n.ShouldAddIntervalNudge(3))
	assert.True(t, n.ShouldAddIntervalNudge(6))
}

func TestNudger_YieldNudge_AvoidsDuplication(t *testing.T) {
	n := New(&core.NudgeConfig{Message: "keep going", Interval: intPtr(3)})

	// At request_count=3 an interval nudge already fires; yield nudge
	// must not also fire to avoid sending two nudges back to back.
	assert.False(t, n.ShouldAddYieldNudge(3))
	// At request_count=4 no interval nudge is due, so yield nudge can fire.
	assert.True(t, n.ShouldAddYieldNudge(4))

	n.MarkYieldNudge()
	assert.False(t, n.ShouldAddYieldNudge(4), "yield nudge is one-shot until reset")

	n.ResetYieldNudge()
	assert.True(t, n.ShouldAddYieldNudge(4), "resetting re-arms the yield nudge")
}
