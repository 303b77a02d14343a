// Package nudge implements the PlanNudger (spec.md §4.7 Nudging): a small
// piece of bookkeeping that decides when the orchestrator should inject a
// reminder message to keep a long-running agent loop on track, ported
// directly from original_source's forge_app::plan_nudger (that file has no
// teacher analogue — goclaw's gateway.go runs a single unbounded
// tool-use loop with no nudging concept at all).
package nudge

import "github.com/forgecore/forge/internal/core"

// Nudger tracks the two nudge triggers spec.md §4.7 defines: a fixed
// request-count interval, and a one-shot "yield" nudge fired when the
// orchestrator is about to end a turn because the agent's reply carried
// no tool calls.
type Nudger struct {
	message        string
	interval       *int
	yieldNudgeUsed bool
}

// New builds a Nudger from cfg. A nil cfg or empty Message disables
// nudging entirely, matching original_source's has_message gate.
func New(cfg *core.NudgeConfig) *Nudger {
	if cfg == nil {
		return &Nudger{}
	}
	return &Nudger{message: cfg.Message, interval: cfg.Interval}
}

func (n *Nudger) hasMessage() bool { return n.message != "" }

// ShouldAddIntervalNudge reports whether requestCount lands on the
// configured interval boundary.
func (n *Nudger) ShouldAddIntervalNudge(requestCount int) bool {
	return n.hasMessage() && n.interval != nil && *n.interval > 0 &&
		requestCount > 0 && requestCount%*n.interval == 0
}

// ShouldAddYieldNudge reports whether a one-time yield nudge should fire
// now: nudging must be enabled, the yield nudge must not already be
// spent, and the next interval nudge must not be about to fire in its
// place (original_source: "avoid duplication").
func (n *Nudger) ShouldAddYieldNudge(requestCount int) bool {
	if !n.hasMessage() || n.yieldNudgeUsed {
		return false
	}
	return !n.ShouldAddIntervalNudge(requestCount)
}

// MarkYieldNudge consumes the one-time yield nudge.
func (n *Nudger) MarkYieldNudge() { n.yieldNudgeUsed = true }

// ResetYieldNudge clears the spent flag, re-arming the yield nudge for
// the next time the loop is about to end a turn without yielding.
func (n *Nudger) ResetYieldNudge() { n.yieldNudgeUsed = false }

// Message returns the configured nudge text.
func (n *Nudger) Message() string { return n.message }
