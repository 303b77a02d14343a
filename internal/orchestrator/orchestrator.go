// Package orchestrator implements the agent loop (spec.md §4.7): the
// state machine that drives one conversation turn from Preparing through
// Chatting, Parsing, Dispatching, and Folding, looping back to Chatting
// or Nudging until the model yields or a limit is hit. Directly grounded
// on the teacher's internal/gateway.Gateway.RunAgent `for { ... }` loop,
// split into named phases for testability, with the loop body's
// responsibilities (provider streaming, tool dispatch, context folding,
// compaction, nudging) delegated to the provider, tool, compact, and
// nudge packages this package composes.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgecore/forge/internal/compact"
	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/nudge"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/promptbuilder"
	"github.com/forgecore/forge/internal/provider"
	"github.com/forgecore/forge/internal/tool"
	"github.com/forgecore/forge/internal/transform"
)

// State is one of the orchestrator's named phases (spec.md §4.7).
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateChatting    State = "chatting"
	StateParsing     State = "parsing"
	StateDispatching State = "dispatching"
	StateFolding     State = "folding"
	StateNudging     State = "nudging"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Limits bounds a single turn, spec.md §4.7 "Per-turn limits".
type Limits struct {
	MaxRequestCount int
	MaxWallClock    time.Duration
}

// DefaultLimits matches spec.md's guidance of conservative, configurable
// ceilings.
func DefaultLimits() Limits {
	return Limits{MaxRequestCount: 50, MaxWallClock: 20 * time.Minute}
}

// ResponseKind discriminates ChatResponse, spec.md §6.
type ResponseKind int

const (
	RespText ResponseKind = iota
	RespTitle
	RespToolCallStart
	RespToolCallArg
	RespToolCallEnd
	RespToolResult
	RespUsage
	RespError
	RespComplete
)

// ChatResponse is one event emitted to the facade's stream<ChatResponse>
// (spec.md §6).
type ChatResponse struct {
	Kind ResponseKind

	Text string // RespText, RespTitle

	ToolCallID   string // RespToolCallStart/Arg/End/ToolResult
	ToolCallName string // RespToolCallStart
	ArgDelta     string // RespToolCallArg
	ToolResult   string // RespToolResult
	IsError      bool   // RespToolResult

	Usage core.Usage // RespUsage

	Err error // RespError
}

// ConfirmFunc asks the caller to approve a Confirm-tier operation,
// wired to the Dispatcher's confirmFn (spec.md §5 "awaiting a policy
// confirmation from the caller"). The three-way core.ConfirmOutcome lets
// the caller additionally ask the Policy Engine to remember an accepted
// operation (spec.md §4.3 point 3).
type ConfirmFunc func(core.Operation) core.ConfirmOutcome

// Deps bundles the collaborators a turn needs, all already constructed
// by the facade at startup.
type Deps struct {
	Registry   *provider.Registry
	Tools      *tool.Registry
	Dispatcher *tool.Dispatcher
	Policy     *policy.Engine
	Compactor  *compact.Compactor
	Limits     Limits
}

// Orchestrator drives turns for one conversation at a time, mirroring
// the teacher's single-session-at-a-time RunAgent invocation (concurrent
// conversations are handled by running separate Orchestrator values, not
// by this type being safe for concurrent Run calls on one instance).
type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	if deps.Limits == (Limits{}) {
		deps.Limits = DefaultLimits()
	}
	return &Orchestrator{deps: deps}
}

// Run executes one full turn: Preparing through repeated
// Chatting/Parsing/Dispatching/Folding/Nudging cycles until Done or
// Failed, emitting ChatResponse events to out. Run owns out and closes
// it on return, mirroring RunAgent's `defer close(events)`.
func (o *Orchestrator) Run(goCtx context.Context, agent core.Agent, conv *core.Conversation, out chan<- ChatResponse, confirm ConfirmFunc) error {
	defer close(out)

	state := StatePreparing
	requestCount := 0
	startedAt := time.Now()
	nudger := nudge.New(agent.Nudge)

	var pendingAssistant core.Message
	var pendingResults []core.ToolResult

	for {
		select {
		case <-goCtx.Done():
			return o.fail(out, core.NewError(core.ErrCancelled, "turn cancelled", goCtx.Err()))
		default:
		}

		switch state {
		case StatePreparing:
			if err := o.prepare(goCtx, agent, conv); err != nil {
				return o.fail(out, err)
			}
			state = StateChatting

		case StateChatting:
			if o.deps.Limits.MaxRequestCount > 0 && requestCount >= o.deps.Limits.MaxRequestCount {
				return o.fail(out, core.NewError(core.ErrProtocolError, "max request count exceeded", nil))
			}
			if o.deps.Limits.MaxWallClock > 0 && time.Since(startedAt) > o.deps.Limits.MaxWallClock {
				return o.fail(out, core.NewError(core.ErrProtocolError, "max wall clock exceeded", nil))
			}

			assistantMsg, err := o.chat(goCtx, agent, conv, out)
			if err != nil {
				return o.fail(out, err)
			}
			conv.Metrics.RequestCount++
			requestCount++
			state = StateParsing
			pendingAssistant = assistantMsg

		case StateParsing:
			calls := pendingAssistant.ToolCalls
			for _, c := range calls {
				if c.ID == "" {
					return o.fail(out, core.NewError(core.ErrProtocolError, "tool call missing id", nil))
				}
			}
			if len(calls) == 0 {
				// No tool calls to fold: commit the Assistant message on
				// its own, the single-message degenerate case of Folding.
				conv.Context = conv.Context.Append(pendingAssistant)
				conv.UpdatedAt = time.Now()
				if nudger.ShouldAddYieldNudge(requestCount) {
					state = StateNudging
				} else {
					state = StateDone
				}
			} else {
				nudger.ResetYieldNudge()
				state = StateDispatching
			}

		case StateDispatching:
			pendingResults = o.dispatch(goCtx, agent, pendingAssistant.ToolCalls, confirm, out)
			state = StateFolding

		case StateFolding:
			// Append the Assistant message and its ToolResults together:
			// a cancellation observed during StateDispatching is only
			// checked at the top of the next loop iteration, before this
			// state runs, so it never leaves conv.Context holding
			// ToolCalls with no matching ToolResults.
			conv.Context = conv.Context.Append(pendingAssistant)
			for _, r := range pendingResults {
				conv.Context = conv.Context.Append(core.NewToolResultMessage(r.CallID, r.Content, r.IsError))
				out <- ChatResponse{Kind: RespToolResult, ToolCallID: r.CallID, ToolResult: r.Content, IsError: r.IsError}
				conv.Metrics.ToolCallCount++
			}
			conv.UpdatedAt = time.Now()
			if nudger.ShouldAddIntervalNudge(requestCount) {
				conv.Context = conv.Context.Append(core.NewUserMessage(nudger.Message(), ""))
			}
			state = StateChatting

		case StateNudging:
			conv.Context = conv.Context.Append(core.NewUserMessage(nudger.Message(), ""))
			nudger.MarkYieldNudge()
			state = StateChatting

		case StateDone:
			out <- ChatResponse{Kind: RespComplete}
			return nil

		case StateFailed:
			return nil
		}
	}
}

func (o *Orchestrator) fail(out chan<- ChatResponse, err error) error {
	out <- ChatResponse{Kind: RespError, Err: err}
	return err
}

// prepare resolves the active Agent's model/provider, renders the system
// prompt, and runs compaction if the Context has grown past budget
// (spec.md §4.7 Preparing, §4.5 Compaction).
func (o *Orchestrator) prepare(goCtx context.Context, agent core.Agent, conv *core.Conversation) error {
	if agent.Compact != nil && o.deps.Compactor != nil && o.deps.Compactor.ShouldCompact(conv.Context, *agent.Compact) {
		newCtx, _, err := o.deps.Compactor.Compact(goCtx, conv.Context, *agent.Compact)
		if err != nil {
			return core.NewError(core.ErrCompactionFailed, "compaction failed", err)
		}
		conv.Context = newCtx
		conv.Metrics.CompactionCount++
	}

	toolDefs := o.deps.Tools.Definitions(agent)
	prompt := promptbuilder.Build(agent.SystemPromptTemplate, promptbuilder.Params{
		Model: agent.Model,
		Tools: toolDefs,
	})

	if len(conv.Context.Messages) == 0 || conv.Context.Messages[0].Role != core.RoleSystem {
		conv.Context = core.Context{Messages: append([]core.Message{core.NewSystemMessage(prompt)}, conv.Context.Messages...)}
	} else {
		msgs := make([]core.Message, len(conv.Context.Messages))
		copy(msgs, conv.Context.Messages)
		msgs[0] = core.NewSystemMessage(prompt)
		conv.Context = core.Context{Messages: msgs}
	}

	pipeline := transform.ForProvider(agent.ProviderID)
	conv.Context = pipeline.Run(conv.Context)
	return nil
}

// chat opens a Provider Client stream and accumulates it into one
// Assistant message while forwarding deltas as ChatResponse events
// (spec.md §4.7 Chatting).
func (o *Orchestrator) chat(goCtx context.Context, agent core.Agent, conv *core.Conversation, out chan<- ChatResponse) (core.Message, error) {
	toolDefs := o.deps.Tools.Definitions(agent)
	events, providerID, err := o.deps.Registry.ChatWithFailover(goCtx, agent.ProviderID, agent.Model, conv.Context, toolDefs, provider.ChatOptions{})
	if err != nil {
		return core.Message{}, core.NewError(core.ErrProviderFatal, fmt.Sprintf("provider %s", providerID), err)
	}

	var final core.Message
	for ev := range events {
		switch ev.Kind {
		case provider.EventTextDelta:
			out <- ChatResponse{Kind: RespText, Text: ev.TextDelta}
		case provider.EventToolCallStart:
			out <- ChatResponse{Kind: RespToolCallStart, ToolCallID: ev.ToolCallID, ToolCallName: ev.ToolCallName}
		case provider.EventToolCallArgDelta:
			out <- ChatResponse{Kind: RespToolCallArg, ToolCallID: ev.ToolCallID, ArgDelta: ev.ArgDelta}
		case provider.EventToolCallEnd:
			out <- ChatResponse{Kind: RespToolCallEnd, ToolCallID: ev.ToolCallID}
		case provider.EventUsage:
			conv.AccumulatedUsage.Add(ev.Usage)
			out <- ChatResponse{Kind: RespUsage, Usage: ev.Usage}
		case provider.EventError:
			return core.Message{}, core.NewError(core.ErrProviderFatal, "stream error", ev.Err)
		case provider.EventDone:
			final = ev.Final
		}
	}
	return final, nil
}

// dispatch fans a turn's tool calls out across goroutines and fans the
// results back in, using errgroup the way the teacher's embeddings
// manager and memory indexer fan out batch work, generalized here to
// tool dispatch. Dispatch itself never returns an error the group needs
// to propagate (a failing tool call becomes a core.ToolResult with
// IsError set, not a Go error), so the group is used purely for
// goroutine lifecycle management.
func (o *Orchestrator) dispatch(goCtx context.Context, agent core.Agent, calls []core.ToolCall, confirm ConfirmFunc, out chan<- ChatResponse) []core.ToolResult {
	results := make([]core.ToolResult, len(calls))
	g, gCtx := errgroup.WithContext(goCtx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			// results is indexed by original tool_calls position, so the
			// assembled slice preserves call order regardless of which
			// goroutine finishes first (spec.md §5's ordering guarantee).
			results[i] = o.deps.Dispatcher.Dispatch(gCtx, agent, c, confirm)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
