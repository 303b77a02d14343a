// Package transform implements the Context Transformer Pipeline
// (spec.md §4.5): a fixed, ordered slice of pure Context -> Context
// functions applied before a provider request is built, generalizing
// the teacher's implicit message-shaping (e.g. llm.repairToolPairing,
// buried inline in each provider's StreamMessage) into composable,
// independently testable steps, the way original_source's
// forge_domain::compact::transformers and
// forge_provider::forge_provider::transformers Transformer trait do.
package transform

import (
	"strings"

	"github.com/forgecore/forge/internal/core"
)

// Transformer is one pipeline stage. Grounded on original_source's
// Transformer trait (fn transform(&self, Value) -> Value), ported as a
// plain function type since Go has no trait objects to dispatch through.
type Transformer func(core.Context) core.Context

// Pipeline is an ordered, fixed sequence of Transformers applied in
// order; Run threads ctx through each in turn.
type Pipeline []Transformer

func (p Pipeline) Run(ctx core.Context) core.Context {
	for _, t := range p {
		ctx = t(ctx)
	}
	return ctx
}

// KeepFirstUserMessage drops every User message after the first,
// collapsing them into the first's Content, for providers/purposes that
// require a single opening user turn (original_source's
// KeepFirstUserMessage).
func KeepFirstUserMessage() Transformer {
	return func(ctx core.Context) core.Context {
		var out []core.Message
		firstUserIdx := -1
		for _, m := range ctx.Messages {
			if m.Role == core.RoleUser {
				if firstUserIdx == -1 {
					firstUserIdx = len(out)
					out = append(out, m)
				} else {
					out[firstUserIdx].Content += "\n\n" + m.Content
				}
				continue
			}
			out = append(out, m)
		}
		return core.Context{Messages: out}
	}
}

// StripWorkingDir removes a leading "Working directory: ..." line from
// User messages, the way original_source's StripWorkingDir transformer
// keeps the model's view of history independent of the literal cwd used
// to build the original prompt (a path that changes between sessions
// shouldn't look like conversation content that changed).
func StripWorkingDir() Transformer {
	return func(ctx core.Context) core.Context {
		out := make([]core.Message, len(ctx.Messages))
		for i, m := range ctx.Messages {
			if m.Role == core.RoleUser {
				m.Content = stripLeadingLine(m.Content, "Working directory:")
			}
			out[i] = m
		}
		return core.Context{Messages: out}
	}
}

func stripLeadingLine(content, prefix string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) > 0 && strings.HasPrefix(lines[0], prefix) {
		if len(lines) == 2 {
			return strings.TrimLeft(lines[1], "\n")
		}
		return ""
	}
	return content
}

// TrimContextSummary caps the size of a System-message summary block
// (inserted by compaction) to maxChars, since a runaway summary defeats
// the purpose of compacting in the first place. Grounded on
// original_source's TrimContextSummary.
func TrimContextSummary(maxChars int) Transformer {
	return func(ctx core.Context) core.Context {
		if len(ctx.Messages) == 0 || ctx.Messages[0].Role != core.RoleSystem {
			return ctx
		}
		out := make([]core.Message, len(ctx.Messages))
		copy(out, ctx.Messages)
		if len(out[0].Content) > maxChars {
			out[0].Content = out[0].Content[:maxChars] + "\n...[summary truncated]"
		}
		return core.Context{Messages: out}
	}
}

// Mergeable is implemented by adjacent message pairs that know how to
// collapse into one, the Go equivalent of original_source's CanMerge
// trait used by MergeSummaryMessage/MergeContextSummary.
type Mergeable interface {
	CanMerge(next core.Message) bool
	Merge(next core.Message) core.Message
}

// MergeSummaryMessage collapses consecutive mergeable messages using a
// caller-supplied CanMerge/Merge predicate pair, generalizing
// original_source's MergeSummaryMessage (which merges
// SummaryMessageBlocks) to operate on core.Message directly.
func MergeSummaryMessage(canMerge func(a, b core.Message) bool, merge func(a, b core.Message) core.Message) Transformer {
	return func(ctx core.Context) core.Context {
		var out []core.Message
		for _, m := range ctx.Messages {
			if len(out) > 0 && canMerge(out[len(out)-1], m) {
				out[len(out)-1] = merge(out[len(out)-1], m)
				continue
			}
			out = append(out, m)
		}
		return core.Context{Messages: out}
	}
}

// MergeContextSummary is MergeSummaryMessage specialized to adjacent
// System-role messages, joined with a blank line. The pair the
// orchestrator produces is the agent's system prompt followed by the
// summary message Compactor.Compact inserts right after it.
func MergeContextSummary() Transformer {
	canMerge := func(a, b core.Message) bool {
		return a.Role == core.RoleSystem && b.Role == core.RoleSystem
	}
	merge := func(a, b core.Message) core.Message {
		a.Content = a.Content + "\n\n" + b.Content
		return a
	}
	return MergeSummaryMessage(canMerge, merge)
}

// SetCache marks the given message indices (counted from the end, 0 =
// last) as cache breakpoints. core.Message has no CacheControl field of
// its own (only Anthropic's wire format needs one), so this transformer
// is a no-op placeholder at the core.Context level and lastN is unused.
// provider.Anthropic.Chat marks only the system prompt block for caching,
// independently of this transformer; no ForProvider pipeline includes
// SetCache. It mirrors original_source's SetCache transformer existing as
// a distinct pipeline stage.
func SetCache(lastN int) Transformer {
	return func(ctx core.Context) core.Context { return ctx }
}

// DropInvalidToolUse removes Assistant ToolCalls whose corresponding
// ToolResult never arrived (e.g. the orchestrator failed mid-Dispatching
// and a checkpoint was loaded), since sending a dangling tool_use to a
// provider is a protocol error. Mirrors the teacher's repairToolPairing,
// restricted to the drop-orphans half: no synthetic results are inserted,
// here or in any provider.
func DropInvalidToolUse() Transformer {
	return func(ctx core.Context) core.Context {
		answered := map[string]bool{}
		for _, m := range ctx.Messages {
			if m.Role == core.RoleToolResult {
				answered[m.CallID] = true
			}
		}
		out := make([]core.Message, 0, len(ctx.Messages))
		for _, m := range ctx.Messages {
			if m.Role != core.RoleAssistant || len(m.ToolCalls) == 0 {
				out = append(out, m)
				continue
			}
			var kept []core.ToolCall
			for _, tc := range m.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
				}
			}
			m.ToolCalls = kept
			out = append(out, m)
		}
		return core.Context{Messages: out}
	}
}

// CapitalizeToolNames upper-cases tool names for providers whose
// function-calling convention expects SCREAMING_CASE identifiers
// (observed on some OpenAI-compatible gateways). Applied to both
// Assistant.ToolCalls[].Name and ToolResult isn't needed since results
// carry CallID, not Name.
func CapitalizeToolNames() Transformer {
	return func(ctx core.Context) core.Context {
		out := make([]core.Message, len(ctx.Messages))
		for i, m := range ctx.Messages {
			if m.Role == core.RoleAssistant && len(m.ToolCalls) > 0 {
				calls := make([]core.ToolCall, len(m.ToolCalls))
				for j, tc := range m.ToolCalls {
					tc.Name = strings.ToUpper(tc.Name)
					calls[j] = tc
				}
				m.ToolCalls = calls
			}
			out[i] = m
		}
		return core.Context{Messages: out}
	}
}

// ReasoningLevel mirrors spec.md's provider-agnostic reasoning-effort
// knob.
type ReasoningLevel string

const (
	ReasoningOff    ReasoningLevel = ""
	ReasoningLow    ReasoningLevel = "low"
	ReasoningMedium ReasoningLevel = "medium"
	ReasoningHigh   ReasoningLevel = "high"
)

// ReasoningTransform annotates the system message with a directive at
// the requested level, expressing reasoning effort as a natural-language
// instruction. No provider sets a reasoning/thinking request field
// (ChatOptions has none), so this transformer is the only reasoning
// control; no ForProvider pipeline includes it.
func ReasoningTransform(level ReasoningLevel) Transformer {
	return func(ctx core.Context) core.Context {
		if level == ReasoningOff || len(ctx.Messages) == 0 || ctx.Messages[0].Role != core.RoleSystem {
			return ctx
		}
		out := make([]core.Message, len(ctx.Messages))
		copy(out, ctx.Messages)
		out[0].Content += "\n\nReasoning effort: " + string(level) + "."
		return core.Context{Messages: out}
	}
}

// NormalizeOutputSchema is a no-op placeholder for providers that need
// tool-result content reshaped into a strict JSON schema before being
// echoed back; spec.md's builtin tools only ever emit plain text, so
// there is nothing to normalize today, but the pipeline stage exists so
// a future structured-output tool has somewhere to plug in, the same
// role original_source's analogous provider-shape stages play for
// features not yet exercised by any builtin tool.
func NormalizeOutputSchema() Transformer {
	return func(ctx core.Context) core.Context { return ctx }
}

// MakeOpenAiCompat rewrites tool_result messages from Anthropic's
// "user message containing a tool_result block" shape into OpenAI's
// dedicated tool-role message shape. core.Message already uses the
// OpenAI shape (RoleToolResult is its own role), so for core.Context
// this transformer is a pass-through; it is kept as a named stage
// because provider.OpenAICompat's convertOpenAIMessages is where the
// actual reshaping for the wire happens, mirroring
// original_source's MakeOpenAiCompat acting at the request-DTO layer
// rather than the domain Context layer.
func MakeOpenAiCompat() Transformer {
	return func(ctx core.Context) core.Context { return ctx }
}

// MakeCerebrasCompat strips CacheControl-only concerns Cerebras's
// OpenAI-compatible endpoint rejects outright (any SetCache annotation);
// since SetCache is already a no-op at this layer, this too is a
// pass-through kept for naming symmetry with original_source.
func MakeCerebrasCompat() Transformer {
	return func(ctx core.Context) core.Context { return ctx }
}

// ToolChoice mirrors original_source's ToolChoice wire enum.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// SetToolChoice is carried alongside the Context rather than folded into
// it (core.Context has no tool_choice field since that's a per-request
// knob, not conversation content); ForProvider returns the choice a
// pipeline run was configured with so the provider's request builder can
// apply it, mirroring original_source's SetToolChoice acting on its
// Request DTO instead of its Context domain type.
type SetToolChoice struct {
	Choice ToolChoice
}

func (s SetToolChoice) ForProvider() ToolChoice { return s.Choice }

// ForProvider returns the fixed Pipeline used for providerID, the
// per-provider composition spec.md §4.5 requires ("transformer pipelines
// ... fixed per provider").
func ForProvider(providerID core.ProviderId) Pipeline {
	base := Pipeline{
		StripWorkingDir(),
		DropInvalidToolUse(),
		TrimContextSummary(8000),
		MergeContextSummary(),
	}
	switch providerID {
	case core.ProviderGoogle:
		return append(Pipeline{KeepFirstUserMessage()}, base...)
	case core.ProviderOllama:
		return append(base, CapitalizeToolNames())
	default:
		return base
	}
}
