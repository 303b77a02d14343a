// Package compact implements context compaction (spec.md §4.5,
// SPEC_FULL.md §6.7 Orchestrator): when a Context grows past a token
// budget, summarize its oldest messages into one System-role message and
// drop the rest. Grounded on the teacher's
// internal/session.CompactionManager (ShouldCompact/Compact), trimmed to
// the synchronous path — the teacher's async-summary-with-background-
// retry machinery exists to keep a chat channel responsive while an LLM
// call runs; spec.md has no equivalent requirement, so summarization
// here runs inline and returns its result to the caller.
package compact

import (
	"context"
	"fmt"

	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/provider"
	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in a Context, standing in for the teacher's
// session.EstimateTokens (tokens/estimator.go), backed by
// pkoukk/tiktoken-go the way SPEC_FULL.md §4 DOMAIN STACK assigns it
// ("token estimation for Context budget / compaction trigger").
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an Estimator using the cl100k_base encoding, a
// reasonable approximation across providers since spec.md treats token
// budgets as provider-agnostic guidance rather than an exact wire count.
func NewEstimator() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("compact: load tokenizer: %w", err)
	}
	return &Estimator{enc: enc}, nil
}

// Count returns an approximate token count for ctx.
func (e *Estimator) Count(ctx core.Context) int {
	total := 0
	for _, m := range ctx.Messages {
		total += len(e.enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(e.enc.Encode(string(tc.Arguments), nil, nil)) + len(e.enc.Encode(tc.Name, nil, nil))
		}
	}
	return total
}

// Result mirrors the teacher's CompactionResult, trimmed to the fields
// SPEC_FULL.md's Orchestrator and facade actually consume.
type Result struct {
	Summary       string
	TokensBefore  int
	TokensAfter   int
	MessagesAfter int
}

// Summarizer generates a natural-language summary of the messages being
// dropped. In production this wraps a Provider Client's Chat call
// against cfg.SummaryModel; tests can supply a stub.
type Summarizer func(ctx context.Context, messages []core.Message, model core.ModelId) (string, error)

// Compactor runs compaction against a Context, grounded on
// CompactionManager.ShouldCompact/Compact.
type Compactor struct {
	estimator  *Estimator
	summarize  Summarizer
	keepTail   int // minimum messages always retained from the tail, teacher default 20
}

func NewCompactor(estimator *Estimator, summarize Summarizer) *Compactor {
	return &Compactor{estimator: estimator, summarize: summarize, keepTail: 20}
}

// ShouldCompact reports whether convCtx has grown past cfg.TokenBudget,
// mirroring CompactionManager.ShouldCompact's token-threshold branch
// (the teacher's message-count branch is folded into the same TokenBudget
// knob here since SPEC_FULL.md's CompactConfig carries only one trigger).
func (c *Compactor) ShouldCompact(convCtx core.Context, cfg core.CompactConfig) bool {
	if cfg.TokenBudget <= 0 {
		return false
	}
	return c.estimator.Count(convCtx) >= cfg.TokenBudget
}

// Compact summarizes convCtx's prefix (everything before the last
// keepTail messages) and returns a new Context consisting of the
// original System message (if any), a System-role summary message, and
// the retained tail. Mirrors CompactionManager.Compact's
// findFirstKeptID/truncateMessages split, without a checkpoint fast
// path: Compact does not consult or produce a Checkpoint (see
// RecordCheckpoint in checkpoint.go, which is a separate entry point).
func (c *Compactor) Compact(goCtx context.Context, convCtx core.Context, cfg core.CompactConfig) (core.Context, Result, error) {
	tokensBefore := c.estimator.Count(convCtx)

	var system *core.Message
	rest := convCtx.Messages
	if len(rest) > 0 && rest[0].Role == core.RoleSystem {
		s := rest[0]
		system = &s
		rest = rest[1:]
	}

	keepFrom := len(rest) - c.keepTail
	if keepFrom < 0 {
		keepFrom = 0
	}
	// Never split a tool call from its result: walk keepFrom backward
	// past any ToolResult whose originating call falls before it.
	for keepFrom > 0 && rest[keepFrom].Role == core.RoleToolResult {
		keepFrom--
	}

	toSummarize := rest[:keepFrom]
	tail := rest[keepFrom:]

	var summary string
	if len(toSummarize) > 0 {
		s, err := c.summarize(goCtx, toSummarize, cfg.SummaryModel)
		if err != nil {
			return convCtx, Result{}, fmt.Errorf("compact: summarize: %w", err)
		}
		summary = s
	}

	var out []core.Message
	if system != nil {
		out = append(out, *system)
	}
	if summary != "" {
		out = append(out, core.NewSystemMessage("Earlier conversation summary:\n"+summary))
	}
	out = append(out, tail...)

	newCtx := core.Context{Messages: out}
	return newCtx, Result{
		Summary:       summary,
		TokensBefore:  tokensBefore,
		TokensAfter:   c.estimator.Count(newCtx),
		MessagesAfter: len(out),
	}, nil
}

// ChatSummarizer adapts a provider.Client into a Summarizer, the wiring
// the Orchestrator uses in production: it builds a one-shot Context
// asking the model to summarize messages, and reads back the
// accumulated EventDone text.
func ChatSummarizer(client provider.Client) Summarizer {
	return func(goCtx context.Context, messages []core.Message, model core.ModelId) (string, error) {
		prompt := "Summarize the following conversation history concisely, preserving key decisions, open questions, and file paths touched:\n\n"
		for _, m := range messages {
			prompt += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
		}
		req := core.Context{Messages: []core.Message{core.NewUserMessage(prompt, model)}}
		events, err := client.Chat(goCtx, model, req, nil, provider.ChatOptions{MaxOutputTokens: 1024})
		if err != nil {
			return "", err
		}
		for ev := range events {
			switch ev.Kind {
			case provider.EventError:
				return "", ev.Err
			case provider.EventDone:
				return ev.Final.Content, nil
			}
		}
		return "", fmt.Errorf("compact: summarizer stream closed without EventDone")
	}
}
