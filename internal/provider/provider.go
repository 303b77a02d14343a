// Package provider implements the Provider Client contract (spec.md §4.1):
// one chat operation that streams ChatEvents for a model + Context, and one
// models-listing operation, plus the per-provider request transformer
// pipelines, SSE transport, and retry/backoff shared by all provider
// implementations (anthropic.go, openaicompat.go, bedrock.go, google.go,
// ollama.go).
//
// The interface is grounded on the teacher's internal/llm.Provider
// (StreamMessage/SimpleMessage/Embed), generalized from the teacher's
// callback-based streaming to a channel of ChatEvent so the orchestrator
// can select on it alongside cancellation.
package provider

import (
	"context"
	"time"

	"github.com/forgecore/forge/internal/core"
)

// Model describes one model a provider can serve.
type Model struct {
	ID            core.ModelId
	DisplayName   string
	ContextTokens int
}

// EventKind discriminates ChatEvent's payload, mirroring the teacher's
// Response struct fields but split into an incremental stream the way
// spec.md §4.1 requires ("partial text, tool-call deltas, usage updates,
// and a terminal frame").
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventToolCallStart
	EventToolCallArgDelta
	EventToolCallEnd
	EventUsage
	EventError
	EventDone
)

// ChatEvent is one incremental item from a Chat stream.
type ChatEvent struct {
	Kind EventKind

	// EventTextDelta
	TextDelta string

	// EventToolCallStart / EventToolCallArgDelta / EventToolCallEnd
	ToolCallID   string
	ToolCallName string
	ArgDelta     string

	// EventUsage
	Usage core.Usage

	// EventError
	Err error

	// EventDone: the fully accumulated assistant message, built by the
	// decoder from the deltas it already emitted. Testable Property #5
	// (spec.md §8) requires that concatenating TextDelta chunks equals
	// Final.Content.
	Final core.Message
}

// Client is the Provider Client contract (spec.md §4.1).
type Client interface {
	// Chat opens a stream for model against ctx's Context and available
	// tools. The returned channel is closed after a terminal EventDone or
	// EventError item. Cancelling goCtx closes the transport promptly and
	// is not itself an error (spec.md §4.1 Cancellation).
	Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error)

	// Models lists the models this provider instance can serve.
	Models(goCtx context.Context) ([]Model, error)

	// Name identifies the provider instance for logging and cooldown
	// bookkeeping (teacher: Provider.Name()).
	Name() string
}

// ChatOptions carries per-turn knobs the orchestrator sets (reasoning
// effort, cache hints are applied by the transformer pipeline instead —
// these are the options that aren't representable as a pure Context
// transform).
type ChatOptions struct {
	MaxOutputTokens int
	Temperature     *float64
}

// RetryConfig controls the Provider Client's retry/backoff behavior.
// Grounded on original_source/crates/forge_env/src/retry_config.rs,
// ported field-for-field into Go idiom.
type RetryConfig struct {
	InitialBackoff     time.Duration
	MinDelay           time.Duration
	BackoffFactor      float64
	MaxRetryAttempts   int
	RetryStatusCodes   map[int]bool
	MaxDelay           time.Duration
	SuppressRetryLog   bool

	// Limiter throttles requests ahead of backoff; nil means unlimited.
	Limiter *RateLimiter
}

// DefaultRetryConfig matches spec.md §4.1's defaults: retry on
// {429,500,502,503,504}.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:   500 * time.Millisecond,
		MinDelay:         200 * time.Millisecond,
		BackoffFactor:    2.0,
		MaxRetryAttempts: 4,
		MaxDelay:         30 * time.Second,
		RetryStatusCodes: map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true},
	}
}

// Backoff computes the delay before retry attempt (0-indexed), clamped
// per spec.md §4.1: delay = min(max_delay, initial*factor^attempt),
// floored at min_delay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		d *= c.BackoffFactor
	}
	delay := time.Duration(d)
	if delay > c.MaxDelay && c.MaxDelay > 0 {
		delay = c.MaxDelay
	}
	if delay < c.MinDelay {
		delay = c.MinDelay
	}
	return delay
}

// Retryable reports whether an HTTP status code should trigger a retry.
func (c RetryConfig) Retryable(statusCode int) bool {
	return c.RetryStatusCodes[statusCode]
}
