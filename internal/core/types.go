// Package core holds the orchestrator's shared data model: the entities
// every other core package (provider, tools, policy, snapshot, transform,
// orchestrator) operates on. It exists to avoid import cycles between those
// packages, the same role internal/types plays for the teacher's session
// and llm packages.
package core

import (
	"encoding/json"
	"time"
)

// ModelId is an opaque string identifier of a model, e.g.
// "anthropic/claude-3.5-sonnet".
type ModelId string

// ProviderId enumerates the supported providers. Order matters: earlier
// entries have higher resolution priority when a request doesn't pin one.
type ProviderId string

const (
	ProviderAnthropic  ProviderId = "anthropic"
	ProviderOpenAI     ProviderId = "openai"
	ProviderBedrock    ProviderId = "bedrock"
	ProviderGoogle     ProviderId = "google"
	ProviderOpenRouter ProviderId = "openrouter"
	ProviderOllama     ProviderId = "ollama"
)

// ProviderPriority is the resolution order used by the Provider Registry
// when more than one provider could serve a request.
var ProviderPriority = []ProviderId{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderBedrock,
	ProviderGoogle,
	ProviderOpenRouter,
	ProviderOllama,
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one invocation the assistant asked for inside an Assistant
// message. Arguments is kept as raw JSON until the Dispatcher validates it
// against the named tool's schema.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in a Context. Exactly one of the role-specific
// fields is meaningful depending on Role; unused fields are left zero.
// This mirrors the teacher's single-struct-many-roles shape
// (internal/types/message.go) generalized to the spec's sum type.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`

	// Assistant-only.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// User-only: a hint the caller attaches to steer model selection for
	// this single turn (e.g. "use the small model").
	ModelHint ModelId `json:"modelHint,omitempty"`

	// ToolResult-only.
	CallID  string `json:"callId,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// NewSystemMessage, NewUserMessage, NewAssistantMessage, NewToolResult
// construct well-formed Messages for each role so callers can't
// accidentally set fields that don't belong to that role.

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: nowFunc()}
}

func NewUserMessage(content string, modelHint ModelId) Message {
	return Message{Role: RoleUser, Content: content, ModelHint: modelHint, Timestamp: nowFunc()}
}

func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: nowFunc()}
}

func NewToolResultMessage(callID, output string, isError bool) Message {
	return Message{Role: RoleToolResult, CallID: callID, Content: output, IsError: isError, Timestamp: nowFunc()}
}

// nowFunc is indirected so tests can freeze time.
var nowFunc = time.Now

// Context is the ordered sequence of Messages that makes up a conversation
// turn-by-turn. Invariants (enforced by Validate, spec.md §3):
//
//  1. at most one System message, and it must be at position 0;
//  2. every ToolResult.CallID references an earlier Assistant.ToolCalls[].ID
//     with no intervening ToolResult bearing that id;
//  3. insertion order is preserved (Context is append-only from the
//     orchestrator's point of view; transformers replace it wholesale).
type Context struct {
	Messages []Message `json:"messages"`
}

// Append returns a new Context with msg appended. Context values are
// treated as immutable by transformers; Append is the only mutation
// primitive used outside the orchestrator's own message list.
func (c Context) Append(msg Message) Context {
	out := make([]Message, len(c.Messages)+1)
	copy(out, c.Messages)
	out[len(out)-1] = msg
	return Context{Messages: out}
}

// FirstUserMessage returns the index of the first User message, or -1.
func (c Context) FirstUserMessage() int {
	for i, m := range c.Messages {
		if m.Role == RoleUser {
			return i
		}
	}
	return -1
}

// PendingToolCalls returns the ToolCalls of the last Assistant message that
// have not yet been answered by a ToolResult later in Context.
func (c Context) PendingToolCalls() []ToolCall {
	lastAsst := -1
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			lastAsst = i
			break
		}
	}
	if lastAsst < 0 {
		return nil
	}
	answered := map[string]bool{}
	for _, m := range c.Messages[lastAsst+1:] {
		if m.Role == RoleToolResult {
			answered[m.CallID] = true
		}
	}
	var pending []ToolCall
	for _, tc := range c.Messages[lastAsst].ToolCalls {
		if !answered[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Validate checks the Context invariants from spec.md §3.
func (c Context) Validate() error {
	systemSeen := false
	pending := map[string]bool{}
	for i, m := range c.Messages {
		switch m.Role {
		case RoleSystem:
			if systemSeen {
				return errInvalidContext("more than one System message")
			}
			if i != 0 {
				return errInvalidContext("System message not at position 0")
			}
			systemSeen = true
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return errInvalidContext("tool call missing id")
				}
				pending[tc.ID] = true
			}
		case RoleToolResult:
			if !pending[m.CallID] {
				return errInvalidContext("tool result references unknown or already-answered call id: " + m.CallID)
			}
			delete(pending, m.CallID)
		}
	}
	return nil
}

type contextError string

func (e contextError) Error() string { return string(e) }

func errInvalidContext(msg string) error { return contextError("invalid context: " + msg) }

// ToolDefinition is the JSON-schema-typed description of a tool, as exposed
// to a Provider Client and advertised in the Tool Registry. Ordered by
// Name when listed; names are unique within a registry snapshot.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage aggregates token counters across turns.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	CacheReadTokens  int `json:"cacheReadTokens"`
	CacheWriteTokens int `json:"cacheWriteTokens"`
}

// Add accumulates u2 into u in place.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.CacheReadTokens += u2.CacheReadTokens
	u.CacheWriteTokens += u2.CacheWriteTokens
}

// Metrics tracks per-conversation counters the facade surfaces to callers.
type Metrics struct {
	RequestCount    int `json:"requestCount"`
	ToolCallCount   int `json:"toolCallCount"`
	CompactionCount int `json:"compactionCount"`
}

// Conversation owns a Context exclusively; only the orchestrator mutates
// it, and only between turn boundaries.
type Conversation struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Context         Context   `json:"context"`
	AccumulatedUsage Usage    `json:"accumulatedUsage"`
	Metrics         Metrics   `json:"metrics"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CompactConfig configures when/how the orchestrator summarizes a prefix
// of Context. Mirrors the teacher's session compaction thresholds
// (internal/session/compaction.go) generalized to the spec's component.
type CompactConfig struct {
	// TokenBudget is the context size (in tokens) above which compaction
	// is triggered at the start of a turn.
	TokenBudget int
	// SummaryModel is used for the summarization turn itself; may be a
	// smaller/cheaper model than the Agent's primary model.
	SummaryModel ModelId
}

// NudgeConfig configures the PlanNudger (spec.md §4.7 Nudging).
type NudgeConfig struct {
	// Message is injected as a User message when a nudge fires. Nudging
	// is disabled entirely when Message is empty.
	Message string
	// Interval triggers a nudge every N requests (request_count % N == 0).
	// Nil disables interval nudging but leaves yield nudging available.
	Interval *int
}

// Agent is a read-only-during-a-turn configuration bundle.
type Agent struct {
	ID                  string
	Model               ModelId
	ProviderID          ProviderId
	SystemPromptTemplate string
	AllowedToolNames    []string
	Compact             *CompactConfig
	Nudge               *NudgeConfig
}

// AllowsTool reports whether name is in the agent's allow-list. An empty
// allow-list means "all registered tools are allowed".
func (a Agent) AllowsTool(name string) bool {
	if len(a.AllowedToolNames) == 0 {
		return true
	}
	for _, n := range a.AllowedToolNames {
		if n == name {
			return true
		}
	}
	return false
}

// OperationKind is the abstract act a tool wishes to perform, subject to
// the Policy Engine.
type OperationKind string

const (
	OpRead    OperationKind = "read"
	OpWrite   OperationKind = "write"
	OpExecute OperationKind = "execute"
	OpFetch   OperationKind = "fetch"
)

// Operation is the input to the Policy Engine. Exactly the fields relevant
// to Kind are populated: Path/Cwd for Read/Write, Command/Cwd for Execute,
// URL/Cwd for Fetch.
type Operation struct {
	Kind    OperationKind
	Path    string
	Command string
	URL     string
	Cwd     string
}

// Permission is the Policy Engine's verdict for an Operation.
type Permission string

const (
	PermissionAllow   Permission = "allow"
	PermissionDeny    Permission = "deny"
	PermissionConfirm Permission = "confirm"
)

// ConfirmOutcome is the caller's answer to a Confirm-tier Operation
// (spec.md §4.3 point 3): a plain accept/reject plus a third outcome,
// AcceptAndRemember, that asks the Policy Engine to persist an Allow rule
// so the same Operation auto-allows for the rest of the session (spec.md
// §4.4).
type ConfirmOutcome int

const (
	ConfirmReject ConfirmOutcome = iota
	ConfirmAccept
	ConfirmAcceptAndRemember
)

// SnapshotId identifies one entry in the Snapshot Store's per-path history.
type SnapshotId string

// Snapshot is a pre-state record captured before a mutating tool runs.
type Snapshot struct {
	ID         SnapshotId
	Path       string
	PreContent []byte // nil + Absent=true means the file did not exist
	Absent     bool
	Timestamp  time.Time
	OpKind     OperationKind
}
