package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgecore/forge/internal/core"
	. "github.com/forgecore/forge/internal/logging"
)

// anthropicContextWindow is conservative across the Claude family; the
// teacher hardcodes the same value (internal/llm.getModelContextWindow)
// since the 1M-context beta is a separate opt-in.
const anthropicContextWindow = 200000

// Anthropic implements Client against Anthropic's Messages API, and
// against Anthropic-compatible endpoints reached via BaseURL (e.g. Kimi
// K2), mirroring the teacher's AnthropicProvider.
type Anthropic struct {
	client  *anthropic.Client
	name    string
	baseURL string
	cache   bool
	retry   RetryConfig

	// modelOutputLimit caches a model's learned max-output-tokens ceiling
	// once a request reveals it, so later turns don't pay for the
	// rejection. Grounded on the teacher's modelMaxOutputTokens sync.Map.
	modelOutputLimit sync.Map
}

// NewAnthropic builds an Anthropic client. baseURL empty means the
// official API; a non-empty baseURL targets an Anthropic-compatible
// gateway.
func NewAnthropic(name, apiKey, baseURL string, promptCaching bool) (*Anthropic, error) {
	if apiKey == "" {
		return nil, core.NewError(core.ErrUnauthorized, "anthropic: API key not configured", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{
		client:  &client,
		name:    name,
		baseURL: baseURL,
		cache:   promptCaching,
		retry:   DefaultRetryConfig(),
	}, nil
}

func (p *Anthropic) Name() string { return p.name }

func (p *Anthropic) Models(ctx context.Context) ([]Model, error) {
	// Anthropic has no discovery endpoint worth depending on; the registry
	// is expected to configure known model ids directly (spec.md §4.2).
	return nil, core.NewError(core.ErrProtocolError, "anthropic: model listing not supported", nil)
}

func (p *Anthropic) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error) {
	out := make(chan ChatEvent, 16)

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	if limit, ok := p.modelOutputLimit.Load(model); ok {
		if l := limit.(int); maxTokens > l {
			maxTokens = l
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(string(model)),
		MaxTokens: int64(maxTokens),
	}

	var systemPrompt string
	var msgs []core.Message
	for _, m := range convCtx.Messages {
		if m.Role == core.RoleSystem {
			systemPrompt = m.Content
			continue
		}
		msgs = append(msgs, m)
	}
	if systemPrompt != "" {
		block := anthropic.TextBlockParam{Text: systemPrompt}
		if p.cache {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	params.Messages = convertMessages(msgs)
	if toolParams := convertToolDefs(tools); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	stream, err := withRetry(goCtx, p.retry, func(ctx context.Context) (*anthropic.Stream[anthropic.MessageStreamEventUnion], error) {
		s := p.client.Messages.NewStreaming(ctx, params)
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		defer stream.Close()

		acc := anthropic.Message{}
		var textBuf strings.Builder
		var toolCalls []core.ToolCall
		openToolCallID := ""

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("anthropic: accumulate: %w", err)}
				return
			}
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					openToolCallID = tu.ID
					out <- ChatEvent{Kind: EventToolCallStart, ToolCallID: tu.ID, ToolCallName: tu.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					textBuf.WriteString(delta.Text)
					out <- ChatEvent{Kind: EventTextDelta, TextDelta: delta.Text}
				case anthropic.InputJSONDelta:
					if openToolCallID != "" {
						out <- ChatEvent{Kind: EventToolCallArgDelta, ToolCallID: openToolCallID, ArgDelta: delta.PartialJSON}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if openToolCallID != "" {
					out <- ChatEvent{Kind: EventToolCallEnd, ToolCallID: openToolCallID}
					openToolCallID = ""
				}
			}
		}

		if err := stream.Err(); err != nil {
			if ok, limit := ParseMaxTokensLimit(err.Error()); ok && limit > 0 {
				p.modelOutputLimit.Store(model, limit)
				L_warn("anthropic: learned model output limit, later requests use reduced max_tokens", "model", model, "limit", limit)
			}
			out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("anthropic: stream: %w", err)}
			return
		}

		for _, block := range acc.Content {
			if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				inputBytes, _ := json.Marshal(tu.Input)
				toolCalls = append(toolCalls, core.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: inputBytes})
			}
		}

		usage := core.Usage{
			PromptTokens:     int(acc.Usage.InputTokens),
			CompletionTokens: int(acc.Usage.OutputTokens),
			CacheReadTokens:  int(acc.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(acc.Usage.CacheCreationInputTokens),
		}
		out <- ChatEvent{Kind: EventUsage, Usage: usage}
		out <- ChatEvent{
			Kind:  EventDone,
			Final: core.NewAssistantMessage(textBuf.String(), toolCalls),
		}
	}()

	return out, nil
}

// convertMessages renders core.Message history into Anthropic's wire
// shape, generalizing the teacher's convertMessages from its
// many-roles-in-one-struct Message to core's Role-discriminated Message,
// and relying on the Context Transformer Pipeline (not this function) to
// have already repaired orphaned tool_use/tool_result pairing.
func convertMessages(msgs []core.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case core.RoleUser:
			if m.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal(tc.Arguments, &input)
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		case core.RoleToolResult:
			content := m.Content
			if content == "" {
				content = "[empty result]"
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.CallID, content, m.IsError)))
		}
	}
	return result
}

func convertToolDefs(defs []core.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var properties any
		if props, ok := def.InputSchema["properties"]; ok {
			properties = props
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
			},
		})
	}
	return result
}

var validToolIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// sanitizeToolID mirrors the teacher's pairing-repair helper; kept here
// since Anthropic is the one provider that rejects tool_use ids outside
// ^[a-zA-Z0-9_-]+$, and other providers round-trip whatever the
// orchestrator assigned in core.ToolCall.ID.
func sanitizeToolID(id string) string {
	if id != "" && validToolIDPattern.MatchString(id) {
		return id
	}
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "tool_0"
	}
	return b.String()
}
