package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgecore/forge/internal/core"
)

// openRouterTransport attributes requests the way the teacher does for
// OpenRouter, which surfaces the referrer/title in its dashboard.
type openRouterTransport struct{ base http.RoundTripper }

func (t *openRouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", "https://forgecore.dev")
	req.Header.Set("X-Title", "Forge")
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// OpenAICompat implements Client against any OpenAI-Chat-Completions-shaped
// API: OpenAI itself, OpenRouter, and self-hosted OpenAI-compatible
// servers, distinguished only by BaseURL, mirroring the teacher's single
// OpenAIProvider covering OpenAI/Kimi/LM Studio/OpenRouter.
type OpenAICompat struct {
	client  *openai.Client
	name    string
	baseURL string
	retry   RetryConfig
}

// NewOpenAICompat builds a client for baseURL (empty means api.openai.com).
// apiKey may be empty for unauthenticated local servers.
func NewOpenAICompat(name, apiKey, baseURL string) *OpenAICompat {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		cfg.BaseURL = baseURL
		if strings.Contains(strings.ToLower(baseURL), "openrouter") {
			cfg.HTTPClient = &http.Client{Transport: &openRouterTransport{}}
		}
	}
	return &OpenAICompat{client: openai.NewClientWithConfig(cfg), name: name, baseURL: baseURL, retry: DefaultRetryConfig()}
}

func (p *OpenAICompat) Name() string { return p.name }

func (p *OpenAICompat) Models(ctx context.Context) ([]Model, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", p.name, err)
	}
	out := make([]Model, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, Model{ID: core.ModelId(m.ID)})
	}
	return out, nil
}

func (p *OpenAICompat) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error) {
	req := openai.ChatCompletionRequest{
		Model:     string(model),
		Messages:  convertOpenAIMessages(convCtx.Messages),
		Stream:    true,
		MaxTokens: opts.MaxOutputTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	stream, err := withRetry(goCtx, p.retry, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, classifyOpenAIErr(err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var textBuf strings.Builder
		type partialCall struct {
			id, name string
			args     strings.Builder
		}
		calls := map[int]*partialCall{}
		var order []int
		var usage core.Usage

		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("%s: stream: %w", p.name, err)}
				return
			}
			if chunk.Usage != nil {
				usage = core.Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				textBuf.WriteString(delta.Content)
				out <- ChatEvent{Kind: EventTextDelta, TextDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := calls[idx]
				if !ok {
					pc = &partialCall{}
					calls[idx] = pc
					order = append(order, idx)
				}
				if tc.ID != "" {
					pc.id = tc.ID
					out <- ChatEvent{Kind: EventToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name}
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					pc.args.WriteString(tc.Function.Arguments)
					out <- ChatEvent{Kind: EventToolCallArgDelta, ToolCallID: pc.id, ArgDelta: tc.Function.Arguments}
				}
			}
		}

		var toolCalls []core.ToolCall
		for _, idx := range order {
			pc := calls[idx]
			out <- ChatEvent{Kind: EventToolCallEnd, ToolCallID: pc.id}
			toolCalls = append(toolCalls, core.ToolCall{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(pc.args.String())})
		}
		out <- ChatEvent{Kind: EventUsage, Usage: usage}
		out <- ChatEvent{Kind: EventDone, Final: core.NewAssistantMessage(textBuf.String(), toolCalls)}
	}()

	return out, nil
}

func convertOpenAIMessages(msgs []core.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case core.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case core.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, msg)
		case core.RoleToolResult:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.CallID,
			})
		}
	}
	return result
}

func convertOpenAITools(defs []core.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

// classifyOpenAIErr wraps a go-openai request error with the HTTP status
// it carried, if any, so withRetry can decide retryability without
// string-sniffing (classify.go's message-pattern classifier is used
// downstream by Registry.ChatWithFailover for failover decisions instead).
func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		return newHTTPStatusError(apiErr.HTTPStatusCode, err)
	}
	return err
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	if e, ok := err.(*openai.APIError); ok {
		*target = e
		return true
	}
	return false
}
