package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/forgecore/forge/internal/core"
)

// Google implements Client against Gemini's generateContentStream API via
// the official generative-ai-go SDK.
type Google struct {
	client *genai.Client
	name   string
	retry  RetryConfig
}

func NewGoogle(goCtx context.Context, name, apiKey string) (*Google, error) {
	client, err := genai.NewClient(goCtx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return &Google{client: client, name: name, retry: DefaultRetryConfig()}, nil
}

func (p *Google) Name() string { return p.name }

func (p *Google) Models(ctx context.Context) ([]Model, error) {
	var out []Model
	iter := p.client.ListModels(ctx)
	for {
		m, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, Model{ID: core.ModelId(m.Name), DisplayName: m.DisplayName, ContextTokens: int(m.InputTokenLimit)})
	}
	return out, nil
}

func (p *Google) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error) {
	gm := p.client.GenerativeModel(string(model))
	if opts.MaxOutputTokens > 0 {
		gm.MaxOutputTokens = int32ptr(int32(opts.MaxOutputTokens))
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		gm.Temperature = &t
	}
	if len(tools) > 0 {
		gm.Tools = []*genai.Tool{toGoogleTool(tools)}
	}

	var history []*genai.Content
	var lastUser *genai.Content
	for _, m := range convCtx.Messages {
		switch m.Role {
		case core.RoleSystem:
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		case core.RoleUser:
			lastUser = &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}}
			history = append(history, lastUser)
			lastUser = nil
		case core.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				c.Parts = append(c.Parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			history = append(history, c)
		case core.RoleToolResult:
			history = append(history, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     m.CallID,
					Response: map[string]any{"result": m.Content, "is_error": m.IsError},
				}},
			})
		}
	}

	var last *genai.Content
	if len(history) > 0 {
		last = history[len(history)-1]
		history = history[:len(history)-1]
	}

	cs := gm.StartChat()
	cs.History = history

	var parts []genai.Part
	if last != nil {
		parts = last.Parts
	}

	iter, err := withRetry(goCtx, p.retry, func(ctx context.Context) (*genai.GenerateContentResponseIterator, error) {
		return cs.SendMessageStream(ctx, parts...), nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)

		var textBuf strings.Builder
		var toolCalls []core.ToolCall
		var usage core.Usage

		for {
			resp, err := iter.Next()
			if err != nil {
				if err.Error() == "no more items in iterator" {
					break
				}
				out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("google: stream: %w", err)}
				return
			}
			if resp.UsageMetadata != nil {
				usage = core.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch v := part.(type) {
					case genai.Text:
						textBuf.WriteString(string(v))
						out <- ChatEvent{Kind: EventTextDelta, TextDelta: string(v)}
					case genai.FunctionCall:
						id := fmt.Sprintf("call_%d", len(toolCalls))
						args, _ := json.Marshal(v.Args)
						out <- ChatEvent{Kind: EventToolCallStart, ToolCallID: id, ToolCallName: v.Name}
						out <- ChatEvent{Kind: EventToolCallArgDelta, ToolCallID: id, ArgDelta: string(args)}
						out <- ChatEvent{Kind: EventToolCallEnd, ToolCallID: id}
						toolCalls = append(toolCalls, core.ToolCall{ID: id, Name: v.Name, Arguments: args})
					}
				}
			}
		}
		out <- ChatEvent{Kind: EventUsage, Usage: usage}
		out <- ChatEvent{Kind: EventDone, Final: core.NewAssistantMessage(textBuf.String(), toolCalls)}
	}()

	return out, nil
}

func toGoogleTool(defs []core.ToolDefinition) *genai.Tool {
	t := &genai.Tool{}
	for _, d := range defs {
		t.FunctionDeclarations = append(t.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schemaFromMap(d.InputSchema),
		})
	}
	return t
}

// schemaFromMap is a best-effort conversion of a JSON-schema map (as used
// by core.ToolDefinition) into genai's typed Schema, covering the object
// shape every builtin tool actually uses (spec.md tools have flat
// string/number/bool/array properties, never deep nesting).
func schemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject}
	props, _ := m["properties"].(map[string]any)
	if len(props) > 0 {
		s.Properties = map[string]*genai.Schema{}
		for name, raw := range props {
			pm, _ := raw.(map[string]any)
			s.Properties[name] = propSchema(pm)
		}
	}
	for _, r := range toStringSlice(m["required"]) {
		s.Required = append(s.Required, r)
	}
	return s
}

func propSchema(pm map[string]any) *genai.Schema {
	typ, _ := pm["type"].(string)
	ps := &genai.Schema{}
	switch typ {
	case "integer":
		ps.Type = genai.TypeInteger
	case "number":
		ps.Type = genai.TypeNumber
	case "boolean":
		ps.Type = genai.TypeBoolean
	case "array":
		ps.Type = genai.TypeArray
	default:
		ps.Type = genai.TypeString
	}
	if desc, ok := pm["description"].(string); ok {
		ps.Description = desc
	}
	return ps
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int32ptr(v int32) *int32 { return &v }
