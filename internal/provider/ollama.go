package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgecore/forge/internal/core"
)

// Ollama implements Client against a local Ollama server's
// /api/chat streaming endpoint. Ollama speaks newline-delimited JSON
// rather than text/event-stream SSE, so it does not use decodeSSE: it
// opens the request through withRetry and parses each line read by a
// bufio.Scanner as a JSON object directly, per Ollama's actual
// wire format (observed from the teacher's OllamaProvider, which reads
// the same endpoint via bufio.Scanner rather than a real SSE decoder).
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	name       string
	retry      RetryConfig
}

func NewOllama(name, baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		name:       name,
		retry:      DefaultRetryConfig(),
	}
}

func (p *Ollama) Name() string { return p.name }

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Ollama) Models(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	defer resp.Body.Close()
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode models: %w", err)
	}
	out := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, Model{ID: core.ModelId(m.Name)})
	}
	return out, nil
}

type ollamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	// Usage fields, present only on the final chunk.
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (p *Ollama) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error) {
	req := ollamaChatRequest{Model: string(model), Stream: true}
	for _, m := range convCtx.Messages {
		req.Messages = append(req.Messages, toOllamaMessage(m))
	}
	for _, d := range tools {
		req.Tools = append(req.Tools, ollamaTool{Type: "function", Function: ollamaFunction{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := withRetry(goCtx, p.retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, newHTTPStatusError(resp.StatusCode, fmt.Errorf("ollama: %s: %s", resp.Status, string(b)))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var textBuf strings.Builder
		var toolCalls []core.ToolCall
		usage := core.Usage{}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("ollama: decode chunk: %w", err)}
				return
			}
			if chunk.Message.Content != "" {
				textBuf.WriteString(chunk.Message.Content)
				out <- ChatEvent{Kind: EventTextDelta, TextDelta: chunk.Message.Content}
			}
			for i, tc := range chunk.Message.ToolCalls {
				id := fmt.Sprintf("call_%d", len(toolCalls)+i)
				args, _ := json.Marshal(tc.Function.Arguments)
				out <- ChatEvent{Kind: EventToolCallStart, ToolCallID: id, ToolCallName: tc.Function.Name}
				out <- ChatEvent{Kind: EventToolCallArgDelta, ToolCallID: id, ArgDelta: string(args)}
				out <- ChatEvent{Kind: EventToolCallEnd, ToolCallID: id}
				toolCalls = append(toolCalls, core.ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
			}
			if chunk.Done {
				usage = core.Usage{PromptTokens: chunk.PromptEvalCount, CompletionTokens: chunk.EvalCount}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("ollama: read stream: %w", err)}
			return
		}
		out <- ChatEvent{Kind: EventUsage, Usage: usage}
		out <- ChatEvent{Kind: EventDone, Final: core.NewAssistantMessage(textBuf.String(), toolCalls)}
	}()

	return out, nil
}

func toOllamaMessage(m core.Message) ollamaMessage {
	switch m.Role {
	case core.RoleSystem:
		return ollamaMessage{Role: "system", Content: m.Content}
	case core.RoleUser:
		return ollamaMessage{Role: "user", Content: m.Content}
	case core.RoleToolResult:
		return ollamaMessage{Role: "tool", Content: m.Content}
	default:
		om := ollamaMessage{Role: "assistant", Content: m.Content}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(tc.Arguments, &args)
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{Function: ollamaFunctionCall{Name: tc.Name, Arguments: args}})
		}
		return om
	}
}
