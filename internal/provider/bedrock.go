package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithydocument "github.com/aws/smithy-go/document"

	"github.com/forgecore/forge/internal/core"
)

// document lazily wraps a Go value as the smithy document the Bedrock
// Converse API expects for tool schemas/inputs.
func document(v any) smithydocument.Interface {
	return smithydocument.NewLazyDocument(v)
}

// Bedrock implements Client against Amazon Bedrock's Converse streaming
// API, which speaks a provider-agnostic request/response shape across
// Anthropic, Llama, and other models hosted on Bedrock — so, unlike the
// SDK-per-vendor clients, one Bedrock client here serves any Bedrock
// model id without a vendor-specific transformer.
type Bedrock struct {
	rt    *bedrockruntime.Client
	name  string
	retry RetryConfig
}

// NewBedrock loads AWS credentials from the standard chain (env, shared
// config, IAM role) the way aws-sdk-go-v2/config resolves them.
func NewBedrock(goCtx context.Context, name, region string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(goCtx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Bedrock{rt: bedrockruntime.NewFromConfig(cfg), name: name, retry: DefaultRetryConfig()}, nil
}

func (p *Bedrock) Name() string { return p.name }

func (p *Bedrock) Models(ctx context.Context) ([]Model, error) {
	return nil, core.NewError(core.ErrProtocolError, "bedrock: model listing not supported", nil)
}

func (p *Bedrock) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, error) {
	var system []types.SystemContentBlock
	var msgs []types.Message
	for _, m := range convCtx.Messages {
		if m.Role == core.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		msgs = append(msgs, toBedrockMessage(m))
	}

	toolCfg := toBedrockToolConfig(tools)
	maxTokens := int32(opts.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(string(model)),
		Messages:   msgs,
		System:     system,
		ToolConfig: toolCfg,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}

	resp, err := withRetry(goCtx, p.retry, func(ctx context.Context) (*bedrockruntime.ConverseStreamOutput, error) {
		out, err := p.rt.ConverseStream(ctx, input)
		if err != nil {
			return nil, classifyBedrockErr(err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		var textBuf strings.Builder
		var toolCalls []core.ToolCall
		openID, openName := "", ""
		var argBuf strings.Builder
		var usage core.Usage

		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					openID = aws.ToString(tu.Value.ToolUseId)
					openName = aws.ToString(tu.Value.Name)
					argBuf.Reset()
					out <- ChatEvent{Kind: EventToolCallStart, ToolCallID: openID, ToolCallName: openName}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					textBuf.WriteString(d.Value)
					out <- ChatEvent{Kind: EventTextDelta, TextDelta: d.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					frag := aws.ToString(d.Value.Input)
					argBuf.WriteString(frag)
					out <- ChatEvent{Kind: EventToolCallArgDelta, ToolCallID: openID, ArgDelta: frag}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if openID != "" {
					out <- ChatEvent{Kind: EventToolCallEnd, ToolCallID: openID}
					toolCalls = append(toolCalls, core.ToolCall{ID: openID, Name: openName, Arguments: json.RawMessage(argBuf.String())})
					openID = ""
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage = core.Usage{
						PromptTokens:     int(aws.ToInt32(v.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- ChatEvent{Kind: EventError, Err: fmt.Errorf("bedrock: stream: %w", err)}
			return
		}
		out <- ChatEvent{Kind: EventUsage, Usage: usage}
		out <- ChatEvent{Kind: EventDone, Final: core.NewAssistantMessage(textBuf.String(), toolCalls)}
	}()

	return out, nil
}

func toBedrockMessage(m core.Message) types.Message {
	switch m.Role {
	case core.RoleUser:
		return types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}}
	case core.RoleToolResult:
		status := types.ToolResultStatusSuccess
		if m.IsError {
			status = types.ToolResultStatusError
		}
		return types.Message{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.CallID),
					Status:    status,
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				},
			}},
		}
	default: // assistant
		var blocks []types.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var doc map[string]any
			_ = json.Unmarshal(tc.Arguments, &doc)
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{ToolUseId: aws.String(tc.ID), Name: aws.String(tc.Name), Input: document(doc)},
			})
		}
		return types.Message{Role: types.ConversationRoleAssistant, Content: blocks}
	}
}

func toBedrockToolConfig(defs []core.ToolDefinition) *types.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	var tools []types.Tool
	for _, d := range defs {
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document(d.InputSchema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

// classifyBedrockErr surfaces a retryable status code from smithy-go's
// API error wrapper so withRetry doesn't need AWS-specific type checks.
func classifyBedrockErr(err error) error {
	var apiErr smithy.APIError
	if ok := smithyAsAPIError(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException":
			return newHTTPStatusError(429, err)
		}
	}
	return err
}

func smithyAsAPIError(err error, target *smithy.APIError) bool {
	return errors.As(err, target)
}
