package orchestrator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/orchestrator"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/provider"
	"github.com/forgecore/forge/internal/snapshot"
	"github.com/forgecore/forge/internal/tool"
)

// fakeClient is a provider.Client that always answers with one
// assistant message carrying a single tool call, the minimal stream
// shape needed to drive the orchestrator into StateDispatching.
type fakeClient struct{}

func (f *fakeClient) Chat(goCtx context.Context, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts provider.ChatOptions) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 1)
	ch <- provider.ChatEvent{
		Kind: provider.EventDone,
		Final: core.NewAssistantMessage("", []core.ToolCall{
			{ID: "call1", Name: "slow_tool", Arguments: json.RawMessage(`{}`)},
		}),
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Models(goCtx context.Context) ([]provider.Model, error) { return nil, nil }
func (f *fakeClient) Name() string                                          { return "fake" }

// slowTool blocks until its context is cancelled, letting the test
// synchronize cancellation with the middle of StateDispatching rather
// than racing on a sleep duration.
type slowTool struct{ entered chan struct{} }

func (t *slowTool) Name() string                   { return "slow_tool" }
func (t *slowTool) Description() string             { return "blocks until cancelled" }
func (t *slowTool) Schema() map[string]any          { return nil }
func (t *slowTool) Operation(json.RawMessage) core.Operation { return core.Operation{} }
func (t *slowTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	close(t.entered)
	<-ctx.Done()
	return "", ctx.Err()
}

// TestRun_CancellationDuringDispatchLeavesNoOrphanToolCalls verifies the
// Folding fix: a cancellation that lands while a tool call is still
// executing must never leave conv.Context holding an Assistant message
// whose ToolCalls have no matching ToolResults (spec.md §8.1).
func TestRun_CancellationDuringDispatchLeavesNoOrphanToolCalls(t *testing.T) {
	tools := tool.NewRegistry()
	st := &slowTool{entered: make(chan struct{})}
	tools.Register(st)

	polEngine, err := policy.NewEngine(policy.Layered{
		Global: policy.Policy{DefaultPermission: core.PermissionAllow},
	})
	require.NoError(t, err)

	dispatcher := tool.NewDispatcher(tools, polEngine, snapshot.NewStore())

	registry := provider.NewRegistry()
	registry.Register(core.ProviderAnthropic, &fakeClient{})

	orch := orchestrator.New(orchestrator.Deps{
		Registry:   registry,
		Tools:      tools,
		Dispatcher: dispatcher,
	})

	agent := core.Agent{ID: "agent", Model: "m", ProviderID: core.ProviderAnthropic}
	conv := &core.Conversation{Context: core.Context{Messages: []core.Message{core.NewUserMessage("hi", "")}}}

	goCtx, cancel := context.WithCancel(context.Background())
	out := make(chan orchestrator.ChatResponse, 16)

	done := make(chan error, 1)
	go func() { done <- orch.Run(goCtx, agent, conv, out, nil) }()
	go func() {
		for range out {
		}
	}()

	select {
	case <-st.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow_tool was never dispatched")
	}
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	for _, m := range conv.Context.Messages {
		if m.Role == core.RoleAssistant && len(m.ToolCalls) > 0 {
			t.Fatalf("conv.Context holds an orphaned assistant message with unmatched tool calls: %+v", m)
		}
	}
}
