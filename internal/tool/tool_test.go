package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/snapshot"
)

func TestTruncate_PreservesUnicodeBoundary(t *testing.T) {
	// Build a string whose MaxOutputBytes-th byte lands inside a 3-byte
	// rune ('世', E4 B8 96), so a raw byte slice would split it.
	prefix := strings.Repeat("a", MaxOutputBytes-1)
	s := prefix + "世界"

	got := truncate(s)

	body := got[:strings.LastIndex(got, "\n...[truncated")]
	assert.LessOrEqual(t, len(body), MaxOutputBytes)
	assert.True(t, utf8.ValidString(body), "truncated body must not split a rune: %q", body[len(body)-8:])
}

type executeTool struct {
	op core.Operation
}

func (e *executeTool) Name() string                            { return "shell" }
func (e *executeTool) Description() string                     { return "runs a command" }
func (e *executeTool) Schema() map[string]any                  { return nil }
func (e *executeTool) Operation(json.RawMessage) core.Operation { return e.op }
func (e *executeTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return "ok", nil
}

func TestDispatch_AcceptAndRememberPersistsSessionRule(t *testing.T) {
	op := core.Operation{Kind: core.OpExecute, Command: "git status"}
	reg := NewRegistry()
	reg.Register(&executeTool{op: op})

	polEngine, err := policy.NewEngine(policy.Layered{
		Global: policy.Policy{DefaultPermission: core.PermissionConfirm},
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(reg, polEngine, snapshot.NewStore())

	calls := 0
	confirmFn := func(core.Operation) core.ConfirmOutcome {
		calls++
		return core.ConfirmAcceptAndRemember
	}

	agent := core.Agent{ID: "agent"}
	call := core.ToolCall{ID: "call1", Name: "shell", Arguments: json.RawMessage(`{}`)}

	res := dispatcher.Dispatch(context.Background(), agent, call, confirmFn)
	require.False(t, res.IsError, "first dispatch should succeed after confirm: %s", res.Content)
	assert.Equal(t, 1, calls)

	// The session layer should now auto-allow the same operation without
	// another confirm round-trip.
	assert.Equal(t, core.PermissionAllow, polEngine.Evaluate(op))

	res2 := dispatcher.Dispatch(context.Background(), agent, call, func(core.Operation) core.ConfirmOutcome {
		t.Fatal("confirmFn should not be called once the operation is remembered")
		return core.ConfirmReject
	})
	assert.False(t, res2.IsError)
}

func TestDispatch_RejectDeniesWithoutRemembering(t *testing.T) {
	op := core.Operation{Kind: core.OpExecute, Command: "rm -rf /"}
	reg := NewRegistry()
	reg.Register(&executeTool{op: op})

	polEngine, err := policy.NewEngine(policy.Layered{
		Global: policy.Policy{DefaultPermission: core.PermissionConfirm},
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(reg, polEngine, snapshot.NewStore())
	agent := core.Agent{ID: "agent"}
	call := core.ToolCall{ID: "call1", Name: "shell", Arguments: json.RawMessage(`{}`)}

	res := dispatcher.Dispatch(context.Background(), agent, call, func(core.Operation) core.ConfirmOutcome {
		return core.ConfirmReject
	})
	assert.True(t, res.IsError)
	assert.Equal(t, core.PermissionConfirm, polEngine.Evaluate(op))
}
