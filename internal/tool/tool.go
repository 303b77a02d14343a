// Package tool implements the Tool Registry & Dispatcher (spec.md §4.3):
// a name -> Tool registry, JSON-schema validation of arguments, policy
// enforcement, pre-mutation snapshotting, timeout-bounded execution, and
// output truncation. Generalizes the teacher's internal/tools.Registry
// (a bare name->Tool map with unchecked Execute) by inserting the
// Policy Engine and Snapshot Store into the call path and adding MCP
// tools as first-class registry entries.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/forgecore/forge/internal/core"
	. "github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/snapshot"
)

// Tool is the interface every builtin and MCP-backed tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	// Operation reports what policy-governed act input implies, so the
	// Dispatcher can evaluate it before Execute runs. Tools with no
	// policy-relevant effect (pure computation) return a zero Operation
	// with an empty Kind, which the Dispatcher always allows.
	Operation(input json.RawMessage) core.Operation
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Mutating is implemented by tools whose Execute call changes state at a
// path the Snapshot Store should capture beforehand (fs_write,
// fs_remove). Tools that only read or execute commands don't implement
// it.
type Mutating interface {
	SnapshotPath(input json.RawMessage) (path string, ok bool)
}

// Registry holds all registered tools, builtin and MCP-backed alike.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns core.ToolDefinition for every registered tool,
// sorted by name, restricted to those agent allows.
func (r *Registry) Definitions(agent core.Agent) []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]core.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if !agent.AllowsTool(name) {
			continue
		}
		defs = append(defs, core.ToolDefinition{Name: t.Name(), Description: t.Description(), InputSchema: t.Schema()})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// MaxOutputBytes bounds a single tool result's content before it's handed
// back to the provider, per spec.md §4.3 Edge case ("oversized tool
// output is truncated, not rejected").
const MaxOutputBytes = 64 * 1024

// DefaultTimeout bounds a single tool call's execution.
const DefaultTimeout = 2 * time.Minute

// Dispatcher wires a Registry to the Policy Engine and Snapshot Store and
// is the sole entry point the Orchestrator uses to run a core.ToolCall.
type Dispatcher struct {
	registry *Registry
	policy   *policy.Engine
	snaps    *snapshot.Store
	timeout  time.Duration
}

func NewDispatcher(registry *Registry, policyEngine *policy.Engine, snaps *snapshot.Store) *Dispatcher {
	return &Dispatcher{registry: registry, policy: policyEngine, snaps: snaps, timeout: DefaultTimeout}
}

// Dispatch validates call against its tool's schema, consults the Policy
// Engine, snapshots the target path for mutating tools, and runs Execute
// under a timeout, in that order (spec.md §4.3). A confirm verdict from
// the Policy Engine is surfaced to confirmFn, which the orchestrator
// passes in from its ConfirmFunc while Dispatching; nil confirmFn
// treats confirm the same as deny (fail closed). confirmFn returning
// core.ConfirmAcceptAndRemember additionally persists an Allow rule into
// the Policy Engine's session layer (spec.md §4.4) before Execute runs.
func (d *Dispatcher) Dispatch(ctx context.Context, agent core.Agent, call core.ToolCall, confirmFn func(core.Operation) core.ConfirmOutcome) core.ToolResult {
	t, ok := d.registry.Get(call.Name)
	if !ok {
		return core.ErrorResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if !agent.AllowsTool(call.Name) {
		return core.ErrorResult(call.ID, fmt.Sprintf("tool not allowed for this agent: %s", call.Name))
	}
	if err := validateArguments(t.Schema(), call.Arguments); err != nil {
		return core.ErrorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err))
	}

	op := t.Operation(call.Arguments)
	if op.Kind != "" {
		switch d.policy.Evaluate(op) {
		case core.PermissionDeny:
			L_warn("dispatcher: operation denied by policy", "tool", call.Name, "op", op.Kind, "path", op.Path)
			return core.ErrorResult(call.ID, "operation denied by policy")
		case core.PermissionConfirm:
			outcome := core.ConfirmReject
			if confirmFn != nil {
				outcome = confirmFn(op)
			}
			if outcome == core.ConfirmReject {
				return core.ErrorResult(call.ID, "operation requires confirmation, which was not granted")
			}
			if outcome == core.ConfirmAcceptAndRemember {
				if err := d.policy.Remember(op); err != nil {
					L_warn("dispatcher: remember policy decision", "tool", call.Name, "op", op.Kind, "error", err)
				}
			}
		}
	}

	if mt, ok := t.(Mutating); ok {
		if path, ok := mt.SnapshotPath(call.Arguments); ok {
			pre, absent := readPreState(path)
			d.snaps.Capture(path, pre, absent, op.Kind)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resultCh := make(chan core.ToolResult, 1)
	go func() {
		content, err := t.Execute(execCtx, call.Arguments)
		if err != nil {
			resultCh <- core.ErrorResult(call.ID, err.Error())
			return
		}
		resultCh <- core.SuccessResult(call.ID, truncate(content))
	}()

	select {
	case res := <-resultCh:
		return res
	case <-execCtx.Done():
		return core.ErrorResult(call.ID, fmt.Sprintf("tool call timed out after %s", d.timeout))
	}
}

// truncate bounds s to MaxOutputBytes, trimming back to the last valid
// rune boundary so a multi-byte rune straddling the cutoff isn't split
// into invalid UTF-8 (spec.md §4.3 point 6, "preserving Unicode
// boundaries").
func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}
	cut := MaxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if _, size := utf8.DecodeLastRuneInString(s[:cut]); size == 0 {
		cut = 0
	}
	return s[:cut] + fmt.Sprintf("\n...[truncated %d bytes]", len(s)-cut)
}

func readPreState(path string) (content []byte, absent bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, true
		}
		return nil, false
	}
	return b, false
}

// validateArguments checks args against schema using jsonschema-go,
// generalizing the teacher's convention of trusting provider-side
// schema enforcement — the Dispatcher re-validates server-side since a
// non-Anthropic provider or a hand-crafted tool call may not have
// enforced it upstream.
func validateArguments(schema map[string]any, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return err
	}
	var value any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return resolved.Validate(value)
}
