package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/snapshot"
)

// FollowUp and AttemptCompletion are turn-control tools: their Execute
// bodies just echo the question/summary back as the tool result. The
// Orchestrator dispatches them like any other tool and then returns to
// Chatting; a turn ends only when the model replies with no tool calls
// (spec.md §4.7 Orchestrator state machine).

const (
	NameFollowUp          = "follow_up"
	NameAttemptCompletion = "attempt_completion"
	NameUndo              = "undo"
)

type FollowUp struct{}

func (t *FollowUp) Name() string        { return NameFollowUp }
func (t *FollowUp) Description() string { return "Ask the user a clarifying question before continuing." }
func (t *FollowUp) Schema() map[string]any {
	return schemaObject(map[string]any{
		"question": strProp("The question to ask the user."),
	}, "question")
}
func (t *FollowUp) Operation(input json.RawMessage) core.Operation { return core.Operation{} }
func (t *FollowUp) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	return p.Question, nil
}

type AttemptCompletion struct{}

func (t *AttemptCompletion) Name() string { return NameAttemptCompletion }
func (t *AttemptCompletion) Description() string {
	return "Declare the task complete and summarize the result for the user."
}
func (t *AttemptCompletion) Schema() map[string]any {
	return schemaObject(map[string]any{
		"summary": strProp("A summary of what was accomplished."),
	}, "summary")
}
func (t *AttemptCompletion) Operation(input json.RawMessage) core.Operation { return core.Operation{} }
func (t *AttemptCompletion) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	return p.Summary, nil
}

// Undo restores the most recent Snapshot Store entry for a path,
// designed directly from spec.md §4.6 since original_source's
// forge_snaps crate carries no reference implementation to port.
type Undo struct {
	Snaps *snapshot.Store
}

func (t *Undo) Name() string        { return NameUndo }
func (t *Undo) Description() string { return "Undo the most recent write to a file, restoring its prior content." }
func (t *Undo) Schema() map[string]any {
	return schemaObject(map[string]any{
		"path": strProp("Path of the file to restore."),
	}, "path")
}

type undoInput struct {
	Path string `json:"path"`
}

func (t *Undo) Operation(input json.RawMessage) core.Operation {
	var p undoInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpWrite, Path: p.Path}
}

func (t *Undo) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p undoInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	snap, ok := t.Snaps.Undo(p.Path)
	if !ok {
		return "", fmt.Errorf("no snapshot history for %s", p.Path)
	}
	if snap.Absent {
		if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("undo: remove %s: %w", p.Path, err)
		}
		return fmt.Sprintf("undone: %s restored to nonexistent", p.Path), nil
	}
	if err := os.WriteFile(snap.Path, snap.PreContent, 0o644); err != nil {
		return "", fmt.Errorf("undo: restore %s: %w", p.Path, err)
	}
	return fmt.Sprintf("undone: %s restored to prior content (%d bytes)", p.Path, len(snap.PreContent)), nil
}
