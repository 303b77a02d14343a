// Package builtin provides the fixed set of builtin tools every Agent
// can draw on: file read/write/remove, shell execution, HTTP fetch, and
// the turn-control tools (follow_up, attempt_completion, undo).
// Grounded on the teacher's internal/tools/{read,write,exec,web_fetch}.go,
// adapted to report a core.Operation for Policy Engine evaluation and
// core.Operation/path reporting for Snapshot Store capture instead of
// calling internal/sandbox directly — path confinement is now the
// Policy Engine's job (a deny-rule on "**" outside the workspace),
// not a tool-local check.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecore/forge/internal/core"
)

func schemaObject(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// resolvePath joins a possibly-relative path against cwd, the way the
// teacher's ReadTool resolves against workingDir before sandbox.ValidatePath.
func resolvePath(path, cwd string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(cwd, path))
}

// FSRead reads a file, optionally a line range.
type FSRead struct{ Cwd string }

func (t *FSRead) Name() string        { return "fs_read" }
func (t *FSRead) Description() string { return "Read the contents of a file as text, optionally a line range." }
func (t *FSRead) Schema() map[string]any {
	return schemaObject(map[string]any{
		"path":       strProp("Path to the file, absolute or relative to the working directory."),
		"start_line": intProp("First line to include (1-indexed)."),
		"end_line":   intProp("Last line to include (inclusive)."),
	}, "path")
}

type fsReadInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *FSRead) Operation(input json.RawMessage) core.Operation {
	var p fsReadInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpRead, Path: resolvePath(p.Path, t.Cwd), Cwd: t.Cwd}
}

func (t *FSRead) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p fsReadInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	resolved := resolvePath(p.Path, t.Cwd)
	content, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p.Path, err)
	}
	if p.StartLine == 0 && p.EndLine == 0 {
		return string(content), nil
	}
	lines := strings.Split(string(content), "\n")
	start := p.StartLine
	if start < 1 {
		start = 1
	}
	end := p.EndLine
	if end == 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", nil
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// FSWrite overwrites (or creates) a file with new content. Mutating, so
// the Dispatcher snapshots the prior content first.
type FSWrite struct{ Cwd string }

func (t *FSWrite) Name() string        { return "fs_write" }
func (t *FSWrite) Description() string { return "Write content to a file, creating or overwriting it." }
func (t *FSWrite) Schema() map[string]any {
	return schemaObject(map[string]any{
		"path":    strProp("Path to the file, absolute or relative to the working directory."),
		"content": strProp("The full content to write."),
	}, "path", "content")
}

type fsWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FSWrite) Operation(input json.RawMessage) core.Operation {
	var p fsWriteInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpWrite, Path: resolvePath(p.Path, t.Cwd), Cwd: t.Cwd}
}

func (t *FSWrite) SnapshotPath(input json.RawMessage) (string, bool) {
	var p fsWriteInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", false
	}
	return resolvePath(p.Path, t.Cwd), true
}

func (t *FSWrite) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p fsWriteInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	resolved := resolvePath(p.Path, t.Cwd)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path), nil
}

// FSRemove deletes a file. Mutating.
type FSRemove struct{ Cwd string }

func (t *FSRemove) Name() string        { return "fs_remove" }
func (t *FSRemove) Description() string { return "Delete a file." }
func (t *FSRemove) Schema() map[string]any {
	return schemaObject(map[string]any{
		"path": strProp("Path to the file, absolute or relative to the working directory."),
	}, "path")
}

type fsRemoveInput struct {
	Path string `json:"path"`
}

func (t *FSRemove) Operation(input json.RawMessage) core.Operation {
	var p fsRemoveInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpWrite, Path: resolvePath(p.Path, t.Cwd), Cwd: t.Cwd}
}

func (t *FSRemove) SnapshotPath(input json.RawMessage) (string, bool) {
	var p fsRemoveInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", false
	}
	return resolvePath(p.Path, t.Cwd), true
}

func (t *FSRemove) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p fsRemoveInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	resolved := resolvePath(p.Path, t.Cwd)
	if err := os.Remove(resolved); err != nil {
		return "", fmt.Errorf("remove %s: %w", p.Path, err)
	}
	return fmt.Sprintf("removed %s", p.Path), nil
}
