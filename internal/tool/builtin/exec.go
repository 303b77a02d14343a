package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/forgecore/forge/internal/core"
)

// Shell runs a command through bash -c, mirroring the teacher's
// ExecTool.
type Shell struct{ Cwd string }

func (t *Shell) Name() string        { return "shell" }
func (t *Shell) Description() string { return "Run a shell command and return its combined stdout/stderr." }
func (t *Shell) Schema() map[string]any {
	return schemaObject(map[string]any{
		"command": strProp("The shell command to run."),
	}, "command")
}

type shellInput struct {
	Command string `json:"command"`
}

func (t *Shell) Operation(input json.RawMessage) core.Operation {
	var p shellInput
	_ = json.Unmarshal(input, &p)
	return core.Operation{Kind: core.OpExecute, Command: p.Command, Cwd: t.Cwd}
}

func (t *Shell) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var p shellInput
	if err := json.Unmarshal(input, &p); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", p.Command)
	cmd.Dir = t.Cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := buf.String()
	if err != nil {
		return out, fmt.Errorf("command exited with error: %w", err)
	}
	return out, nil
}
