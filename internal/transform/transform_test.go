package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecore/forge/internal/core"
)

func TestKeepFirstUserMessage_CollapsesIntoFirst(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewUserMessage("first", ""),
		core.NewAssistantMessage("reply", nil),
		core.NewUserMessage("second", ""),
		core.NewUserMessage("third", ""),
	}}

	out := KeepFirstUserMessage()(ctx)

	userCount := 0
	for _, m := range out.Messages {
		if m.Role == core.RoleUser {
			userCount++
		}
	}
	assert.Equal(t, 1, userCount)
	assert.Contains(t, out.Messages[0].Content, "first")
	assert.Contains(t, out.Messages[0].Content, "second")
	assert.Contains(t, out.Messages[0].Content, "third")
}

func TestStripWorkingDir(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewUserMessage("Working directory: /home/user/project\nplease fix the bug", ""),
	}}

	out := StripWorkingDir()(ctx)

	assert.Equal(t, "please fix the bug", out.Messages[0].Content)
}

func TestStripWorkingDir_NoPrefixLeavesContentUnchanged(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{core.NewUserMessage("just a question", "")}}
	out := StripWorkingDir()(ctx)
	assert.Equal(t, "just a question", out.Messages[0].Content)
}

func TestTrimContextSummary(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	ctx := core.Context{Messages: []core.Message{core.NewSystemMessage(string(long))}}

	out := TrimContextSummary(10)(ctx)

	assert.LessOrEqual(t, len(out.Messages[0].Content), 10+len("\n...[summary truncated]"))
	assert.Contains(t, out.Messages[0].Content, "truncated")
}

func TestMergeContextSummary(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewSystemMessage("summary part one"),
		core.NewSystemMessage("summary part two"),
		core.NewUserMessage("hello", ""),
	}}

	out := MergeContextSummary()(ctx)

	assert.Len(t, out.Messages, 2)
	assert.Contains(t, out.Messages[0].Content, "summary part one")
	assert.Contains(t, out.Messages[0].Content, "summary part two")
}

func TestDropInvalidToolUse(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewAssistantMessage("", []core.ToolCall{
			{ID: "answered", Name: "fs_read"},
			{ID: "orphaned", Name: "fs_read"},
		}),
		core.NewToolResultMessage("answered", "ok", false),
	}}

	out := DropInvalidToolUse()(ctx)

	calls := out.Messages[0].ToolCalls
	assert.Len(t, calls, 1)
	assert.Equal(t, "answered", calls[0].ID)
}

func TestForProvider_GoogleIncludesKeepFirstUserMessage(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewUserMessage("a", ""),
		core.NewUserMessage("b", ""),
	}}

	out := ForProvider(core.ProviderGoogle).Run(ctx)

	userCount := 0
	for _, m := range out.Messages {
		if m.Role == core.RoleUser {
			userCount++
		}
	}
	assert.Equal(t, 1, userCount)
}

func TestForProvider_OllamaCapitalizesToolNames(t *testing.T) {
	ctx := core.Context{Messages: []core.Message{
		core.NewAssistantMessage("", []core.ToolCall{{ID: "1", Name: "fs_read"}}),
		core.NewToolResultMessage("1", "ok", false),
	}}

	out := ForProvider(core.ProviderOllama).Run(ctx)

	assert.Equal(t, "FS_READ", out.Messages[0].ToolCalls[0].Name)
}
