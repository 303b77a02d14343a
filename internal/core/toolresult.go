package core

// ToolResult is what the Dispatcher hands back to the orchestrator for one
// ToolCall. It is fed into Context as a RoleToolResult Message.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ErrorResult is a convenience constructor for is_error=true results,
// mirroring the teacher's types.ErrorResult helper
// (internal/tools pattern seen from gateway.go's toolResult = types.ErrorResult(err.Error())).
func ErrorResult(callID, msg string) ToolResult {
	return ToolResult{CallID: callID, Content: msg, IsError: true}
}

func SuccessResult(callID, content string) ToolResult {
	return ToolResult{CallID: callID, Content: content, IsError: false}
}
