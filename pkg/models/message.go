package models

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ErrorCode classifies tool call failures for events and audit records.
type ErrorCode string

const (
	ErrValidation    ErrorCode = "validation_error"
	ErrPolicyBlock   ErrorCode = "policy_block"
	ErrTimeout       ErrorCode = "timeout"
	ErrToolException ErrorCode = "tool_exception"
	ErrUnknownTool   ErrorCode = "unknown_tool"
	ErrCancelled     ErrorCode = "cancelled"
	ErrBackend       ErrorCode = "backend_error"
	ErrLLMProtocol   ErrorCode = "llm_protocol_error"
)

// Message is a single conversation entry in provider-neutral form.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool result messages
	Name       string     `json:"name,omitempty"`
	Model      string     `json:"model,omitempty"`
}

// ToolCall is a fully assembled request from the model to run a tool.
// Arguments are already parsed from the provider's JSON fragments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing a single tool call. The call id and
// tool name travel alongside it; they are not part of the result itself.
// ArtifactPayloads hold raw bytes awaiting storage and are never serialized;
// once stored they are replaced by refs in Artifacts.
type ToolResult struct {
	Success          bool              `json:"success"`
	Content          string            `json:"content"`
	Data             any               `json:"data,omitempty"`
	ArtifactPayloads []ArtifactPayload `json:"-"`
	Artifacts        []ArtifactRef     `json:"artifacts,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorCode        ErrorCode         `json:"error_code,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}
