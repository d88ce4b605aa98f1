// Package sessions persists conversation history as an append-only event log
// and derives the provider-facing message view from it.
package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// Event types recorded in a session's history.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventToolCallRequest  = "tool_call_request"
	EventToolCallResult   = "tool_call_result"
	EventConfirmation     = "confirmation"
	EventModelSwitch      = "model_switch"
	EventProtocolError    = "protocol_error"
)

// SessionEvent is a single immutable record in a session's history.
// TurnID groups events that belong to the same user input.
type SessionEvent struct {
	EventID   string         `json:"event_id"`
	TurnID    string         `json:"turn_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func newEvent(eventType, turnID string, payload map[string]any) *SessionEvent {
	return &SessionEvent{
		EventID:   uuid.NewString(),
		TurnID:    turnID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewUserMessageEvent records a user input.
func NewUserMessageEvent(turnID, content string) *SessionEvent {
	return newEvent(EventUserMessage, turnID, map[string]any{"content": content})
}

// NewAssistantMessageEvent records an assistant reply. model is recorded only
// when non-empty.
func NewAssistantMessageEvent(turnID, content, model string) *SessionEvent {
	payload := map[string]any{"content": content}
	if model != "" {
		payload["model"] = model
	}
	return newEvent(EventAssistantMessage, turnID, payload)
}

// NewToolCallRequestEvent records an assembled tool call before execution.
func NewToolCallRequestEvent(turnID string, call models.ToolCall) *SessionEvent {
	return newEvent(EventToolCallRequest, turnID, map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"arguments":    call.Arguments,
	})
}

// NewToolCallResultEvent records the outcome of one tool call. Artifact
// payloads and refs are deliberately not persisted; artifacts live in the
// artifact store keyed by hash.
func NewToolCallResultEvent(turnID, toolCallID, toolName string, result *models.ToolResult) *SessionEvent {
	return newEvent(EventToolCallResult, turnID, map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    toolName,
		"success":      result.Success,
		"content":      result.Content,
		"data":         result.Data,
		"error":        result.Error,
		"error_code":   string(result.ErrorCode),
		"metadata":     result.Metadata,
	})
}

// NewConfirmationEvent records whether the user approved a gated tool call.
func NewConfirmationEvent(turnID, toolCallID, toolName string, confirmed bool) *SessionEvent {
	return newEvent(EventConfirmation, turnID, map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    toolName,
		"confirmed":    confirmed,
	})
}

// NewModelSwitchEvent records a change of the active provider model.
func NewModelSwitchEvent(turnID, fromModel, toModel string) *SessionEvent {
	return newEvent(EventModelSwitch, turnID, map[string]any{
		"from_model": fromModel,
		"to_model":   toModel,
	})
}

// NewProtocolErrorEvent records an unrecoverable stream protocol failure.
func NewProtocolErrorEvent(turnID, message string, details map[string]any) *SessionEvent {
	payload := map[string]any{"message": message}
	if details != nil {
		payload["details"] = details
	}
	return newEvent(EventProtocolError, turnID, payload)
}
