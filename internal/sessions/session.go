package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// ErrNoActiveSession is returned when events are appended or read before
// Start or Resume established a session.
var ErrNoActiveSession = errors.New("no active session: call Start or Resume first")

// Session is the facade over one conversation. It tracks the active session
// and turn ids and appends events through the store; the provider-facing
// message view is derived from the event log.
type Session struct {
	store     Store
	artifacts artifacts.Store
	packer    *ContextPacker

	sessionID string
	turnID    string
}

// NewSession wires a facade over the given stores. The counter drives
// context packing.
func NewSession(store Store, artifactStore artifacts.Store, counter TokenEstimator) *Session {
	return &Session{
		store:     store,
		artifacts: artifactStore,
		packer:    NewContextPacker(counter),
	}
}

// Start creates a fresh session and makes it active.
func (s *Session) Start(ctx context.Context, metadata map[string]any) (string, error) {
	id, err := s.store.CreateSession(ctx, metadata)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	s.sessionID = id
	s.turnID = ""
	return id, nil
}

// Resume makes an existing session active. Unknown ids fail with
// ErrSessionNotFound.
func (s *Session) Resume(ctx context.Context, sessionID string) error {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	s.sessionID = sessionID
	s.turnID = ""
	return nil
}

// ID returns the active session id, empty before Start or Resume.
func (s *Session) ID() string { return s.sessionID }

// Artifacts returns the artifact store attached to this session.
func (s *Session) Artifacts() artifacts.Store { return s.artifacts }

// Store returns the backing event store.
func (s *Session) Store() Store { return s.store }

// NewTurn begins a new turn and returns its id.
func (s *Session) NewTurn() string {
	s.turnID = uuid.NewString()
	return s.turnID
}

// TurnID returns the current turn id, starting a turn if none is active.
func (s *Session) TurnID() string {
	if s.turnID == "" {
		return s.NewTurn()
	}
	return s.turnID
}

// AppendEvent persists one event onto the active session.
func (s *Session) AppendEvent(ctx context.Context, event *SessionEvent) error {
	if s.sessionID == "" {
		return ErrNoActiveSession
	}
	return s.store.AppendEvent(ctx, s.sessionID, event)
}

// Events returns the active session's events in append order, optionally
// filtered by event type.
func (s *Session) Events(ctx context.Context, eventType string) ([]*SessionEvent, error) {
	if s.sessionID == "" {
		return nil, ErrNoActiveSession
	}
	return s.store.GetEvents(ctx, s.sessionID, eventType)
}

// Messages derives the provider-facing conversation from the event log.
func (s *Session) Messages(ctx context.Context) ([]models.Message, error) {
	events, err := s.Events(ctx, "")
	if err != nil {
		return nil, err
	}
	return deriveMessages(events), nil
}

// ContextWindow derives the conversation and packs it to fit the model's
// window alongside the tool schemas and system prompt.
func (s *Session) ContextWindow(
	ctx context.Context,
	tools []models.ToolDefinition,
	systemPrompt string,
	maxContext, maxOutput, reserve int,
) ([]models.Message, models.ContextPackReport, error) {
	msgs, err := s.Messages(ctx)
	if err != nil {
		return nil, models.ContextPackReport{}, err
	}
	packed, report := s.packer.Pack(msgs, tools, systemPrompt, maxContext, maxOutput, reserve)
	return packed, report, nil
}

// deriveMessages replays events into messages. Tool call requests buffer
// until the next non-request event, then attach to the most recent assistant
// message, so an assistant turn carries its tool calls inline. Confirmation,
// model switch and protocol error events carry metadata only and emit
// nothing.
func deriveMessages(events []*SessionEvent) []models.Message {
	var (
		messages []models.Message
		pending  []models.ToolCall
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleAssistant {
				messages[i].ToolCalls = append(messages[i].ToolCalls, pending...)
				break
			}
		}
		pending = nil
	}

	for _, ev := range events {
		p := ev.Payload
		switch ev.EventType {
		case EventUserMessage:
			flush()
			messages = append(messages, models.Message{
				Role:    models.RoleUser,
				Content: payloadString(p, "content"),
			})
		case EventAssistantMessage:
			flush()
			messages = append(messages, models.Message{
				Role:    models.RoleAssistant,
				Content: payloadString(p, "content"),
				Model:   payloadString(p, "model"),
			})
		case EventToolCallRequest:
			pending = append(pending, models.ToolCall{
				ID:        payloadString(p, "tool_call_id"),
				Name:      payloadString(p, "tool_name"),
				Arguments: payloadMap(p, "arguments"),
			})
		case EventToolCallResult:
			flush()
			content := payloadString(p, "content")
			if errMsg := payloadString(p, "error"); errMsg != "" {
				content = fmt.Sprintf("[Error] %s: %s", errMsg, content)
			}
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    content,
				ToolCallID: payloadString(p, "tool_call_id"),
			})
		}
	}
	flush()

	return messages
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadMap(p map[string]any, key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
