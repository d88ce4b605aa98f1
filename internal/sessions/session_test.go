package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/pkg/models"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store := newTestStore(t)
	astore, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return NewSession(store, astore, testCounter())
}

func TestSession_StartAndResume(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	id, err := sess.Start(ctx, map[string]any{"source": "cli"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatal("Start() returned empty id")
	}
	if sess.ID() != id {
		t.Errorf("ID() = %q, want %q", sess.ID(), id)
	}

	other := NewSession(sess.Store(), sess.Artifacts(), testCounter())
	if err := other.Resume(ctx, id); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if other.ID() != id {
		t.Errorf("resumed ID() = %q, want %q", other.ID(), id)
	}
}

func TestSession_ResumeUnknownSession(t *testing.T) {
	sess := newTestSession(t)

	err := sess.Resume(context.Background(), "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Resume() error = %v, want ErrSessionNotFound", err)
	}
	if sess.ID() != "" {
		t.Errorf("ID() after failed resume = %q, want empty", sess.ID())
	}
}

func TestSession_RequiresActiveSession(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	if err := sess.AppendEvent(ctx, NewUserMessageEvent("turn", "hi")); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("AppendEvent() error = %v, want ErrNoActiveSession", err)
	}
	if _, err := sess.Messages(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Messages() error = %v, want ErrNoActiveSession", err)
	}
	if _, _, err := sess.ContextWindow(ctx, nil, "", 8192, 1024, 0); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ContextWindow() error = %v, want ErrNoActiveSession", err)
	}
}

func TestSession_TurnLifecycle(t *testing.T) {
	sess := newTestSession(t)

	first := sess.TurnID()
	if first == "" {
		t.Fatal("TurnID() returned empty id")
	}
	if again := sess.TurnID(); again != first {
		t.Errorf("TurnID() = %q, want stable %q", again, first)
	}

	second := sess.NewTurn()
	if second == "" || second == first {
		t.Errorf("NewTurn() = %q, want a fresh id", second)
	}
	if got := sess.TurnID(); got != second {
		t.Errorf("TurnID() after NewTurn = %q, want %q", got, second)
	}
}

func TestSession_MessagesDerivation(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	if _, err := sess.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	turn := sess.NewTurn()

	events := []*SessionEvent{
		NewUserMessageEvent(turn, "Check disk on web-1"),
		NewAssistantMessageEvent(turn, "I'll check.", "gpt-4o"),
		NewToolCallRequestEvent(turn, models.ToolCall{
			ID:        "call_1",
			Name:      "disk_usage",
			Arguments: map[string]any{"target": "web-1"},
		}),
		NewToolCallResultEvent(turn, "call_1", "disk_usage", &models.ToolResult{
			Success: true,
			Content: "72% used",
		}),
		NewAssistantMessageEvent(turn, "Disk is at 72%.", "gpt-4o"),
	}
	for _, ev := range events {
		if err := sess.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", ev.EventType, err)
		}
	}

	msgs, err := sess.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("Messages() returned %d messages, want 4", len(msgs))
	}

	if msgs[0].Role != models.RoleUser || msgs[0].Content != "Check disk on web-1" {
		t.Errorf("msgs[0] = %+v, want the user message", msgs[0])
	}

	assistant := msgs[1]
	if assistant.Role != models.RoleAssistant || assistant.Model != "gpt-4o" {
		t.Errorf("msgs[1] = %+v, want assistant with model", assistant)
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant has %d tool calls, want 1", len(assistant.ToolCalls))
	}
	call := assistant.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "disk_usage" {
		t.Errorf("tool call = %+v, want call_1/disk_usage", call)
	}
	if got := call.Arguments["target"]; got != "web-1" {
		t.Errorf("Arguments[target] = %v, want web-1", got)
	}

	toolMsg := msgs[2]
	if toolMsg.Role != models.RoleTool || toolMsg.Content != "72% used" {
		t.Errorf("msgs[2] = %+v, want tool result message", toolMsg)
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want call_1", toolMsg.ToolCallID)
	}

	if msgs[3].Role != models.RoleAssistant || len(msgs[3].ToolCalls) != 0 {
		t.Errorf("msgs[3] = %+v, want plain assistant message", msgs[3])
	}
}

func TestSession_MessagesFormatsFailedResults(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	if _, err := sess.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	turn := sess.NewTurn()

	events := []*SessionEvent{
		NewAssistantMessageEvent(turn, "Running it.", ""),
		NewToolCallRequestEvent(turn, models.ToolCall{ID: "call_9", Name: "run_shell", Arguments: map[string]any{}}),
		NewToolCallResultEvent(turn, "call_9", "run_shell", &models.ToolResult{
			Success:   false,
			Content:   "stderr says no",
			Error:     "exit status 1",
			ErrorCode: models.ErrToolException,
		}),
	}
	for _, ev := range events {
		if err := sess.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	msgs, err := sess.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Messages() returned %d messages, want 2", len(msgs))
	}
	want := "[Error] exit status 1: stderr says no"
	if msgs[1].Content != want {
		t.Errorf("tool content = %q, want %q", msgs[1].Content, want)
	}
}

func TestSession_MessagesSkipsMetadataEvents(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	if _, err := sess.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	turn := sess.NewTurn()

	events := []*SessionEvent{
		NewUserMessageEvent(turn, "delete the old logs"),
		NewConfirmationEvent(turn, "call_1", "run_shell", false),
		NewModelSwitchEvent(turn, "gpt-4o", "claude-sonnet-4"),
		NewProtocolErrorEvent(turn, "malformed tool arguments", map[string]any{"index": 0}),
	}
	for _, ev := range events {
		if err := sess.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", ev.EventType, err)
		}
	}

	msgs, err := sess.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Messages() returned %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != models.RoleUser {
		t.Errorf("msgs[0].Role = %q, want user", msgs[0].Role)
	}
}

func TestDeriveMessages_DanglingRequestsAreDropped(t *testing.T) {
	events := []*SessionEvent{
		NewToolCallRequestEvent("turn-1", models.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{}}),
		NewToolCallResultEvent("turn-1", "call_1", "echo", &models.ToolResult{Success: true, Content: "ok"}),
	}

	msgs := deriveMessages(events)

	// No assistant message exists to carry the calls; the result still emits.
	if len(msgs) != 1 {
		t.Fatalf("deriveMessages() returned %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != models.RoleTool || msgs[0].ToolCallID != "call_1" {
		t.Errorf("msgs[0] = %+v, want tool message for call_1", msgs[0])
	}
}

func TestDeriveMessages_MultipleCallsAttachToOneAssistant(t *testing.T) {
	events := []*SessionEvent{
		NewAssistantMessageEvent("turn-1", "Checking both.", "gpt-4o"),
		NewToolCallRequestEvent("turn-1", models.ToolCall{ID: "call_1", Name: "disk_usage", Arguments: map[string]any{}}),
		NewToolCallRequestEvent("turn-1", models.ToolCall{ID: "call_2", Name: "memory_usage", Arguments: map[string]any{}}),
		NewToolCallResultEvent("turn-1", "call_1", "disk_usage", &models.ToolResult{Success: true, Content: "disk ok"}),
		NewToolCallResultEvent("turn-1", "call_2", "memory_usage", &models.ToolResult{Success: true, Content: "memory ok"}),
	}

	msgs := deriveMessages(events)

	if len(msgs) != 3 {
		t.Fatalf("deriveMessages() returned %d messages, want 3", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 2 {
		t.Fatalf("assistant carries %d tool calls, want 2", len(msgs[0].ToolCalls))
	}
	if msgs[0].ToolCalls[0].ID != "call_1" || msgs[0].ToolCalls[1].ID != "call_2" {
		t.Errorf("tool call ids = %q, %q, want call_1, call_2",
			msgs[0].ToolCalls[0].ID, msgs[0].ToolCalls[1].ID)
	}
	if msgs[1].ToolCallID != "call_1" || msgs[2].ToolCallID != "call_2" {
		t.Errorf("tool message ids = %q, %q, want call_1, call_2",
			msgs[1].ToolCallID, msgs[2].ToolCallID)
	}
}

func TestDeriveMessages_FlushOnUserMessage(t *testing.T) {
	events := []*SessionEvent{
		NewAssistantMessageEvent("turn-1", "On it.", ""),
		NewToolCallRequestEvent("turn-1", models.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{}}),
		NewUserMessageEvent("turn-2", "never mind"),
	}

	msgs := deriveMessages(events)

	if len(msgs) != 2 {
		t.Fatalf("deriveMessages() returned %d messages, want 2", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 {
		t.Errorf("assistant carries %d tool calls, want 1", len(msgs[0].ToolCalls))
	}
}

func TestSession_ContextWindow(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	if _, err := sess.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	turn := sess.NewTurn()

	for _, ev := range []*SessionEvent{
		NewUserMessageEvent(turn, "first question"),
		NewAssistantMessageEvent(turn, "first answer", ""),
		NewUserMessageEvent(turn, "second question"),
	} {
		if err := sess.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	msgs, report, err := sess.ContextWindow(ctx, nil, "You are an ops assistant.", 128000, 4096, DefaultReserveTokens)
	if err != nil {
		t.Fatalf("ContextWindow() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("ContextWindow() kept %d messages, want 3", len(msgs))
	}
	if report.KeptMessages != 3 || report.DroppedMessages != 0 {
		t.Errorf("report kept/dropped = %d/%d, want 3/0", report.KeptMessages, report.DroppedMessages)
	}
	if report.SystemPromptTokens == 0 {
		t.Error("SystemPromptTokens = 0, want > 0")
	}
}
