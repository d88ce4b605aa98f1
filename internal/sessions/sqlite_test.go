package sessions

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/opsbench/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, map[string]any{"channel": "cli"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id == "" {
		t.Fatal("CreateSession() returned empty id")
	}

	info, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if info.ID != id {
		t.Errorf("ID = %q, want %q", info.ID, id)
	}
	if got := info.Metadata["channel"]; got != "cli" {
		t.Errorf("Metadata[channel] = %v, want %q", got, "cli")
	}
	if info.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if !info.UpdatedAt.Equal(info.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", info.UpdatedAt, info.CreatedAt)
	}
}

func TestSQLiteStore_CreateSessionNilMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	info, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if info.Metadata == nil {
		t.Error("Metadata = nil, want empty map")
	}
	if len(info.Metadata) != 0 {
		t.Errorf("Metadata has %d entries, want 0", len(info.Metadata))
	}
}

func TestSQLiteStore_GetSessionMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteStore_AppendAndGetEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	appended := []*SessionEvent{
		NewUserMessageEvent("turn-1", "check disk on web-1"),
		NewAssistantMessageEvent("turn-1", "Checking now.", "gpt-4o"),
		NewToolCallRequestEvent("turn-1", testToolCall("call_1", "disk_usage")),
	}
	for _, ev := range appended {
		if err := store.AppendEvent(ctx, id, ev); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", ev.EventType, err)
		}
	}

	events, err := store.GetEvents(ctx, id, "")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != len(appended) {
		t.Fatalf("GetEvents() returned %d events, want %d", len(events), len(appended))
	}
	for i, ev := range events {
		if ev.EventID != appended[i].EventID {
			t.Errorf("event %d id = %q, want %q", i, ev.EventID, appended[i].EventID)
		}
		if ev.EventType != appended[i].EventType {
			t.Errorf("event %d type = %q, want %q", i, ev.EventType, appended[i].EventType)
		}
		if ev.TurnID != "turn-1" {
			t.Errorf("event %d turn = %q, want turn-1", i, ev.TurnID)
		}
	}
	if got := payloadString(events[0].Payload, "content"); got != "check disk on web-1" {
		t.Errorf("user content = %q, want %q", got, "check disk on web-1")
	}
	if got := payloadString(events[1].Payload, "model"); got != "gpt-4o" {
		t.Errorf("assistant model = %q, want %q", got, "gpt-4o")
	}

	filtered, err := store.GetEvents(ctx, id, EventUserMessage)
	if err != nil {
		t.Fatalf("GetEvents(filtered) error = %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("filtered events = %d, want 1", len(filtered))
	}
	if filtered[0].EventType != EventUserMessage {
		t.Errorf("filtered type = %q, want %q", filtered[0].EventType, EventUserMessage)
	}
}

func TestSQLiteStore_AppendEventMissingSession(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendEvent(context.Background(), "ghost", NewUserMessageEvent("t", "hi"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AppendEvent() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteStore_AppendEventTouchesUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	before, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	ev := NewUserMessageEvent("turn-1", "hello")
	ev.Timestamp = before.CreatedAt.Add(time.Hour)
	if err := store.AppendEvent(ctx, id, ev); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	after, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want later than %v", after.UpdatedAt, before.UpdatedAt)
	}
}

func TestSQLiteStore_ReopenYieldsSameEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	id, err := store.CreateSession(ctx, map[string]any{"host": "web-1"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	want := []*SessionEvent{
		NewUserMessageEvent("turn-1", "first"),
		NewAssistantMessageEvent("turn-1", "second", ""),
	}
	for _, ev := range want {
		if err := store.AppendEvent(ctx, id, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	events, err := reopened.GetEvents(ctx, id, "")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != len(want) {
		t.Fatalf("reopened store returned %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.EventID != want[i].EventID {
			t.Errorf("event %d id = %q, want %q", i, ev.EventID, want[i].EventID)
		}
		if got := payloadString(ev.Payload, "content"); got != payloadString(want[i].Payload, "content") {
			t.Errorf("event %d content = %q, want %q", i, got, payloadString(want[i].Payload, "content"))
		}
	}
}

func TestSQLiteStore_DeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.AppendEvent(ctx, id, NewUserMessageEvent("turn-1", "hi")); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	if err := store.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() after delete error = %v, want ErrSessionNotFound", err)
	}
	events, err := store.GetEvents(ctx, id, "")
	if err != nil {
		t.Fatalf("GetEvents() after delete error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after delete = %d, want 0", len(events))
	}
}

func TestSQLiteStore_ListSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListSessions() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("order = [%s, %s], want newest first [%s, %s]",
			sessions[0].ID, sessions[1].ID, second, first)
	}
}

func TestSQLiteStore_FutureSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if _, err := store.db.Exec(`UPDATE schema_version SET version = 99`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = NewSQLiteStore(path)
	var futureErr *FutureSchemaError
	if !errors.As(err, &futureErr) {
		t.Fatalf("reopen error = %v, want FutureSchemaError", err)
	}
	if futureErr.Found != 99 || futureErr.Supported != schemaVersion {
		t.Errorf("FutureSchemaError = %+v, want Found=99 Supported=%d", futureErr, schemaVersion)
	}
}

func TestSQLiteStore_MigratesFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	// Build a version 1 database by hand: no updated_at column yet.
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, stmt := range migrations[1] {
		if _, err := tx.Exec(stmt); err != nil {
			t.Fatalf("apply v1 statement: %v", err)
		}
	}
	if err := setSchemaVersion(tx, 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	created := time.Now().UTC().Format(sqliteTimeLayout)
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, created_at, metadata) VALUES (?, ?, ?)`,
		"legacy", created, "{}",
	); err != nil {
		t.Fatalf("insert legacy session: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	version, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != schemaVersion {
		t.Errorf("SchemaVersion() = %d, want %d", version, schemaVersion)
	}

	info, err := store.GetSession(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("GetSession(legacy) error = %v", err)
	}
	if !info.UpdatedAt.Equal(info.CreatedAt) {
		t.Errorf("backfilled UpdatedAt = %v, want %v", info.UpdatedAt, info.CreatedAt)
	}
}

func testToolCall(id, name string) models.ToolCall {
	return models.ToolCall{
		ID:        id,
		Name:      name,
		Arguments: map[string]any{"target": "web-1"},
	}
}
