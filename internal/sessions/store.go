package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when the requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo describes a stored session. UpdatedAt tracks the last append.
type SessionInfo struct {
	ID        string         `json:"session_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Store is the durable session and event log.
//
// AppendEvent serializes writes per store instance; the order of events
// returned by GetEvents equals the order of successful appends. Each append
// commits before returning.
type Store interface {
	// CreateSession creates a session and returns its id.
	CreateSession(ctx context.Context, metadata map[string]any) (string, error)

	// GetSession returns session info, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]*SessionInfo, error)

	// DeleteSession removes a session and all its events atomically.
	DeleteSession(ctx context.Context, sessionID string) error

	// AppendEvent persists an event to the session's log.
	AppendEvent(ctx context.Context, sessionID string, event *SessionEvent) error

	// GetEvents returns a session's events in append order. If eventType is
	// non-empty only events of that type are returned.
	GetEvents(ctx context.Context, sessionID string, eventType string) ([]*SessionEvent, error)

	// SchemaVersion returns the persisted schema version.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases the underlying database handle.
	Close() error
}

// FutureSchemaError is returned when a database was written by a newer
// release than this one supports.
type FutureSchemaError struct {
	Found     int
	Supported int
}

func (e *FutureSchemaError) Error() string {
	return fmt.Sprintf("database schema version %d is newer than supported version %d", e.Found, e.Supported)
}
