package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schemaVersion is the newest schema this build understands.
const schemaVersion = 2

// sqliteTimeLayout is RFC 3339 with fixed-width nanoseconds so TEXT
// timestamp columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// migrations maps a target version to the statements that bring the previous
// version up to it. Each step runs in its own transaction.
var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			turn_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			payload TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn_id)`,
	},
	2: {
		`ALTER TABLE sessions ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
		`UPDATE sessions SET updated_at = created_at WHERE updated_at = ''`,
	},
}

// SQLiteStore is the default Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB

	// writeMu serializes mutations. SQLite allows one writer at a time; the
	// mutex keeps write transactions from ever contending.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL and
// foreign keys, and applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dbPath, err)
	}
	// foreign_keys is per-connection; pin the pool to one so the pragma holds.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies pending migrations, one transaction per version step.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	current, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return &FutureSchemaError{Found: current, Supported: schemaVersion}
	}

	for version := current + 1; version <= schemaVersion; version++ {
		stmts, ok := migrations[version]
		if !ok {
			return fmt.Errorf("missing migration for schema version %d", version)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %d: %w", version, err)
			}
		}
		if err := setSchemaVersion(tx, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) readSchemaVersion(ctx context.Context) (int, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}

	var version int
	err = s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion is shared by both stores; the version is interpolated
// directly because placeholder syntax differs between drivers.
func setSchemaVersion(tx *sql.Tx, version int) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := tx.Exec(fmt.Sprintf(`INSERT INTO schema_version (version) VALUES (%d)`, version))
		return err
	}
	_, err := tx.Exec(fmt.Sprintf(`UPDATE schema_version SET version = %d`, version))
	return err
}

// SchemaVersion returns the persisted schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.readSchemaVersion(ctx)
}

// CreateSession inserts a new session row and returns its id.
func (s *SQLiteStore) CreateSession(ctx context.Context, metadata map[string]any) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC().Format(sqliteTimeLayout)

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at, metadata) VALUES (?, ?, ?, ?)`,
		sessionID, now, now, string(metaJSON),
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// GetSession returns session info, or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	info, err := scanSessionInfo(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return info, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at, updated_at, metadata FROM sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		info, err := scanSessionInfo(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its events in one transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	// The FK cascade would cover this; being explicit keeps the statement
	// portable across both stores.
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// AppendEvent persists one event and bumps the session's updated_at, in one
// committed transaction.
func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, event *SessionEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	ts := event.Timestamp.UTC().Format(sqliteTimeLayout)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`, ts, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_id, event_id, turn_id, event_type, timestamp, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, event.EventID, event.TurnID, event.EventType, ts, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

// GetEvents returns a session's events in append order, optionally filtered
// by event type.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string, eventType string) ([]*SessionEvent, error) {
	query := `SELECT event_id, turn_id, event_type, timestamp, payload
		FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []*SessionEvent
	for rows.Next() {
		var (
			ev          SessionEvent
			ts, payload string
		)
		if err := rows.Scan(&ev.EventID, &ev.TurnID, &ev.EventType, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// scanSessionInfo decodes one sessions row via the given scan function.
func scanSessionInfo(scan func(...any) error) (*SessionInfo, error) {
	var (
		info                 SessionInfo
		created, updated, md string
	)
	if err := scan(&info.ID, &created, &updated, &md); err != nil {
		return nil, err
	}
	var err error
	info.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	info.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(md), &info.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &info, nil
}
