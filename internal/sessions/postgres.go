package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// pgMigrations mirrors the SQLite migrations in Postgres dialect.
var pgMigrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			event_id TEXT NOT NULL UNIQUE,
			turn_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn_id)`,
	},
	2: {
		`ALTER TABLE sessions ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ`,
		`UPDATE sessions SET updated_at = created_at WHERE updated_at IS NULL`,
		`ALTER TABLE sessions ALTER COLUMN updated_at SET NOT NULL`,
	},
}

// PostgresConfig holds connection settings for a Postgres-backed store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default connection settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "",
		Database:        "opsbench",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store on PostgreSQL for shared deployments.
type PostgresStore struct {
	db      *sql.DB
	writeMu sync.Mutex

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtListSessions  *sql.Stmt
	stmtTouchSession  *sql.Stmt
	stmtAppendEvent   *sql.Stmt
}

// NewPostgresStore connects using config and applies pending migrations.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newPostgresStoreWithDSN(dsn, config)
}

// NewPostgresStoreFromDSN connects using a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	current, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return &FutureSchemaError{Found: current, Supported: schemaVersion}
	}

	for version := current + 1; version <= schemaVersion; version++ {
		stmts, ok := pgMigrations[version]
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

func (s *PostgresStore) readSchemaVersion(ctx context.Context) (int, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version')`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if !exists {
		return 0, nil
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

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (session_id, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT session_id, created_at, updated_at, metadata
		FROM sessions WHERE session_id = $1
	`)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	s.stmtListSessions, err = s.db.Prepare(`
		SELECT session_id, created_at, updated_at, metadata
		FROM sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	s.stmtTouchSession, err = s.db.Prepare(`
		UPDATE sessions SET updated_at = $1 WHERE session_id = $2
	`)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	s.stmtAppendEvent, err = s.db.Prepare(`
		INSERT INTO events (session_id, event_id, turn_id, event_type, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return nil
}

// Close closes prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession,
		s.stmtGetSession,
		s.stmtListSessions,
		s.stmtTouchSession,
		s.stmtAppendEvent,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

// SchemaVersion returns the persisted schema version.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.readSchemaVersion(ctx)
}

// CreateSession inserts a new session row and returns its id.
func (s *PostgresStore) CreateSession(ctx context.Context, metadata map[string]any) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.stmtCreateSession.ExecContext(ctx, sessionID, now, now, metaJSON); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// GetSession returns session info, or ErrSessionNotFound.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	info := &SessionInfo{}
	var metaJSON []byte
	err := s.stmtGetSession.QueryRowContext(ctx, sessionID).Scan(
		&info.ID, &info.CreatedAt, &info.UpdatedAt, &metaJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &info.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return info, nil
}

// ListSessions returns all sessions, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	rows, err := s.stmtListSessions.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		info := &SessionInfo{}
		var metaJSON []byte
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.UpdatedAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &info.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its events in one transaction.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// AppendEvent persists one event and bumps the session's updated_at, in one
// committed transaction.
func (s *PostgresStore) AppendEvent(ctx context.Context, sessionID string, event *SessionEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	ts := event.Timestamp.UTC()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, ts, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	_, err = tx.StmtContext(ctx, s.stmtAppendEvent).ExecContext(ctx,
		sessionID, event.EventID, event.TurnID, event.EventType, ts, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

// GetEvents returns a session's events in append order, optionally filtered
// by event type.
func (s *PostgresStore) GetEvents(ctx context.Context, sessionID string, eventType string) ([]*SessionEvent, error) {
	query := `SELECT event_id, turn_id, event_type, timestamp, payload
		FROM events WHERE session_id = $1`
	args := []any{sessionID}
	if eventType != "" {
		query += ` AND event_type = $2`
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
			ev      SessionEvent
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.TurnID, &ev.EventType, &ev.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
