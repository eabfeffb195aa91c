package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/conductor/pkg/events"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	workspace_root TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	event_id   INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, event_id)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL
);
`

// SQLiteStore persists sessions in a local SQLite database. The driver is
// pure Go, so the binary stays cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle for the retention sweeper.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, workspace_root, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.WorkspaceRoot, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_root, title, created_at, updated_at FROM sessions WHERE id = ?`, id)
	session := &Session{}
	err := row.Scan(&session.ID, &session.WorkspaceRoot, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_root, title, created_at, updated_at FROM sessions
		 ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(&session.ID, &session.WorkspaceRoot, &session.Title,
			&session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, id)
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (session_id, event_id, payload) VALUES (?, ?, ?)`,
		id, event.Header().ID, string(payload))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) ([]events.Event, *Checkpoint, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE session_id = ? ORDER BY event_id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var log []events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := events.Unmarshal([]byte(payload))
		if err != nil {
			return nil, nil, fmt.Errorf("decode event: %w", err)
		}
		log = append(log, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var state *Checkpoint
	var payload string
	err = s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE session_id = ?`, id).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	default:
		state = &Checkpoint{}
		if err := json.Unmarshal([]byte(payload), state); err != nil {
			return nil, nil, fmt.Errorf("decode checkpoint: %w", err)
		}
	}
	return log, state, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, id string, state *Checkpoint) error {
	if state == nil {
		return errors.New("checkpoint is required")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, payload) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload`,
		id, string(payload))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
