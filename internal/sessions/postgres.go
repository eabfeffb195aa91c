package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/conductor/pkg/events"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	workspace_root TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event_id   BIGINT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (session_id, event_id)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	payload    JSONB NOT NULL
);
`

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns the pool settings used in serve mode.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore persists sessions in PostgreSQL, for server deployments
// where multiple gateway processes share one store.
type PostgresStore struct {
	db *sql.DB

	stmtCreate    *sql.Stmt
	stmtGet       *sql.Stmt
	stmtDelete    *sql.Stmt
	stmtAppend    *sql.Stmt
	stmtTouch     *sql.Stmt
	stmtEvents    *sql.Stmt
	stmtGetState  *sql.Stmt
	stmtSaveState *sql.Stmt
}

// NewPostgresStore connects with a DSN or URL and migrates the schema.
func NewPostgresStore(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newPostgresStore(db, cfg, true)
}

// NewPostgresStoreFromDB wraps an existing handle; used with sqlmock in
// tests. The schema is assumed to exist.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	return newPostgresStore(db, nil, false)
}

func newPostgresStore(db *sql.DB, cfg *PostgresConfig, migrate bool) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if migrate {
		if _, err := db.Exec(postgresSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	s := &PostgresStore{db: db}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtCreate, `INSERT INTO sessions (id, workspace_root, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`},
		{&s.stmtGet, `SELECT id, workspace_root, title, created_at, updated_at FROM sessions WHERE id = $1`},
		{&s.stmtDelete, `DELETE FROM sessions WHERE id = $1`},
		{&s.stmtAppend, `INSERT INTO events (session_id, event_id, payload) VALUES ($1, $2, $3) ON CONFLICT (session_id, event_id) DO NOTHING`},
		{&s.stmtTouch, `UPDATE sessions SET updated_at = $1 WHERE id = $2`},
		{&s.stmtEvents, `SELECT payload FROM events WHERE session_id = $1 ORDER BY event_id`},
		{&s.stmtGetState, `SELECT payload FROM checkpoints WHERE session_id = $1`},
		{&s.stmtSaveState, `INSERT INTO checkpoints (session_id, payload) VALUES ($1, $2) ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload`},
	}
	for _, st := range stmts {
		prepared, err := db.Prepare(st.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare %q: %w", st.query, err)
		}
		*st.dst = prepared
	}
	return s, nil
}

// DB exposes the handle for the retention sweeper.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Create(ctx context.Context, session *Session) error {
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

	if _, err := s.stmtCreate.ExecContext(ctx,
		session.ID, session.WorkspaceRoot, session.Title, session.CreatedAt, session.UpdatedAt); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	session := &Session{}
	err := s.stmtGet.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.WorkspaceRoot, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_root, title, created_at, updated_at FROM sessions
		 ORDER BY updated_at DESC, id LIMIT $1 OFFSET $2`, limit, opts.Offset)
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

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, id string, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := s.stmtAppend.ExecContext(ctx, id, event.Header().ID, string(payload)); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if _, err := s.stmtTouch.ExecContext(ctx, time.Now(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) ([]events.Event, *Checkpoint, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, nil, err
	}

	rows, err := s.stmtEvents.QueryContext(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var log []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := events.Unmarshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decode event: %w", err)
		}
		log = append(log, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var state *Checkpoint
	var payload []byte
	err = s.stmtGetState.QueryRowContext(ctx, id).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	default:
		state = &Checkpoint{}
		if err := json.Unmarshal(payload, state); err != nil {
			return nil, nil, fmt.Errorf("decode checkpoint: %w", err)
		}
	}
	return log, state, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, id string, state *Checkpoint) error {
	if state == nil {
		return errors.New("checkpoint is required")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if _, err := s.stmtSaveState.ExecContext(ctx, id, string(payload)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
