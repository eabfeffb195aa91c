// Package sessions persists session metadata, event logs, and controller
// checkpoints.
//
// The event log is the durable source of truth for a session; the checkpoint
// only caches what the controller needs to resume without replaying from
// zero. Appends are idempotent on (session_id, event_id) so the at-least-once
// event writer can replay safely.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/conductor/pkg/events"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session not found")

// Session is the stored metadata for one agent session.
type Session struct {
	ID            string    `json:"id"`
	WorkspaceRoot string    `json:"workspace_root"`
	Title         string    `json:"title,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Checkpoint is the controller state saved alongside the log. NextEventID
// preserves id monotonicity across restarts even when the tail of the log
// was produced by a build that wrote events this one cannot decode.
type Checkpoint struct {
	AgentState  string         `json:"agent_state"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	NextEventID int64          `json:"next_event_id"`
}

// ListOptions bounds a List call.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the session persistence interface.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, opts ListOptions) ([]*Session, error)
	Delete(ctx context.Context, id string) error

	// Append adds one event to the session's log. Appending an event id
	// that already exists is a no-op.
	Append(ctx context.Context, id string, event events.Event) error

	// Load returns the ordered event log and the latest checkpoint. The
	// checkpoint is nil when none was saved yet.
	Load(ctx context.Context, id string) ([]events.Event, *Checkpoint, error)

	SaveState(ctx context.Context, id string, state *Checkpoint) error
}
