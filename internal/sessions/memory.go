package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/events"
)

// MemoryStore is a map-backed Store for local runs and tests. Events are
// kept in their wire encoding so callers always get fresh decoded values.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logs     map[string][]storedEvent
	states   map[string]*Checkpoint
}

type storedEvent struct {
	id      int64
	payload []byte
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
		logs:     map[string][]storedEvent{},
		states:   map[string]*Checkpoint{},
	}
}

func (m *MemoryStore) Create(_ context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *session
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to the caller.
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = &clone
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		clone := *s
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.logs, id)
	delete(m.states, id)
	return nil
}

func (m *MemoryStore) Append(_ context.Context, id string, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}
	eventID := event.Header().ID

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	for _, stored := range m.logs[id] {
		if stored.id == eventID {
			return nil
		}
	}
	m.logs[id] = append(m.logs[id], storedEvent{id: eventID, payload: payload})
	m.sessions[id].UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) ([]events.Event, *Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[id]; !ok {
		return nil, nil, ErrNotFound
	}

	stored := m.logs[id]
	log := make([]events.Event, 0, len(stored))
	for _, s := range stored {
		ev, err := events.Unmarshal(s.payload)
		if err != nil {
			return nil, nil, err
		}
		log = append(log, ev)
	}

	var state *Checkpoint
	if cp, ok := m.states[id]; ok {
		clone := *cp
		if cp.Outputs != nil {
			clone.Outputs = make(map[string]any, len(cp.Outputs))
			for k, v := range cp.Outputs {
				clone.Outputs[k] = v
			}
		}
		state = &clone
	}
	return log, state, nil
}

func (m *MemoryStore) SaveState(_ context.Context, id string, state *Checkpoint) error {
	if state == nil {
		return errors.New("checkpoint is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	clone := *state
	if state.Outputs != nil {
		clone.Outputs = make(map[string]any, len(state.Outputs))
		for k, v := range state.Outputs {
			clone.Outputs[k] = v
		}
	}
	m.states[id] = &clone
	m.sessions[id].UpdatedAt = time.Now()
	return nil
}
