// Package agent implements the per-session execution loop: a thin LLM
// policy that maps the event log to the next action, and a single-threaded
// controller that drives the state machine, dispatches tools, and records
// every event durably before acting on it.
package agent

import (
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/events"
)

// AgentState is the controller's position in the session state machine.
type AgentState string

const (
	StateInit      AgentState = "INIT"
	StateThinking  AgentState = "THINKING"
	StateActing    AgentState = "ACTING"
	StateWaiting   AgentState = "WAITING"
	StateCompleted AgentState = "COMPLETED"
	StateError     AgentState = "ERROR"
)

// Terminal reports whether the loop has stopped. A terminal session still
// accepts new user messages, which re-enter THINKING.
func (s AgentState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// State is a session's full mutable condition: the append-only event log
// plus the loop position and accumulated outputs. The log is the source of
// truth; everything the LLM sees is projected from it.
type State struct {
	SessionID   string
	AgentState  AgentState
	Events      []events.Event
	Outputs     map[string]any
	NextEventID int64
}

// NewState returns the initial state for a fresh session.
func NewState(sessionID string) *State {
	return &State{
		SessionID:   sessionID,
		AgentState:  StateInit,
		Outputs:     make(map[string]any),
		NextEventID: 1,
	}
}

// Restore rebuilds state from a stored log and checkpoint. A nil checkpoint
// means the session never saved one; the id counter is then derived from the
// log so replays keep ids strictly increasing.
func Restore(sessionID string, log []events.Event, cp *sessions.Checkpoint) *State {
	s := NewState(sessionID)
	s.Events = log
	for _, ev := range log {
		if id := ev.Header().ID; id >= s.NextEventID {
			s.NextEventID = id + 1
		}
	}
	if cp == nil {
		return s
	}
	if cp.AgentState != "" {
		s.AgentState = AgentState(cp.AgentState)
	}
	for k, v := range cp.Outputs {
		s.Outputs[k] = v
	}
	if cp.NextEventID > s.NextEventID {
		s.NextEventID = cp.NextEventID
	}
	return s
}

// Record assigns the next event id and appends the event to the log. Only
// the controller calls this, which is what keeps ids strictly increasing.
func (s *State) Record(ev events.Event) {
	ev.Header().ID = s.NextEventID
	s.NextEventID++
	s.Events = append(s.Events, ev)
}

// Checkpoint snapshots the resumable part of the state. The event log
// itself is persisted separately, one append per event.
func (s *State) Checkpoint() *sessions.Checkpoint {
	outputs := make(map[string]any, len(s.Outputs))
	for k, v := range s.Outputs {
		outputs[k] = v
	}
	return &sessions.Checkpoint{
		AgentState:  string(s.AgentState),
		Outputs:     outputs,
		NextEventID: s.NextEventID,
	}
}

// FinalAnswer returns the recorded final answer, if any.
func (s *State) FinalAnswer() string {
	if v, ok := s.Outputs["final_answer"].(string); ok {
		return v
	}
	return ""
}
