// Package events defines the immutable value types that make up a session's
// execution log: Actions emitted by the agent, Observations produced by the
// environment, and the tagged wire codec used to persist and stream them.
//
// Events form a closed sum. Every variant embeds Envelope, which carries the
// monotonic per-session id, wall-clock timestamp, source, and hidden flag.
// Consumers pattern match on the concrete type.
package events

import (
	"fmt"
	"time"
)

// Source identifies who produced an event.
type Source string

const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// SecurityRisk is the agent's self-assessed risk of a runnable action.
type SecurityRisk string

const (
	RiskUnknown SecurityRisk = "unknown"
	RiskLow     SecurityRisk = "low"
	RiskMedium  SecurityRisk = "medium"
	RiskHigh    SecurityRisk = "high"
)

// Error kinds carried by failed observations. These are wire-level values;
// clients must tolerate kinds they do not recognize.
const (
	ErrKindAPIConnection   = "api_connection"
	ErrKindRateLimited     = "rate_limited"
	ErrKindInternal        = "internal"
	ErrKindInvalidRequest  = "invalid_request"
	ErrKindInvalidInput    = "invalid_input"
	ErrKindUnknownTool     = "unknown_tool"
	ErrKindToolExecution   = "tool_execution"
	ErrKindTimeout         = "timeout"
	ErrKindCancelled       = "cancelled"
	ErrKindContextOverflow = "context_overflow"
	ErrKindMaxTurns        = "max_turns"
)

// Envelope carries the fields shared by every event. IDs are assigned by the
// session controller and are strictly increasing within a session. Hidden
// events stay in the durable log but are excluded from the LLM projection.
type Envelope struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"timestamp"`
	Source Source    `json:"source"`
	Hidden bool      `json:"hidden,omitempty"`
}

// Header returns the shared event fields for reading and, in the controller,
// for id assignment.
func (e *Envelope) Header() *Envelope { return e }

// Event is the closed sum of Actions, Observations, and control events.
type Event interface {
	Header() *Envelope
	Type() string
}

// Action is an intent emitted by an agent.
type Action interface {
	Event
	isAction()
}

// Observation is a result produced by the environment. Cause is the id of
// the Action that produced it; 0 means no causing action, which is legal
// only for user-message observations.
type Observation interface {
	Event
	Cause() int64
}

// UnknownEvent preserves events whose type tag this build does not know.
// Clients are expected to be forward compatible with new types.
type UnknownEvent struct {
	Envelope
	Kind string `json:"-"`
	Raw  []byte `json:"-"`
}

func (e *UnknownEvent) Type() string { return e.Kind }

// Span is a half-open id range [From, Until) rewound by a TruncationEvent.
type Span struct {
	From  int64
	Until int64
}

// Covers reports whether id falls inside the span.
func (s Span) Covers(id int64) bool { return id >= s.From && id < s.Until }

// RewoundSpans collects the id ranges excluded by the log's truncation
// markers. A later marker may cover earlier ones.
func RewoundSpans(log []Event) []Span {
	var spans []Span
	for _, ev := range log {
		if t, ok := ev.(*TruncationEvent); ok {
			spans = append(spans, Span{From: t.FromID, Until: t.ID})
		}
	}
	return spans
}

// Visible filters a log down to what the LLM projection may see: hidden
// events are dropped, and ranges rewound by a TruncationEvent are skipped
// along with the markers themselves. The input order is preserved.
func Visible(log []Event) []Event {
	spans := RewoundSpans(log)

	out := make([]Event, 0, len(log))
	for _, ev := range log {
		h := ev.Header()
		if h.Hidden {
			continue
		}
		if _, ok := ev.(*TruncationEvent); ok {
			continue
		}
		skipped := false
		for _, s := range spans {
			if s.Covers(h.ID) {
				skipped = true
				break
			}
		}
		if skipped {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ValidateLog checks the ordering invariants of a session log: ids strictly
// increase, and every observation's cause references an earlier action.
func ValidateLog(log []Event) error {
	var prev int64
	actions := make(map[int64]bool, len(log))
	for i, ev := range log {
		h := ev.Header()
		if h.ID <= prev {
			return fmt.Errorf("event %d: id %d not greater than predecessor %d", i, h.ID, prev)
		}
		prev = h.ID
		if _, ok := ev.(Action); ok {
			actions[h.ID] = true
		}
		if obs, ok := ev.(Observation); ok {
			cause := obs.Cause()
			if cause == 0 {
				continue
			}
			if cause >= h.ID {
				return fmt.Errorf("event %d: cause %d does not precede id %d", i, cause, h.ID)
			}
			if !actions[cause] {
				return fmt.Errorf("event %d: cause %d is not a known action", i, cause)
			}
		}
	}
	return nil
}
