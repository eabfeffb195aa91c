// Package stream fans session events out to consumers: the durable store
// writer, websocket push, and test callbacks.
//
// The controller is the only producer per session, and it must never block
// on a slow consumer. The Queue gives every consumer its own bounded buffer
// and drops the consumer, not the event, when the buffer stays full.
package stream

import (
	"context"

	"github.com/haasonsaas/conductor/pkg/events"
)

// Sink receives session events. Implementations must be safe to call from
// multiple goroutines.
type Sink interface {
	Emit(ctx context.Context, e events.Event)
}

// Callback wraps a function as a Sink.
type Callback struct {
	fn func(ctx context.Context, e events.Event)
}

// NewCallback creates a sink that invokes fn for each event.
func NewCallback(fn func(ctx context.Context, e events.Event)) *Callback {
	return &Callback{fn: fn}
}

func (s *Callback) Emit(ctx context.Context, e events.Event) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// Multi fans out to several sinks in order. Nil sinks are filtered out.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a composite sink.
func NewMulti(sinks ...Sink) *Multi {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Multi{sinks: filtered}
}

func (s *Multi) Emit(ctx context.Context, e events.Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(context.Context, events.Event) {}
