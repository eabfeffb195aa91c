// Package context keeps conversation history inside the model's token
// budget.
//
// Three strategies implement the same Manager interface: Truncator drops old
// turns, Summarizer compresses them through an LLM, Passthrough does
// nothing. A strategy never mutates its input; the caller gets a fresh slice
// when anything changed.
package context

import (
	"context"

	"github.com/haasonsaas/conductor/internal/history"
)

// Defaults shared by the strategies.
const (
	// DefaultTokenBudget is the ceiling applied when the config names none.
	DefaultTokenBudget = 120000

	// DefaultHead is how many recent turns the Summarizer keeps verbatim.
	DefaultHead = 10

	// DefaultMaxSummaryChars bounds the generated summary text.
	DefaultMaxSummaryChars = 2000
)

// Manager reduces a projected history to fit the token budget.
type Manager interface {
	Apply(ctx context.Context, turns []history.Turn) ([]history.Turn, error)
}

// Passthrough performs no context management.
type Passthrough struct{}

func (Passthrough) Apply(_ context.Context, turns []history.Turn) ([]history.Turn, error) {
	return turns, nil
}

func hasToolCall(t history.Turn) bool {
	for _, b := range t.Blocks {
		if _, ok := b.(history.ToolCallBlock); ok {
			return true
		}
	}
	return false
}

func hasToolResult(t history.Turn) bool {
	for _, b := range t.Blocks {
		if _, ok := b.(history.ToolResultBlock); ok {
			return true
		}
	}
	return false
}

func isUserText(t history.Turn) bool {
	if t.Role != history.RoleUser {
		return false
	}
	for _, b := range t.Blocks {
		if _, ok := b.(history.TextBlock); !ok {
			return false
		}
	}
	return len(t.Blocks) > 0
}
