// Package tokens estimates the token footprint of history turns so the
// context manager can compare it against the session budget. Only relative
// accuracy matters; the budget check never needs vendor-exact counts.
package tokens

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/conductor/internal/history"
)

// Per-message framing costs, following the OpenAI chat accounting scheme.
// Providers differ slightly; the small fixed costs keep estimates on the
// safe side of the budget.
const (
	turnOverheadTokens  = 4
	blockOverheadTokens = 4
	replyPrimerTokens   = 3
)

// Counter is deterministic and stateless; one instance may be shared across
// sessions.
type Counter interface {
	CountText(text string) int
	CountBlock(block history.Block) int
	CountTurns(turns []history.Turn) int
}

// NewCounter returns a counter for the given model. It prefers the model's
// own BPE encoding, then the cl100k_base encoding, then a character
// heuristic when no encoding data is available (for example, offline).
func NewCounter(modelName string) Counter {
	if modelName != "" {
		if enc, err := tiktoken.EncodingForModel(modelName); err == nil {
			return &bpeCounter{enc: enc}
		}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &bpeCounter{enc: enc}
	}
	return heuristicCounter{}
}

// NewHeuristicCounter returns the character-based fallback counter.
func NewHeuristicCounter() Counter { return heuristicCounter{} }

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *bpeCounter) CountBlock(block history.Block) int  { return countBlock(c, block) }
func (c *bpeCounter) CountTurns(turns []history.Turn) int { return countTurns(c, turns) }

// heuristicCounter approximates one token per four characters, which tracks
// English BPE output closely enough for budget comparisons.
type heuristicCounter struct{}

func (heuristicCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

func (c heuristicCounter) CountBlock(block history.Block) int  { return countBlock(c, block) }
func (c heuristicCounter) CountTurns(turns []history.Turn) int { return countTurns(c, turns) }

func countBlock(c Counter, block history.Block) int {
	switch b := block.(type) {
	case history.TextBlock:
		return c.CountText(b.Text)
	case history.ToolCallBlock:
		return blockOverheadTokens + c.CountText(b.Name) + c.CountText(string(b.Input))
	case history.ToolResultBlock:
		return blockOverheadTokens + c.CountText(b.ToolCallID) + c.CountText(b.Content)
	default:
		return 0
	}
}

func countTurns(c Counter, turns []history.Turn) int {
	total := replyPrimerTokens
	for _, turn := range turns {
		total += turnOverheadTokens
		for _, block := range turn.Blocks {
			total += c.CountBlock(block)
		}
	}
	return total
}
