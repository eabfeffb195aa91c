package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tokens"
	"github.com/haasonsaas/conductor/internal/tools"
)

// SummaryPrefix marks the synthetic turn that replaces summarized history.
const SummaryPrefix = "[Conversation summary] "

// Provider generates a summary of the given turns. Kept as a local
// interface so fakes can stand in for the LLM in tests.
type Provider interface {
	Summarize(ctx context.Context, turns []history.Turn) (string, error)
}

// Summarizer compresses old history through an LLM. The Head most recent
// turns survive verbatim; everything older is replaced by one synthetic user
// turn carrying the summary. When summarization fails, or the summarized
// history still exceeds the budget, it falls back to plain truncation.
type Summarizer struct {
	Budget          int
	Head            int
	Counter         tokens.Counter
	Provider        Provider
	MaxSummaryChars int
}

func (s *Summarizer) Apply(ctx context.Context, turns []history.Turn) ([]history.Turn, error) {
	budget := s.Budget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	counter := s.Counter
	if counter == nil {
		counter = tokens.NewHeuristicCounter()
	}
	if counter.CountTurns(turns) <= budget {
		return turns, nil
	}

	head := s.Head
	if head <= 0 {
		head = DefaultHead
	}
	maxChars := s.MaxSummaryChars
	if maxChars <= 0 {
		maxChars = DefaultMaxSummaryChars
	}

	fallback := &Truncator{Budget: budget, Counter: counter}

	var system []history.Turn
	rest := turns
	if len(rest) > 0 && rest[0].Role == history.RoleSystem {
		system, rest = turns[:1], turns[1:]
	}
	if s.Provider == nil || len(rest) <= head {
		return fallback.Apply(ctx, turns)
	}

	cut := len(rest) - head
	// Never start the kept span with results whose call sits in the tail.
	for cut > 0 && hasToolResult(rest[cut]) && hasToolCall(rest[cut-1]) {
		cut--
	}
	if cut <= 0 {
		return fallback.Apply(ctx, turns)
	}
	tail, recent := rest[:cut], rest[cut:]

	summary, err := s.Provider.Summarize(ctx, tail)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		return fallback.Apply(ctx, turns)
	}
	if len(summary) > maxChars {
		summary = tools.TruncateMiddle(summary, maxChars)
	}

	out := make([]history.Turn, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, history.Turn{
		Role:   history.RoleUser,
		Blocks: []history.Block{history.TextBlock{Text: SummaryPrefix + summary}},
	})
	out = append(out, recent...)

	if counter.CountTurns(out) > budget {
		return fallback.Apply(ctx, out)
	}
	return out, nil
}

// BuildSummaryPrompt renders the turns as a role-tagged transcript with
// summarization instructions.
func BuildSummaryPrompt(turns []history.Turn, maxChars int) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxChars)
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")
	sb.WriteString("Conversation:\n\n")

	for _, turn := range turns {
		fmt.Fprintf(&sb, "[%s]: ", turn.Role)
		first := true
		for _, block := range turn.Blocks {
			if !first {
				sb.WriteString("\n")
			}
			first = false
			switch b := block.(type) {
			case history.TextBlock:
				sb.WriteString(b.Text)
			case history.ToolCallBlock:
				fmt.Fprintf(&sb, "(called %s with %s)", b.Name, string(b.Input))
			case history.ToolResultBlock:
				fmt.Fprintf(&sb, "(tool result: %s)", b.Content)
			}
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}
