package context

import (
	"context"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tokens"
)

// Truncator drops old turns until the history fits the budget. Non-user
// turns go first, oldest first, then old user turns. The most recent user
// turn, the most recent assistant turn, the final turn, and a leading system
// turn are never dropped, and a tool call is never separated from its
// result. If the protected turns alone exceed the budget they are returned
// verbatim.
type Truncator struct {
	Budget  int
	Counter tokens.Counter
}

// unit is the smallest droppable span: a single turn, or an assistant
// tool-call turn fused with the turn carrying its results.
type unit struct {
	turns     []history.Turn
	userText  bool
	protected bool
}

func (t *Truncator) Apply(_ context.Context, turns []history.Turn) ([]history.Turn, error) {
	budget := t.Budget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	counter := t.Counter
	if counter == nil {
		counter = tokens.NewHeuristicCounter()
	}
	if counter.CountTurns(turns) <= budget {
		return turns, nil
	}

	units := groupUnits(turns)
	dropped := make([]bool, len(units))

	assemble := func() []history.Turn {
		var out []history.Turn
		for i, u := range units {
			if !dropped[i] {
				out = append(out, u.turns...)
			}
		}
		return out
	}

	// Two passes: tool traffic and assistant turns first, user text last.
	for _, wantUser := range []bool{false, true} {
		for i := range units {
			if counter.CountTurns(assemble()) <= budget {
				return assemble(), nil
			}
			if dropped[i] || units[i].protected || units[i].userText != wantUser {
				continue
			}
			dropped[i] = true
		}
	}
	return assemble(), nil
}

func groupUnits(turns []history.Turn) []unit {
	var units []unit
	for i := 0; i < len(turns); i++ {
		u := unit{turns: []history.Turn{turns[i]}, userText: isUserText(turns[i])}
		if turns[i].Role == history.RoleAssistant && hasToolCall(turns[i]) &&
			i+1 < len(turns) && hasToolResult(turns[i+1]) {
			u.turns = append(u.turns, turns[i+1])
			i++
		}
		units = append(units, u)
	}

	lastUser, lastAssistant := -1, -1
	for i, u := range units {
		for _, t := range u.turns {
			if isUserText(t) {
				lastUser = i
			}
			if t.Role == history.RoleAssistant {
				lastAssistant = i
			}
		}
	}
	for i := range units {
		if i == lastUser || i == lastAssistant || i == len(units)-1 {
			units[i].protected = true
		}
		if len(units[i].turns) == 1 && units[i].turns[0].Role == history.RoleSystem && i == 0 {
			units[i].protected = true
		}
	}
	return units
}
