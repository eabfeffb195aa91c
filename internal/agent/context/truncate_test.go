package context

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tokens"
)

func userTurn(text string) history.Turn {
	return history.Turn{Role: history.RoleUser, Blocks: []history.Block{history.TextBlock{Text: text}}}
}

func assistantTurn(text string) history.Turn {
	return history.Turn{Role: history.RoleAssistant, Blocks: []history.Block{history.TextBlock{Text: text}}}
}

func callPair(id, text string) []history.Turn {
	return []history.Turn{
		{Role: history.RoleAssistant, Blocks: []history.Block{
			history.ToolCallBlock{ID: id, Name: "cmd_run", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: history.RoleUser, Blocks: []history.Block{
			history.ToolResultBlock{ToolCallID: id, Content: text},
		}},
	}
}

func TestTruncatorUnderBudgetIsUntouched(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := []history.Turn{userTurn("hello"), assistantTurn("hi")}
	tr := &Truncator{Budget: counter.CountTurns(turns) + 10, Counter: counter}

	out, err := tr.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, turns) {
		t.Errorf("under-budget history changed: %+v", out)
	}
}

func TestTruncatorDropsNonUserTurnsFirst(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := []history.Turn{
		userTurn("first question with some length to it"),
		assistantTurn("an old answer that can safely disappear"),
		userTurn("second question"),
		assistantTurn("the current answer"),
	}
	tr := &Truncator{Budget: counter.CountTurns(turns) - 1, Counter: counter}

	out, err := tr.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	for _, turn := range out {
		if turn.Text() == "an old answer that can safely disappear" {
			t.Error("oldest assistant turn should go before any user turn")
		}
	}
	if out[0].Text() != "first question with some length to it" {
		t.Errorf("old user turn dropped while a non-user turn would have sufficed: %+v", out)
	}
}

func TestTruncatorKeepsCallResultPairsTogether(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	var turns []history.Turn
	turns = append(turns, userTurn("do some work"))
	turns = append(turns, callPair("c1", "a very long old tool result that pushes the history over its limit")...)
	turns = append(turns, callPair("c2", "recent result")...)
	turns = append(turns, assistantTurn("done"))

	tr := &Truncator{Budget: counter.CountTurns(turns) - 1, Counter: counter}
	out, err := tr.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}

	for i, turn := range out {
		if hasToolResult(turn) {
			if i == 0 || !hasToolCall(out[i-1]) {
				t.Fatalf("orphaned tool result at %d: %+v", i, out)
			}
		}
	}
	for _, turn := range out {
		for _, b := range turn.Blocks {
			if tr, ok := b.(history.ToolResultBlock); ok && tr.ToolCallID == "c1" {
				t.Error("old pair should be dropped whole")
			}
		}
	}
}

func TestTruncatorReturnsProtectedHeadVerbatim(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := []history.Turn{
		userTurn("only user turn, far too large for the tiny budget below"),
		assistantTurn("only assistant turn, also protected"),
	}
	tr := &Truncator{Budget: 1, Counter: counter}

	out, err := tr.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, turns) {
		t.Errorf("protected turns must survive even over budget: %+v", out)
	}
}

func TestTruncatorBudgetSafetyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	counter := tokens.NewHeuristicCounter()

	genEpisode := gen.OneGenOf(
		gen.AlphaString().Map(func(s string) []history.Turn {
			return []history.Turn{userTurn("user " + s)}
		}),
		gen.AlphaString().Map(func(s string) []history.Turn {
			return []history.Turn{assistantTurn("assistant " + s)}
		}),
		gen.AlphaString().Map(func(s string) []history.Turn {
			return callPair("c-"+s, "result "+s)
		}),
	)
	genTurns := gen.SliceOf(genEpisode).Map(func(eps [][]history.Turn) []history.Turn {
		var out []history.Turn
		for _, ep := range eps {
			out = append(out, ep...)
		}
		return out
	})

	properties.Property("output fits budget or is exactly the protected set", prop.ForAll(
		func(turns []history.Turn, budget int) bool {
			tr := &Truncator{Budget: budget, Counter: counter}
			out, err := tr.Apply(context.Background(), turns)
			if err != nil {
				return false
			}
			if counter.CountTurns(out) <= budget {
				return true
			}
			var protected []history.Turn
			for _, u := range groupUnits(turns) {
				if u.protected {
					protected = append(protected, u.turns...)
				}
			}
			return reflect.DeepEqual(out, protected)
		},
		genTurns, gen.IntRange(1, 400),
	))

	properties.Property("no orphaned tool results survive", prop.ForAll(
		func(turns []history.Turn, budget int) bool {
			tr := &Truncator{Budget: budget, Counter: counter}
			out, err := tr.Apply(context.Background(), turns)
			if err != nil {
				return false
			}
			for i, turn := range out {
				if hasToolResult(turn) && (i == 0 || !hasToolCall(out[i-1])) {
					return false
				}
			}
			return true
		},
		genTurns, gen.IntRange(1, 400),
	))

	properties.Property("output is a subsequence of input", prop.ForAll(
		func(turns []history.Turn, budget int) bool {
			tr := &Truncator{Budget: budget, Counter: counter}
			out, err := tr.Apply(context.Background(), turns)
			if err != nil {
				return false
			}
			j := 0
			for _, turn := range turns {
				if j < len(out) && reflect.DeepEqual(out[j], turn) {
					j++
				}
			}
			return j == len(out)
		},
		genTurns, gen.IntRange(1, 400),
	))

	properties.TestingRun(t)
}
