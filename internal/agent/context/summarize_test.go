package context

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tokens"
)

type fakeProvider struct {
	summary string
	err     error
	calls   int
	seen    []history.Turn
}

func (p *fakeProvider) Summarize(_ context.Context, turns []history.Turn) (string, error) {
	p.calls++
	p.seen = turns
	return p.summary, p.err
}

func longConversation(n int) []history.Turn {
	turns := []history.Turn{
		{Role: history.RoleSystem, Blocks: []history.Block{history.TextBlock{Text: "be helpful"}}},
	}
	for i := 0; i < n; i++ {
		turns = append(turns,
			userTurn("question about topic number "+strings.Repeat("x", i%7)),
			assistantTurn("a moderately long answer covering that topic in detail"),
		)
	}
	return turns
}

func TestSummarizerUnderBudgetIsUntouched(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := longConversation(3)
	provider := &fakeProvider{summary: "unused"}
	s := &Summarizer{Budget: counter.CountTurns(turns) + 10, Counter: counter, Provider: provider}

	out, err := s.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, turns) {
		t.Error("under-budget history changed")
	}
	if provider.calls != 0 {
		t.Error("provider called without need")
	}
}

func TestSummarizerReplacesTailWithSummaryTurn(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := longConversation(20)
	provider := &fakeProvider{summary: "they worked through twenty topics"}
	s := &Summarizer{
		Budget:   counter.CountTurns(turns) / 2,
		Head:     6,
		Counter:  counter,
		Provider: provider,
	}

	out, err := s.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}

	if out[0].Role != history.RoleSystem {
		t.Error("system turn must stay at the head")
	}
	summaryTurn := out[1]
	if summaryTurn.Role != history.RoleUser || !strings.HasPrefix(summaryTurn.Text(), SummaryPrefix) {
		t.Errorf("turn after system = %+v, want synthetic summary", summaryTurn)
	}
	if !strings.Contains(summaryTurn.Text(), "twenty topics") {
		t.Errorf("summary text lost: %q", summaryTurn.Text())
	}

	// The six most recent turns survive verbatim.
	recent := out[2:]
	if len(recent) != 6 {
		t.Fatalf("recent turns = %d, want 6", len(recent))
	}
	if !reflect.DeepEqual(recent, turns[len(turns)-6:]) {
		t.Error("recent turns were not kept verbatim")
	}

	// The summarized span excludes the kept head.
	if len(provider.seen) != len(turns)-1-6 {
		t.Errorf("provider saw %d turns, want %d", len(provider.seen), len(turns)-1-6)
	}
}

func TestSummarizerFallsBackOnProviderError(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := longConversation(20)
	budget := counter.CountTurns(turns) / 2
	provider := &fakeProvider{err: errors.New("model unavailable")}
	s := &Summarizer{Budget: budget, Head: 6, Counter: counter, Provider: provider}

	out, err := s.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}

	want, err := (&Truncator{Budget: budget, Counter: counter}).Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, want) {
		t.Error("failed summarization must degrade to plain truncation")
	}
}

func TestSummarizerDoesNotSplitPairsAtTheCut(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := []history.Turn{userTurn("kick off a long build")}
	for i := 0; i < 12; i++ {
		turns = append(turns, callPair("c", strings.Repeat("output ", 10))...)
	}
	turns = append(turns, assistantTurn("build finished"))

	provider := &fakeProvider{summary: "ran the build repeatedly"}
	s := &Summarizer{
		Budget:   counter.CountTurns(turns) / 3,
		Head:     4, // lands mid-pair without the boundary adjustment
		Counter:  counter,
		Provider: provider,
	}

	out, err := s.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	for i, turn := range out {
		if hasToolResult(turn) && (i == 0 || !hasToolCall(out[i-1])) {
			t.Fatalf("kept span starts with an orphaned tool result: %+v", out)
		}
	}
}

func TestSummarizerCapsSummaryLength(t *testing.T) {
	counter := tokens.NewHeuristicCounter()
	turns := longConversation(20)
	provider := &fakeProvider{summary: strings.Repeat("verbose recap ", 500)}
	s := &Summarizer{
		Budget:          counter.CountTurns(turns) / 2,
		Head:            4,
		Counter:         counter,
		Provider:        provider,
		MaxSummaryChars: 200,
	}

	out, err := s.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	for _, turn := range out {
		text := turn.Text()
		if strings.HasPrefix(text, SummaryPrefix) && len(text) > len(SummaryPrefix)+300 {
			t.Errorf("summary not capped: %d chars", len(text))
		}
	}
}

func TestPassthroughLeavesHistoryAlone(t *testing.T) {
	turns := longConversation(50)
	out, err := Passthrough{}.Apply(context.Background(), turns)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, turns) {
		t.Error("passthrough changed the history")
	}
}

func TestBuildSummaryPromptRendersAllBlockKinds(t *testing.T) {
	var turns []history.Turn
	turns = append(turns, userTurn("please list the files"))
	turns = append(turns, callPair("c1", "a.txt b.txt")...)

	prompt := BuildSummaryPrompt(turns, 500)
	for _, want := range []string{"please list the files", "cmd_run", "a.txt b.txt", "500 characters"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
