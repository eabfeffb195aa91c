package history

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/pkg/events"
)

func TestFromEvents_FullTurn(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1, Source: events.SourceUser}, Content: "list files"},
		&events.CmdRunAction{
			Envelope: events.Envelope{ID: 2, Source: events.SourceAgent},
			CallInfo: events.CallInfo{ToolCallID: "tc-1", Thought: "a quick ls will do"},
			Command:  "ls",
		},
		&events.CmdOutputObservation{
			Envelope: events.Envelope{ID: 3, Source: events.SourceEnvironment},
			CauseID:  2, Command: "ls", Output: "main.go", ExitCode: 0,
		},
		&events.MessageAction{Envelope: events.Envelope{ID: 4, Source: events.SourceAgent}, Content: "one file: main.go"},
	}

	turns := FromEvents(log).ProjectForLLM()
	if len(turns) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(turns), turns)
	}

	if turns[0].Role != RoleUser || turns[0].Text() != "list files" {
		t.Errorf("turn 0 = %+v", turns[0])
	}

	// Assistant turn: thought text then the call.
	if turns[1].Role != RoleAssistant || len(turns[1].Blocks) != 2 {
		t.Fatalf("turn 1 = %+v", turns[1])
	}
	call, ok := turns[1].Blocks[1].(ToolCallBlock)
	if !ok || call.ID != "tc-1" || call.Name != events.ToolNameCmdRun {
		t.Errorf("call block = %+v", turns[1].Blocks[1])
	}
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil || args.Command != "ls" {
		t.Errorf("call input = %s (%v)", call.Input, err)
	}

	result, ok := turns[2].Blocks[0].(ToolResultBlock)
	if !ok || result.ToolCallID != "tc-1" || result.Content != "main.go" || result.IsError {
		t.Errorf("result block = %+v", turns[2].Blocks[0])
	}

	if turns[3].Role != RoleAssistant || turns[3].Text() != "one file: main.go" {
		t.Errorf("turn 3 = %+v", turns[3])
	}
}

func TestFromEvents_PairsResultByCause(t *testing.T) {
	// Observation without direct call id: pairing falls back to the
	// causing action.
	log := []events.Event{
		&events.FileReadAction{
			Envelope: events.Envelope{ID: 1, Source: events.SourceAgent},
			CallInfo: events.CallInfo{ToolCallID: "tc-9"},
			Path:     "a.txt",
		},
		&events.FileObservation{
			Envelope: events.Envelope{ID: 2, Source: events.SourceEnvironment},
			CauseID:  1, Path: "a.txt", Content: "hello",
		},
	}

	turns := FromEvents(log).Turns()
	result, ok := turns[1].Blocks[0].(ToolResultBlock)
	if !ok {
		t.Fatalf("turn 1 = %+v", turns[1])
	}
	if result.ToolCallID != "tc-9" {
		t.Errorf("ToolCallID = %q, want tc-9", result.ToolCallID)
	}
}

func TestFromEvents_NonZeroExitIsError(t *testing.T) {
	log := []events.Event{
		&events.CmdRunAction{Envelope: events.Envelope{ID: 1}, CallInfo: events.CallInfo{ToolCallID: "tc-1"}, Command: "false"},
		&events.CmdOutputObservation{Envelope: events.Envelope{ID: 2}, CauseID: 1, Command: "false", Output: "", ExitCode: 1},
	}

	turns := FromEvents(log).Turns()
	result := turns[1].Blocks[0].(ToolResultBlock)
	if !result.IsError {
		t.Error("nonzero exit not flagged as error")
	}
	if !strings.Contains(result.Content, "exited with code 1") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestFromEvents_FailedToolResultCarriesError(t *testing.T) {
	log := []events.Event{
		&events.ToolCallAction{Envelope: events.Envelope{ID: 1}, CallInfo: events.CallInfo{ToolCallID: "tc-1"}, ToolName: "grep", ToolInput: json.RawMessage(`{}`)},
		&events.ToolResultObservation{
			Envelope: events.Envelope{ID: 2}, CauseID: 1, ToolCallID: "tc-1",
			Success: false, ErrorMessage: "pattern is required", ErrorKind: events.ErrKindInvalidInput,
		},
	}

	turns := FromEvents(log).Turns()
	result := turns[1].Blocks[0].(ToolResultBlock)
	if !result.IsError {
		t.Error("failed result not flagged as error")
	}
	if !strings.Contains(result.Content, "pattern is required") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestFromEvents_HiddenExcluded(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1}, Content: "go"},
		&events.MessageAction{Envelope: events.Envelope{ID: 2, Hidden: true}, Content: "scratch note"},
		&events.MessageAction{Envelope: events.Envelope{ID: 3}, Content: "visible"},
	}

	turns := FromEvents(log).Turns()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[1].Text() != "visible" {
		t.Errorf("turn 1 text = %q", turns[1].Text())
	}
}

func TestFromEvents_TruncationReplacesSpanWithSummary(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1}, Content: "big task"},
		&events.MessageAction{Envelope: events.Envelope{ID: 2}, Content: "step one"},
		&events.MessageAction{Envelope: events.Envelope{ID: 3}, Content: "step two"},
		&events.TruncationEvent{Envelope: events.Envelope{ID: 4}, FromID: 2, Summary: "did steps one and two"},
		&events.MessageAction{Envelope: events.Envelope{ID: 5}, Content: "step three"},
	}

	turns := FromEvents(log).Turns()
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(turns), turns)
	}
	if turns[0].Text() != "big task" {
		t.Errorf("turn 0 = %q", turns[0].Text())
	}
	if !strings.Contains(turns[1].Text(), "did steps one and two") {
		t.Errorf("turn 1 = %q, want summary", turns[1].Text())
	}
	if turns[1].Role != RoleUser {
		t.Errorf("summary role = %q, want user", turns[1].Role)
	}
	if turns[2].Text() != "step three" {
		t.Errorf("turn 2 = %q", turns[2].Text())
	}
}

func TestFromEvents_InterruptAnswersPendingCall(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1}, Content: "go"},
		&events.CmdRunAction{Envelope: events.Envelope{ID: 2}, CallInfo: events.CallInfo{ToolCallID: "tc-1"}, Command: "sleep 100"},
		&events.InterruptObservation{Envelope: events.Envelope{ID: 3}, CauseID: 2, Reason: "user sent a new message"},
	}

	turns := FromEvents(log).ProjectForLLM()
	// The interrupt must answer tc-1 so the call is not orphaned.
	var found bool
	for _, turn := range turns {
		for _, b := range turn.Blocks {
			if r, ok := b.(ToolResultBlock); ok && r.ToolCallID == "tc-1" {
				found = true
				if !r.IsError {
					t.Error("interrupt result not flagged as error")
				}
				if !strings.Contains(r.Content, "interrupted") {
					t.Errorf("Content = %q", r.Content)
				}
			}
		}
	}
	if !found {
		t.Fatalf("no result for interrupted call: %+v", turns)
	}
}

func TestFromEvents_ErrorObservationBecomesUserNote(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1}, Content: "go"},
		&events.ErrorObservation{Envelope: events.Envelope{ID: 2}, Kind: events.ErrKindRateLimited, Message: "retries exhausted"},
	}

	turns := FromEvents(log).Turns()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[1].Role != RoleUser || !strings.Contains(turns[1].Text(), "rate_limited") {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestFromEvents_CompleteActionProjectsFinalAnswer(t *testing.T) {
	log := []events.Event{
		&events.UserMessageObservation{Envelope: events.Envelope{ID: 1}, Content: "go"},
		&events.CompleteAction{Envelope: events.Envelope{ID: 2}, FinalAnswer: "all done", TaskDone: true},
	}

	turns := FromEvents(log).Turns()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[1].Role != RoleAssistant || turns[1].Text() != "all done" {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}
