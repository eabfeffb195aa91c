package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/events"
)

func callAction(id int64, name, callID, input string) events.Action {
	a := &events.ToolCallAction{
		ToolName:  name,
		ToolInput: json.RawMessage(input),
	}
	a.ID = id
	a.ToolCallID = callID
	return a
}

func newTestManager(t *testing.T, opts ManagerOptions, tools ...Tool) *Manager {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name(), err)
		}
	}
	return NewManager(r, RunInfo{SessionID: "s1", WorkspaceRoot: t.TempDir()}, opts)
}

func TestManagerDispatchSuccess(t *testing.T) {
	m := newTestManager(t, ManagerOptions{}, &fakeTool{
		name: "echo", schema: echoSchema,
		execute: func(_ context.Context, input json.RawMessage) (*Result, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			return TextResult(args.Text), nil
		},
	})

	obs := m.HandleAction(context.Background(), callAction(7, "echo", "call_1", `{"text": "hi"}`))
	res, ok := obs.(*events.ToolResultObservation)
	if !ok {
		t.Fatalf("unexpected observation type %T", obs)
	}
	if !res.Success || res.Content != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Cause() != 7 || res.ToolCallID != "call_1" {
		t.Fatalf("cause or call id not carried: %+v", res)
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	obs := m.HandleAction(context.Background(), callAction(1, "nope", "c1", `{}`))
	res := obs.(*events.ToolResultObservation)
	if res.Success || res.ErrorKind != events.ErrKindUnknownTool {
		t.Fatalf("expected unknown_tool failure, got %+v", res)
	}
}

func TestManagerInvalidInput(t *testing.T) {
	invoked := false
	m := newTestManager(t, ManagerOptions{}, &fakeTool{
		name: "echo", schema: echoSchema,
		execute: func(context.Context, json.RawMessage) (*Result, error) {
			invoked = true
			return TextResult("ok"), nil
		},
	})

	obs := m.HandleAction(context.Background(), callAction(1, "echo", "c1", `{"text": 42}`))
	res := obs.(*events.ToolResultObservation)
	if res.Success || res.ErrorKind != events.ErrKindInvalidInput {
		t.Fatalf("expected invalid_input failure, got %+v", res)
	}
	if invoked {
		t.Fatal("tool must not run on schema rejection")
	}
}

func TestManagerToolErrorBecomesObservation(t *testing.T) {
	m := newTestManager(t, ManagerOptions{}, &fakeTool{
		name: "echo", schema: echoSchema,
		execute: func(context.Context, json.RawMessage) (*Result, error) {
			return nil, context.Canceled
		},
	})
	obs := m.HandleAction(context.Background(), callAction(1, "echo", "c1", `{"text": "x"}`))
	res := obs.(*events.ToolResultObservation)
	if res.Success || res.ErrorKind != events.ErrKindToolExecution {
		t.Fatalf("expected tool_execution failure, got %+v", res)
	}
}

func TestManagerTimeout(t *testing.T) {
	m := newTestManager(t, ManagerOptions{Timeout: 20 * time.Millisecond}, &fakeTool{
		name: "slow", schema: `{"type": "object"}`,
		execute: func(ctx context.Context, _ json.RawMessage) (*Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return TextResult("late"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	obs := m.HandleAction(context.Background(), callAction(1, "slow", "c1", `{}`))
	res := obs.(*events.ToolResultObservation)
	if res.Success || res.ErrorKind != events.ErrKindTimeout {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
}

func TestManagerPanicRecovery(t *testing.T) {
	m := newTestManager(t, ManagerOptions{}, &fakeTool{
		name: "boom", schema: `{"type": "object"}`,
		execute: func(context.Context, json.RawMessage) (*Result, error) {
			panic("kaboom")
		},
	})
	obs := m.HandleAction(context.Background(), callAction(1, "boom", "c1", `{}`))
	res := obs.(*events.ToolResultObservation)
	if res.Success || res.ErrorKind != events.ErrKindToolExecution {
		t.Fatalf("expected recovered failure, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "kaboom") {
		t.Fatalf("panic message lost: %q", res.ErrorMessage)
	}
}

func TestManagerOutputTruncation(t *testing.T) {
	m := newTestManager(t, ManagerOptions{MaxOutputChars: 100}, &fakeTool{
		name: "big", schema: `{"type": "object"}`,
		execute: func(context.Context, json.RawMessage) (*Result, error) {
			return TextResult(strings.Repeat("z", 10000)), nil
		},
	})
	obs := m.HandleAction(context.Background(), callAction(1, "big", "c1", `{}`))
	res := obs.(*events.ToolResultObservation)
	if !strings.Contains(res.Content, "...[truncated 9900 chars]...") {
		t.Fatalf("output not truncated: %d chars", len(res.Content))
	}
}

func TestManagerCompletionTool(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	if m.ShouldStop() {
		t.Fatal("fresh manager should not stop")
	}

	obs := m.HandleAction(context.Background(),
		callAction(3, events.ToolNameComplete, "c1", `{"final_answer": "all done"}`))
	if res := obs.(*events.ToolResultObservation); !res.Success {
		t.Fatalf("completion dispatch failed: %+v", res)
	}
	if !m.ShouldStop() {
		t.Fatal("expected stop after completion tool")
	}
	if m.FinalAnswer() != "all done" {
		t.Fatalf("final answer = %q", m.FinalAnswer())
	}

	m.Reset()
	if m.ShouldStop() || m.FinalAnswer() != "" {
		t.Fatal("Reset did not clear stop state")
	}
}

func TestManagerReviewerSentinel(t *testing.T) {
	m := newTestManager(t, ManagerOptions{
		CompletionTools: []string{events.ToolNameReturnToGeneral},
	})

	// The main-loop sentinel must not stop a reviewer-configured manager.
	m.HandleAction(context.Background(), callAction(1, events.ToolNameComplete, "c1", `{"final_answer": "x"}`))
	if m.ShouldStop() {
		t.Fatal("main sentinel stopped the reviewer manager")
	}

	m.HandleAction(context.Background(),
		callAction(2, events.ToolNameReturnToGeneral, "c2", `{"feedback": "looks good"}`))
	if !m.ShouldStop() || m.FinalAnswer() != "looks good" {
		t.Fatalf("reviewer sentinel not honored: stop=%v answer=%q", m.ShouldStop(), m.FinalAnswer())
	}
}

func TestManagerMessageUser(t *testing.T) {
	var emitted []events.Action
	m := newTestManager(t, ManagerOptions{
		Emitter: func(a events.Action) { emitted = append(emitted, a) },
	})

	obs := m.HandleAction(context.Background(),
		callAction(1, events.ToolNameMessageUser, "c1", `{"message": "working on it", "wait_for_response": true}`))
	if res := obs.(*events.ToolResultObservation); !res.Success {
		t.Fatalf("message_user failed: %+v", res)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected one emitted action, got %d", len(emitted))
	}
	msg := emitted[0].(*events.MessageAction)
	if msg.Content != "working on it" || !msg.WaitForResponse {
		t.Fatalf("unexpected message action: %+v", msg)
	}
	if m.ShouldStop() {
		t.Fatal("message_user must not stop the loop")
	}
}

func TestManagerTypedObservations(t *testing.T) {
	exit := 3
	m := newTestManager(t, ManagerOptions{},
		&fakeTool{name: events.ToolNameFileRead, schema: `{"type": "object"}`,
			execute: func(context.Context, json.RawMessage) (*Result, error) {
				return TextResult("file body"), nil
			}},
		&fakeTool{name: events.ToolNameCmdRun, schema: `{"type": "object"}`,
			execute: func(context.Context, json.RawMessage) (*Result, error) {
				return &Result{Content: "out", ExitCode: &exit}, nil
			}},
	)

	read := &events.FileReadAction{Path: "notes.txt"}
	read.ID = 1
	read.ToolCallID = "c1"
	if obs, ok := m.HandleAction(context.Background(), read).(*events.FileObservation); !ok {
		t.Fatalf("expected FileObservation")
	} else if obs.Path != "notes.txt" || obs.Content != "file body" {
		t.Fatalf("unexpected file observation: %+v", obs)
	}

	run := &events.CmdRunAction{Command: "make"}
	run.ID = 2
	run.ToolCallID = "c2"
	obs, ok := m.HandleAction(context.Background(), run).(*events.CmdOutputObservation)
	if !ok {
		t.Fatalf("expected CmdOutputObservation")
	}
	if obs.Command != "make" || obs.Output != "out" || obs.ExitCode != 3 {
		t.Fatalf("unexpected cmd observation: %+v", obs)
	}
}
