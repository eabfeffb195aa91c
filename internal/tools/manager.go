package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/events"
)

const (
	// MaxToolOutputChars caps tool output embedded in an observation.
	// Overflow is cut from the middle, keeping both ends.
	MaxToolOutputChars = 30000

	// MaxToolTimeout is the system ceiling on any per-call timeout.
	MaxToolTimeout = 600 * time.Second

	// DefaultToolTimeout applies when the configuration names none.
	DefaultToolTimeout = 120 * time.Second
)

// ManagerOptions configures a session's tool manager.
type ManagerOptions struct {
	// Timeout is the per-call execution timeout, clamped to MaxToolTimeout.
	// Zero selects DefaultToolTimeout.
	Timeout time.Duration

	// MaxOutputChars overrides MaxToolOutputChars when positive.
	MaxOutputChars int

	// CompletionTools are the names that stop the loop and record the final
	// answer. Defaults to complete and return_control_to_user; the reviewer
	// manager configures return_control_to_general_agent instead.
	CompletionTools []string

	// Emitter receives actions produced by tools, currently the
	// MessageAction emitted by message_user. The controller assigns the
	// event id before recording it.
	Emitter func(events.Action)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Manager is the session-scoped dispatcher. The underlying registry is
// shared across sessions; the manager holds the per-session stop state,
// workspace binding, and emitter hook.
type Manager struct {
	registry *Registry
	run      RunInfo
	opts     ManagerOptions
	complete map[string]bool

	mu          sync.Mutex
	stopped     bool
	finalAnswer string
}

// NewManager creates a manager over the shared registry for one session.
func NewManager(registry *Registry, run RunInfo, opts ManagerOptions) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultToolTimeout
	}
	if opts.Timeout > MaxToolTimeout {
		opts.Timeout = MaxToolTimeout
	}
	if opts.MaxOutputChars <= 0 {
		opts.MaxOutputChars = MaxToolOutputChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	names := opts.CompletionTools
	if len(names) == 0 {
		names = []string{events.ToolNameComplete, events.ToolNameReturnToUser}
	}
	complete := make(map[string]bool, len(names))
	for _, n := range names {
		complete[n] = true
	}
	return &Manager{registry: registry, run: run, opts: opts, complete: complete}
}

// Descriptors returns the schema list passed to the LLM client.
func (m *Manager) Descriptors() []Descriptor {
	return m.registry.Descriptors()
}

// ShouldStop reports whether a completion tool has been invoked.
func (m *Manager) ShouldStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// FinalAnswer returns the completion tool's recorded answer.
func (m *Manager) FinalAnswer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalAnswer
}

// Reset clears the stop state when a new user message is accepted.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	m.finalAnswer = ""
}

// UseCompletionTools replaces the completion tool set. The reviewer narrows
// it to return_control_to_general_agent for the duration of its run.
func (m *Manager) UseCompletionTools(names ...string) {
	complete := make(map[string]bool, len(names))
	for _, n := range names {
		complete[n] = true
	}
	m.mu.Lock()
	m.complete = complete
	m.mu.Unlock()
}

func (m *Manager) isCompletion(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete[name]
}

// HandleAction dispatches a runnable action to its tool and returns the
// resulting observation. Every failure mode becomes a failed observation;
// errors never escape as Go errors, so the agent sees them and may react.
func (m *Manager) HandleAction(ctx context.Context, action events.Action) events.Observation {
	runnable, ok := action.(events.RunnableAction)
	if !ok {
		return m.failed(action, "", "", events.ErrKindInvalidInput,
			fmt.Sprintf("action %s is not runnable", action.Type()))
	}
	name, input := runnable.Call()
	info := runnable.Info()

	if m.isCompletion(name) {
		return m.handleCompletion(runnable, name, input)
	}
	if name == events.ToolNameMessageUser {
		return m.handleMessageUser(runnable, input)
	}

	tool, found := m.registry.Get(name)
	if !found {
		return m.failed(action, name, info.ToolCallID, events.ErrKindUnknownTool,
			"tool not found: "+name)
	}
	if err := m.registry.ValidateInput(name, input); err != nil {
		return m.failed(action, name, info.ToolCallID, events.ErrKindInvalidInput,
			fmt.Sprintf("invalid input for %s: %v", name, err))
	}

	result, err := m.execute(ctx, tool, name, input)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return m.failed(action, name, info.ToolCallID, events.ErrKindTimeout,
			fmt.Sprintf("tool %s timed out after %s", name, m.opts.Timeout))
	case err != nil:
		return m.failed(action, name, info.ToolCallID, events.ErrKindToolExecution, err.Error())
	}

	content := TruncateMiddle(result.Content, m.opts.MaxOutputChars)
	if result.IsError {
		obs := m.failed(action, name, info.ToolCallID, events.ErrKindToolExecution, content)
		return obs
	}
	return m.observe(runnable, name, content, result)
}

// execute runs the tool under the manager's timeout with panic recovery.
// A tool that ignores cancellation keeps running in its goroutine; its
// result is discarded once the deadline fires.
func (m *Manager) execute(ctx context.Context, tool Tool, name string, input json.RawMessage) (*Result, error) {
	execCtx, cancel := context.WithTimeout(WithRun(ctx, m.run), m.opts.Timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.opts.Logger.Error("tool panicked",
					"tool", name, "session_id", m.run.SessionID, "panic", r)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v\n%s", name, r, debug.Stack())}
			}
		}()
		result, err := tool.Execute(execCtx, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			return &Result{}, nil
		}
		return out.result, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.DeadlineExceeded
	}
}

// completionInput covers the argument shapes of all completion tools.
type completionInput struct {
	FinalAnswer string `json:"final_answer"`
	Answer      string `json:"answer"`
	Feedback    string `json:"feedback"`
	Message     string `json:"message"`
}

func (m *Manager) handleCompletion(action events.RunnableAction, name string, input json.RawMessage) events.Observation {
	var args completionInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return m.failed(action, name, action.Info().ToolCallID, events.ErrKindInvalidInput,
				fmt.Sprintf("invalid input for %s: %v", name, err))
		}
	}
	answer := args.FinalAnswer
	for _, alt := range []string{args.Answer, args.Feedback, args.Message} {
		if answer == "" {
			answer = alt
		}
	}

	m.mu.Lock()
	m.stopped = true
	m.finalAnswer = answer
	m.mu.Unlock()

	return m.observe(action, name, "Task marked complete.", nil)
}

type messageUserInput struct {
	Message         string `json:"message"`
	Content         string `json:"content"`
	WaitForResponse bool   `json:"wait_for_response"`
}

func (m *Manager) handleMessageUser(action events.RunnableAction, input json.RawMessage) events.Observation {
	var args messageUserInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return m.failed(action, events.ToolNameMessageUser, action.Info().ToolCallID,
				events.ErrKindInvalidInput, fmt.Sprintf("invalid input for message_user: %v", err))
		}
	}
	text := args.Message
	if text == "" {
		text = args.Content
	}
	if m.opts.Emitter != nil {
		m.opts.Emitter(&events.MessageAction{
			Envelope:        events.Envelope{Time: time.Now(), Source: events.SourceAgent},
			Content:         text,
			WaitForResponse: args.WaitForResponse,
		})
	}
	return m.observe(action, events.ToolNameMessageUser, "Message delivered to user.", nil)
}

// observe builds the success observation, promoting file, command, and
// browse actions to their typed variants.
func (m *Manager) observe(action events.RunnableAction, name, content string, result *Result) events.Observation {
	env := events.Envelope{Time: time.Now(), Source: events.SourceEnvironment}
	causeID := action.Header().ID
	info := action.Info()

	switch a := action.(type) {
	case *events.FileReadAction:
		return &events.FileObservation{
			Envelope: env, CauseID: causeID, Path: a.Path, Content: content, Metadata: info.Metadata,
		}
	case *events.FileWriteAction:
		return &events.FileObservation{
			Envelope: env, CauseID: causeID, Path: a.Path, Content: content, Metadata: info.Metadata,
		}
	case *events.CmdRunAction:
		exit := 0
		if result != nil && result.ExitCode != nil {
			exit = *result.ExitCode
		}
		return &events.CmdOutputObservation{
			Envelope: env, CauseID: causeID, Command: a.Command, Output: content,
			ExitCode: exit, Metadata: info.Metadata,
		}
	case *events.BrowseURLAction:
		return &events.BrowseObservation{
			Envelope: env, CauseID: causeID, URL: a.URL, Content: content, Metadata: info.Metadata,
		}
	}

	return &events.ToolResultObservation{
		Envelope: env, CauseID: causeID, ToolName: name, ToolCallID: info.ToolCallID,
		Content: content, Success: true, Metadata: info.Metadata,
	}
}

func (m *Manager) failed(action events.Action, name, callID, kind, message string) events.Observation {
	var meta *events.ToolCallMetadata
	if runnable, ok := action.(events.RunnableAction); ok {
		meta = runnable.Info().Metadata
	}
	m.opts.Logger.Debug("tool dispatch failed",
		"tool", name, "session_id", m.run.SessionID, "kind", kind, "error", message)
	return &events.ToolResultObservation{
		Envelope:     events.Envelope{Time: time.Now(), Source: events.SourceEnvironment},
		CauseID:      action.Header().ID,
		ToolName:     name,
		ToolCallID:   callID,
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: message,
		Metadata:     meta,
	}
}

// TruncateMiddle cuts s down to max characters by removing the middle,
// keeping the first and last halves around a marker that records how much
// was dropped.
func TruncateMiddle(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	marker := fmt.Sprintf("\n...[truncated %d chars]...\n", len(s)-max)
	head := max / 2
	tail := max - head
	return s[:head] + marker + s[len(s)-tail:]
}
