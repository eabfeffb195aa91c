package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/events"
)

// DefaultMaxTurns bounds the loop when the configuration names no limit.
const DefaultMaxTurns = 200

// ErrRunning is returned when Run is called while the loop is already
// driving the session.
var ErrRunning = errors.New("session loop already running")

// Config wires a Controller. Policy and Tools are required; everything else
// has a working default.
type Config struct {
	// Policy produces the next action from the event log.
	Policy *Policy

	// Tools dispatches runnable actions and tracks the completion state.
	Tools *tools.Manager

	// Emitted receives actions produced by tools. Pass the collector bound
	// to the tool manager's Emitter.
	Emitted *ActionCollector

	// Sink receives every recorded event, after the durable append. Nil
	// means no live consumers.
	Sink stream.Sink

	// Store persists the event log and checkpoints. Nil keeps the session
	// in memory only.
	Store sessions.Store

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Clock stamps event times; defaults to time.Now.
	Clock func() time.Time

	// MaxTurns bounds LLM steps per task. Zero selects DefaultMaxTurns.
	MaxTurns int
}

// Controller drives one session's state machine. The loop itself is
// single-threaded; Submit may be called concurrently to deliver or
// supersede user input.
type Controller struct {
	policy   *Policy
	tools    *tools.Manager
	emitted  *ActionCollector
	sink     stream.Sink
	store    sessions.Store
	writer   *stream.StoreWriter
	logger   *slog.Logger
	now      func() time.Time
	maxTurns int

	state *State

	// cancelled is level-triggered: once set, every tool dispatch
	// short-circuits until a new user message clears it.
	cancelled atomic.Bool

	mu         sync.Mutex
	running    bool
	pending    []pendingMessage
	toolCancel context.CancelFunc

	// Loop-goroutine only.
	waiting bool
	runErr  error
}

type pendingMessage struct {
	content string
	files   []string
}

// NewController builds a controller over existing state. For a fresh
// session pass NewState; for a resumed one pass Restore's result.
func NewController(state *State, cfg Config) *Controller {
	c := &Controller{
		policy:   cfg.Policy,
		tools:    cfg.Tools,
		emitted:  cfg.Emitted,
		sink:     cfg.Sink,
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		maxTurns: cfg.MaxTurns,
		state:    state,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.maxTurns <= 0 {
		c.maxTurns = DefaultMaxTurns
	}
	if c.store != nil {
		c.writer = stream.NewStoreWriter(c.store, state.SessionID, c.logger)
	}
	return c
}

// State returns the session state. Only read it while the loop is idle.
func (c *Controller) State() *State { return c.state }

// Cancelled reports whether a supersede is pending acknowledgement.
func (c *Controller) Cancelled() bool { return c.cancelled.Load() }

// HasPending reports whether a queued user message has not been consumed
// yet. A message submitted as the loop exits still needs another Run.
func (c *Controller) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Submit delivers a user message. When the loop is idle the message is
// recorded and the session enters THINKING, ready for Run. When the loop is
// running the message supersedes the current task: the cancellation flag is
// raised, the in-flight tool context is cancelled, and the loop rewinds to
// the most recent prior user turn before taking the new message.
func (c *Controller) Submit(ctx context.Context, content string, files ...string) error {
	c.mu.Lock()
	if c.running {
		c.pending = append(c.pending, pendingMessage{content: content, files: files})
		c.cancelled.Store(true)
		if c.toolCancel != nil {
			c.toolCancel()
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.acceptUser(ctx, content, files)
	return nil
}

// Run drives the loop until the session completes, fails, or parks waiting
// for user input. It returns the final answer for completed sessions and
// the recorded error for failed ones.
func (c *Controller) Run(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", ErrRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
	c.runErr = nil

	turns := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.consumePending(ctx)
		if c.state.AgentState != StateThinking {
			break
		}
		if turns >= c.maxTurns {
			c.fail(ctx, events.ErrKindMaxTurns,
				fmt.Sprintf("max turns exceeded (%d)", c.maxTurns))
			continue
		}
		turns++

		action, err := c.policy.Step(ctx, c.state)
		if err != nil {
			c.failLLM(ctx, err)
			continue
		}

		switch a := action.(type) {
		case *events.CompleteAction:
			c.complete(ctx, a)

		case *events.MessageAction:
			// A text-only response is the final answer.
			c.record(ctx, a)
			c.complete(ctx, &events.CompleteAction{
				Envelope:    events.Envelope{Time: c.now(), Source: events.SourceAgent},
				FinalAnswer: a.Content,
				TaskDone:    true,
			})

		case events.RunnableAction:
			c.dispatch(ctx, a)

		default:
			c.fail(ctx, events.ErrKindInternal,
				fmt.Sprintf("policy returned unexpected action %s", action.Type()))
		}
	}

	switch c.state.AgentState {
	case StateError:
		return "", c.runErr
	default:
		return c.state.FinalAnswer(), nil
	}
}

// acceptUser records a user message and enters THINKING. It clears the
// cancellation flag and the tool manager's stop state.
func (c *Controller) acceptUser(ctx context.Context, content string, files []string) {
	c.cancelled.Store(false)
	c.tools.Reset()
	c.record(ctx, &events.UserMessageObservation{
		Envelope: events.Envelope{Time: c.now(), Source: events.SourceUser},
		Content:  content,
		Files:    files,
	})
	c.state.AgentState = StateThinking
	c.checkpoint(ctx)
}

// consumePending takes the oldest queued user message, if any. A message
// that superseded a running task first rewinds the log to the prior user
// turn with a truncation marker.
func (c *Controller) consumePending(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	if c.cancelled.Load() {
		c.truncateToLastUser(ctx)
	}
	c.acceptUser(ctx, msg.content, msg.files)
}

// truncateToLastUser appends a marker rewinding the visible log back to and
// including the most recent user turn. The rewound events stay in the
// durable log.
func (c *Controller) truncateToLastUser(ctx context.Context) {
	var from int64
	for _, ev := range events.Visible(c.state.Events) {
		if u, ok := ev.(*events.UserMessageObservation); ok {
			from = u.ID
		}
	}
	if from == 0 {
		if len(c.state.Events) == 0 {
			return
		}
		from = c.state.Events[0].Header().ID
	}
	c.record(ctx, &events.TruncationEvent{
		Envelope: events.Envelope{Time: c.now(), Source: events.SourceEnvironment},
		FromID:   from,
	})
}

// dispatch records the action, runs it through the tool manager, and
// records the resulting observation. A raised cancellation flag
// short-circuits the call into an interruption.
func (c *Controller) dispatch(ctx context.Context, action events.RunnableAction) {
	c.record(ctx, action)
	c.state.AgentState = StateActing
	c.checkpoint(ctx)

	var obs events.Observation
	if c.cancelled.Load() {
		obs = &events.InterruptObservation{
			Envelope: events.Envelope{Time: c.now(), Source: events.SourceEnvironment},
			CauseID:  action.Header().ID,
			Reason:   "superseded by a new user message",
		}
	} else {
		toolCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.toolCancel = cancel
		c.mu.Unlock()

		obs = c.tools.HandleAction(toolCtx, action)

		c.mu.Lock()
		c.toolCancel = nil
		c.mu.Unlock()
		cancel()
	}

	c.flushEmitted(ctx)
	c.record(ctx, obs)
	c.state.AgentState = StateThinking

	if c.tools.ShouldStop() {
		c.complete(ctx, &events.CompleteAction{
			Envelope:    events.Envelope{Time: c.now(), Source: events.SourceAgent},
			FinalAnswer: c.tools.FinalAnswer(),
			TaskDone:    true,
		})
		return
	}
	if c.waiting {
		c.waiting = false
		c.state.AgentState = StateWaiting
	}
	c.checkpoint(ctx)
}

// flushEmitted records actions produced by tools during the last dispatch,
// ahead of the observation so the log keeps production order.
func (c *Controller) flushEmitted(ctx context.Context) {
	if c.emitted == nil {
		return
	}
	for _, a := range c.emitted.Drain() {
		if m, ok := a.(*events.MessageAction); ok && m.WaitForResponse {
			c.waiting = true
		}
		c.record(ctx, a)
	}
}

func (c *Controller) complete(ctx context.Context, a *events.CompleteAction) {
	c.record(ctx, a)
	c.state.AgentState = StateCompleted
	c.state.Outputs["final_answer"] = a.FinalAnswer
	c.checkpoint(ctx)
}

func (c *Controller) failLLM(ctx context.Context, err error) {
	kind := events.ErrKindInternal
	var lerr *llm.Error
	switch {
	case errors.As(err, &lerr):
		kind = string(lerr.Kind)
	case errors.Is(err, context.Canceled):
		kind = events.ErrKindCancelled
	}
	c.fail(ctx, kind, err.Error())
}

func (c *Controller) fail(ctx context.Context, kind, message string) {
	c.record(ctx, &events.ErrorObservation{
		Envelope: events.Envelope{Time: c.now(), Source: events.SourceEnvironment},
		Kind:     kind,
		Message:  message,
	})
	c.state.AgentState = StateError
	c.runErr = errors.New(message)
	c.checkpoint(ctx)
}

// record assigns the event's id, appends it durably, and fans it out to the
// live sink. A failed durable append is logged and the session continues;
// the log gap is preferable to a stalled loop.
func (c *Controller) record(ctx context.Context, ev events.Event) {
	hdr := ev.Header()
	if hdr.Time.IsZero() {
		hdr.Time = c.now()
	}
	c.state.Record(ev)
	if c.writer != nil {
		if err := c.writer.Append(ctx, ev); err != nil {
			c.logger.Error("durable append failed",
				"session_id", c.state.SessionID, "event_id", hdr.ID, "error", err)
		}
	}
	if c.sink != nil {
		c.sink.Emit(ctx, ev)
	}
}

func (c *Controller) checkpoint(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveState(ctx, c.state.SessionID, c.state.Checkpoint()); err != nil {
		c.logger.Warn("checkpoint save failed",
			"session_id", c.state.SessionID, "error", err)
	}
}
