package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/internal/tools/builtin"
)

// runner owns one session's controller and its fan-out queue. The loop runs
// on a single goroutine per session; submit starts it when idle and relies
// on the controller's supersede handling when it is not.
type runner struct {
	id      string
	ctrl    *agent.Controller
	queue   *stream.Queue
	logger  *slog.Logger
	metrics *observability.Metrics

	// mu guards busy and serializes submit against loop exit, so a message
	// landing as the loop winds down still gets a loop to consume it.
	mu   sync.Mutex
	busy bool
}

func newRunner(ctx context.Context, cfg *config.Config, deps runnerDeps, session *sessions.Session) (*runner, error) {
	log, checkpoint, err := deps.store.Load(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	state := agent.Restore(session.ID, log, checkpoint)

	queue := stream.NewQueue(0, deps.logger)
	collector := &agent.ActionCollector{}
	manager := tools.NewManager(deps.registry,
		tools.RunInfo{SessionID: session.ID, WorkspaceRoot: session.WorkspaceRoot},
		tools.ManagerOptions{
			Timeout:        cfg.Tools.Timeout,
			MaxOutputChars: cfg.Tools.MaxOutputChars,
			Emitter:        collector.Collect,
			Logger:         deps.logger,
		})
	policy := agent.NewPolicy(deps.client, BuildContextManager(cfg, deps.client),
		manager.Descriptors(), agent.PolicyOptions{
			SystemPrompt:    agent.DefaultSystemPrompt,
			Model:           cfg.LLM.Model,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Temperature:     cfg.LLM.Temperature,
		})
	var sink stream.Sink = queue
	if deps.metrics != nil {
		sink = stream.NewMulti(queue, newMetricsSink(deps.metrics))
	}
	ctrl := agent.NewController(state, agent.Config{
		Policy:   policy,
		Tools:    manager,
		Emitted:  collector,
		Sink:     sink,
		Store:    deps.store,
		Logger:   deps.logger,
		MaxTurns: cfg.Agent.MaxTurns,
	})

	return &runner{
		id:      session.ID,
		ctrl:    ctrl,
		queue:   queue,
		logger:  deps.logger,
		metrics: deps.metrics,
	}, nil
}

type runnerDeps struct {
	store    sessions.Store
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// submit delivers a user message and makes sure a loop goroutine is driving
// the session afterwards.
func (r *runner) submit(ctx context.Context, content string, files ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ctrl.Submit(ctx, content, files...); err != nil {
		return err
	}
	if r.busy {
		// The running loop consumes the queued message, or the exit path
		// below notices it and spins the loop back up.
		return nil
	}
	r.busy = true
	go r.loop()
	return nil
}

func (r *runner) loop() {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Inc()
		defer r.metrics.ActiveSessions.Dec()
	}
	ctx := context.Background()
	for {
		if _, err := r.ctrl.Run(ctx); err != nil && !errors.Is(err, agent.ErrRunning) {
			r.logger.Warn("session run ended with error",
				"session_id", r.id, "error", err)
		}

		r.mu.Lock()
		// A Submit that raced the loop's exit either queued a message or
		// already moved the state back to THINKING; both need another Run.
		if r.ctrl.HasPending() || r.ctrl.State().AgentState == agent.StateThinking {
			r.mu.Unlock()
			continue
		}
		r.busy = false
		r.mu.Unlock()
		return
	}
}

func (r *runner) close() {
	r.queue.Close()
}

// defaultRegistry builds the reference tool set shared by every session.
func defaultRegistry() (*tools.Registry, error) {
	registry := tools.NewRegistry()
	if err := builtin.RegisterDefaults(registry); err != nil {
		return nil, err
	}
	if err := builtin.RegisterReviewer(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
