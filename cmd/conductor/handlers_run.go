package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/gateway"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/internal/tools/builtin"
	"github.com/haasonsaas/conductor/pkg/events"
)

// loadConfig reads the config file when given, otherwise starts from
// defaults. Load failures on an explicit path are usage errors.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, usageError{err}
	}
	return cfg, nil
}

// applyRunFlags folds the run command's flags over the loaded config.
func applyRunFlags(cfg *config.Config, flags runFlags) error {
	if flags.modelName != "" {
		cfg.LLM.Model = flags.modelName
	}
	if flags.llmClient != "" {
		cfg.LLM.Client = flags.llmClient
	}
	if flags.maxTurns > 0 {
		cfg.Agent.MaxTurns = flags.maxTurns
	}
	if flags.maxOutputTokens > 0 {
		cfg.LLM.MaxOutputTokens = flags.maxOutputTokens
	}
	if flags.reviewer {
		cfg.Agent.Reviewer = true
	}
	switch flags.memoryTool {
	case "":
	case "compactify-memory":
		cfg.Context.Strategy = "summarize"
	case "simple":
		cfg.Context.Strategy = "truncate"
	case "none":
		cfg.Context.Strategy = "none"
	default:
		return usageError{fmt.Errorf("--memory-tool %q is not one of compactify-memory, simple, none", flags.memoryTool)}
	}
	return cfg.Validate()
}

func runRun(ctx context.Context, cmd *cobra.Command, flags runFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, flags); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			return err
		}
		return usageError{err}
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	workspace, err := filepath.Abs(flags.workspace)
	if err != nil {
		return usageError{fmt.Errorf("resolve workspace: %w", err)}
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return usageError{fmt.Errorf("workspace %s is not a directory", workspace)}
	}

	store, err := gateway.BuildStore(cfg)
	if err != nil {
		return err
	}
	client, err := gateway.BuildClient(cfg, logger)
	if err != nil {
		return usageError{err}
	}

	registry := tools.NewRegistry()
	if err := builtin.RegisterDefaults(registry); err != nil {
		return err
	}
	if err := builtin.RegisterReviewer(registry); err != nil {
		return err
	}

	session, state, err := openSession(ctx, store, flags.sessionID, workspace)
	if err != nil {
		return err
	}

	collector := &agent.ActionCollector{}
	manager := tools.NewManager(registry,
		tools.RunInfo{SessionID: session.ID, WorkspaceRoot: session.WorkspaceRoot},
		tools.ManagerOptions{
			Timeout:        cfg.Tools.Timeout,
			MaxOutputChars: cfg.Tools.MaxOutputChars,
			Emitter:        collector.Collect,
			Logger:         logger,
		})
	policy := agent.NewPolicy(client, gateway.BuildContextManager(cfg, client),
		manager.Descriptors(), agent.PolicyOptions{
			SystemPrompt:    agent.DefaultSystemPrompt,
			Model:           cfg.LLM.Model,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Temperature:     cfg.LLM.Temperature,
		})
	out := &printer{cmd: cmd}
	ctrlCfg := agent.Config{
		Policy:   policy,
		Tools:    manager,
		Emitted:  collector,
		Sink:     stream.NewCallback(out.sink),
		Store:    store,
		Logger:   logger,
		MaxTurns: cfg.Agent.MaxTurns,
	}
	ctrl := agent.NewController(state, ctrlCfg)

	if flags.prompt != "" {
		return runOnce(ctx, out, ctrl, ctrlCfg, cfg, flags.prompt, workspace)
	}
	return runInteractive(ctx, out, ctrl, ctrlCfg, cfg, session.ID, workspace)
}

// openSession resumes the given session id or creates a fresh one.
func openSession(ctx context.Context, store sessions.Store, id, workspace string) (*sessions.Session, *agent.State, error) {
	if id != "" {
		session, err := store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sessions.ErrNotFound) {
				return nil, nil, usageError{fmt.Errorf("session %s: %w", id, err)}
			}
			return nil, nil, err
		}
		log, checkpoint, err := store.Load(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return session, agent.Restore(id, log, checkpoint), nil
	}

	session := &sessions.Session{
		ID:            uuid.NewString(),
		WorkspaceRoot: workspace,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.Create(ctx, session); err != nil {
		return nil, nil, err
	}
	return session, agent.NewState(session.ID), nil
}

// printer surfaces the agent's mid-task messages on stdout and remembers
// the last one so a text-only final answer is not echoed twice.
type printer struct {
	cmd  *cobra.Command
	last string
}

func (p *printer) sink(_ context.Context, ev events.Event) {
	if m, ok := ev.(*events.MessageAction); ok {
		p.last = m.Content
		fmt.Fprintf(p.cmd.OutOrStdout(), "[agent] %s\n", m.Content)
	}
}

func (p *printer) finish(answer string) {
	if answer != "" && answer != p.last {
		fmt.Fprintln(p.cmd.OutOrStdout(), answer)
	}
}

// runOnce submits one task, optionally reviews the answer, and prints it.
func runOnce(ctx context.Context, out *printer, ctrl *agent.Controller, ctrlCfg agent.Config, cfg *config.Config, prompt, workspace string) error {
	if err := ctrl.Submit(ctx, prompt); err != nil {
		return err
	}
	answer, err := ctrl.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.Agent.Reviewer {
		reviewer := agent.NewReviewer(ctrlCfg)
		reviewed, err := reviewer.Review(ctx, ctrl.State(), prompt, answer, workspace)
		if err != nil {
			slog.Warn("reviewer pass failed, keeping the original answer", "error", err)
		} else {
			answer = reviewed
		}
	}

	out.finish(answer)
	return nil
}

// runInteractive reads tasks until stdin closes or the user quits.
func runInteractive(ctx context.Context, p *printer, ctrl *agent.Controller, ctrlCfg agent.Config, cfg *config.Config, sessionID, workspace string) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	out := p.cmd.OutOrStdout()
	if interactive {
		fmt.Fprintf(out, "conductor %s (session %s)\n", version, sessionID)
		fmt.Fprintf(out, "workspace: %s\n", workspace)
		fmt.Fprintln(out, `type a task, or "exit" to quit`)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if interactive && (line == "exit" || line == "quit") {
			return nil
		}

		if err := ctrl.Submit(ctx, line); err != nil {
			return err
		}
		answer, err := ctrl.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "[error] %v\n", err)
			continue
		}
		if cfg.Agent.Reviewer {
			reviewed, rerr := agent.NewReviewer(ctrlCfg).Review(ctx, ctrl.State(), line, answer, workspace)
			if rerr != nil {
				slog.Warn("reviewer pass failed, keeping the original answer", "error", rerr)
			} else {
				answer = reviewed
			}
		}
		p.finish(answer)
	}
}
