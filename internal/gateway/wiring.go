// Package gateway is the serve-mode assembly: HTTP API over the session
// store, per-session loop runners, and websocket event push. It also hosts
// the config-to-component wiring shared with the CLI's run mode.
package gateway

import (
	"fmt"
	"log/slog"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/tokens"
)

// BuildClient constructs the configured LLM client wrapped in retries.
func BuildClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	inner, err := llm.New(cfg.LLM.Client, llm.Options{Model: cfg.LLM.Model})
	if err != nil {
		return nil, err
	}
	return llm.NewRetrying(inner, cfg.LLM.MaxRetries, logger), nil
}

// BuildContextManager maps the configured strategy onto a context manager.
func BuildContextManager(cfg *config.Config, client llm.Client) agentctx.Manager {
	counter := tokens.NewCounter(cfg.LLM.Model)
	switch cfg.Context.Strategy {
	case "summarize":
		return &agentctx.Summarizer{
			Budget:  cfg.Context.TokenBudget,
			Head:    cfg.Context.Head,
			Counter: counter,
			Provider: agentctx.NewLLMProvider(client, cfg.LLM.Model,
				agentctx.DefaultMaxSummaryChars),
		}
	case "none":
		return agentctx.Passthrough{}
	default:
		return &agentctx.Truncator{Budget: cfg.Context.TokenBudget, Counter: counter}
	}
}

// BuildStore constructs the configured session store backend.
func BuildStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Sessions.Backend {
	case "memory":
		return sessions.NewMemoryStore(), nil
	case "sqlite":
		return sessions.NewSQLiteStore(cfg.Sessions.Path)
	case "postgres":
		return sessions.NewPostgresStore(cfg.Sessions.URL, sessions.DefaultPostgresConfig())
	default:
		return nil, fmt.Errorf("unknown sessions backend %q", cfg.Sessions.Backend)
	}
}
