// Package main is the conductor CLI: an event-sourced agent loop you can run
// one-shot, drive interactively, or expose as an HTTP gateway.
//
// # Basic Usage
//
// Run a task in the current directory:
//
//	conductor run --prompt "rename every test fixture to snake_case"
//
// Drive a session interactively:
//
//	conductor run --workspace ~/src/project
//
// Serve the HTTP and websocket API:
//
//	conductor serve --config conductor.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY: vendor credentials
//   - TOKEN_BUDGET: context token budget override
//   - LOG_LEVEL: log level override (debug, info, warn, error)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes: 0 completed, 1 agent or runtime error, 2 invalid arguments,
// 130 interrupted.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

// usageError marks a failure that should exit 2 rather than 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		os.Exit(exitOK)
	}

	var ue usageError
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		os.Exit(exitInterrupt)
	case errors.As(err, &ue):
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitUsage)
	default:
		slog.Error("command failed", "error", err)
		os.Exit(exitError)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - event-sourced agent execution core",
		Long: `Conductor runs an LLM agent loop over an append-only event log.

Every user message, tool call, and result is an event; the conversation the
model sees is a projection of that log, truncated or summarized to fit the
context budget. Sessions persist across restarts and can be driven one-shot,
interactively, or over the HTTP gateway.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		// Errors are printed by main with the right exit code.
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildSessionsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor %s (commit: %s, built: %s)\n",
				version, commit, date)
		},
	}
}
