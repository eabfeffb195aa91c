// commands.go holds the cobra command builders; the run* handlers live in
// the handlers_*.go files.
package main

import (
	"github.com/spf13/cobra"
)

// runFlags carries everything the run command accepts. Flags override the
// corresponding config file settings.
type runFlags struct {
	workspace       string
	prompt          string
	modelName       string
	llmClient       string
	memoryTool      string
	maxTurns        int
	maxOutputTokens int
	sessionID       string
	reviewer        bool
	configPath      string
}

func buildRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop in a workspace",
		Long: `Run the agent loop against a workspace directory.

With --prompt the task runs once and the final answer is printed to stdout.
Without it, conductor reads tasks interactively: from a prompt banner on a
TTY, or line by line from piped stdin.`,
		Example: `  # One-shot task
  conductor run --prompt "summarize TODO.md"

  # Interactive session with history summarization
  conductor run --memory-tool compactify-memory

  # Resume a stored session
  conductor run --session 6d96ef00 --prompt "continue where you left off"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.workspace, "workspace", "w", ".",
		"Workspace directory the agent operates in")
	cmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "",
		"Task to run one-shot; omit for an interactive session")
	cmd.Flags().StringVar(&flags.modelName, "model-name", "",
		"Model name override")
	cmd.Flags().StringVar(&flags.llmClient, "llm-client", "",
		"LLM client: anthropic, openai, gemini, or bedrock")
	cmd.Flags().StringVar(&flags.memoryTool, "memory-tool", "",
		"History strategy: compactify-memory, simple, or none")
	cmd.Flags().IntVar(&flags.maxTurns, "max-turns", 0,
		"Maximum LLM steps per task")
	cmd.Flags().IntVar(&flags.maxOutputTokens, "max-output-tokens", 0,
		"Maximum tokens per LLM response")
	cmd.Flags().StringVar(&flags.sessionID, "session", "",
		"Resume the stored session with this id")
	cmd.Flags().BoolVar(&flags.reviewer, "reviewer", false,
		"Run the reviewer pass after the task completes")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "",
		"Path to a YAML or JSON5 configuration file")

	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		Long: `Start the gateway: sessions over HTTP, live events over websocket,
health and Prometheus metrics endpoints, and an hourly retention sweep.

The config file is watched; log level and retention changes apply without a
restart. Shutdown is graceful on SIGINT/SIGTERM.`,
		Example: `  conductor serve --config conductor.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML or JSON5 configuration file")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML or JSON5 configuration file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd.Context(), cmd, configPath)
		},
	}
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's event log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), cmd, configPath, args[0])
		},
	}
	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd.Context(), cmd, configPath, args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}
