package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/haasonsaas/conductor/internal/tools"
)

type cmdRunInput struct {
	Command        string `json:"command" jsonschema:"description=Shell command to run in the workspace"`
	Cwd            string `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the workspace root"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Per-command timeout in seconds (0 uses the session default)"`
}

// CmdRunTool runs a shell command rooted in the session workspace. Output is
// combined stdout and stderr; a nonzero exit is reported through the exit
// code, not an error, so the agent can read the output and decide.
type CmdRunTool struct{}

func (CmdRunTool) Name() string        { return "cmd_run" }
func (CmdRunTool) Description() string {
	return "Run a shell command in the workspace and return its combined output and exit code."
}
func (CmdRunTool) Schema() json.RawMessage { return mustSchema(&cmdRunInput{}) }

func (CmdRunTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args cmdRunInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if args.Command == "" {
		return tools.ErrorResult("command is required"), nil
	}

	dir := tools.RunFromContext(ctx).WorkspaceRoot
	if args.Cwd != "" {
		resolved, err := resolvePath(ctx, args.Cwd)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		dir = resolved
	}

	runCtx := ctx
	if args.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", args.Command) // #nosec G204 -- running user-directed commands is this tool's purpose
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case runCtx.Err() != nil:
			return tools.ErrorResult(fmt.Sprintf("command timed out: %v", runCtx.Err())), nil
		default:
			return tools.ErrorResult(fmt.Sprintf("start command: %v", err)), nil
		}
	}
	return &tools.Result{Content: string(output), ExitCode: &exitCode}, nil
}
