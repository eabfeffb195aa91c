package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/conductor/internal/tools"
)

// resolvePath joins a tool-supplied path to the session workspace and
// rejects traversal outside it.
func resolvePath(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	root := tools.RunFromContext(ctx).WorkspaceRoot
	if root == "" {
		root = "."
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	abs = filepath.Clean(abs)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", path)
	}
	return absTarget, nil
}

type fileReadInput struct {
	Path      string `json:"path" jsonschema:"description=File path relative to the workspace root"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to read (1-based; 0 means start of file)"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"description=Last line to read inclusive (0 means end of file)"`
}

// FileReadTool reads a file from the workspace, optionally a line range.
type FileReadTool struct{}

func (FileReadTool) Name() string        { return "file_read" }
func (FileReadTool) Description() string {
	return "Read a file from the workspace. Optionally restrict to a 1-based inclusive line range."
}
func (FileReadTool) Schema() json.RawMessage { return mustSchema(&fileReadInput{}) }

func (FileReadTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args fileReadInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	path, err := resolvePath(ctx, args.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("read %s: %v", args.Path, err)), nil
	}
	content := string(data)
	if args.StartLine > 0 || args.EndLine > 0 {
		lines := strings.Split(content, "\n")
		start := args.StartLine
		if start < 1 {
			start = 1
		}
		end := args.EndLine
		if end < 1 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			return tools.ErrorResult(fmt.Sprintf("start_line %d beyond end of file (%d lines)", start, len(lines))), nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}
	return tools.TextResult(content), nil
}

type fileWriteInput struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the workspace root"`
	Content string `json:"content" jsonschema:"description=Full file content to write"`
}

// FileWriteTool writes a file, creating parent directories.
type FileWriteTool struct{}

func (FileWriteTool) Name() string        { return "file_write" }
func (FileWriteTool) Description() string {
	return "Write content to a workspace file, replacing it if it exists. Parent directories are created."
}
func (FileWriteTool) Schema() json.RawMessage { return mustSchema(&fileWriteInput{}) }

func (FileWriteTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args fileWriteInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	path, err := resolvePath(ctx, args.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.ErrorResult(fmt.Sprintf("create directories for %s: %v", args.Path, err)), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return tools.ErrorResult(fmt.Sprintf("write %s: %v", args.Path, err)), nil
	}
	return tools.TextResult(fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Path)), nil
}

type fileEditInput struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the workspace root"`
	OldText string `json:"old_text" jsonschema:"description=Exact text to replace; must appear exactly once"`
	NewText string `json:"new_text" jsonschema:"description=Replacement text"`
}

// FileEditTool replaces a unique occurrence of a string in a file.
type FileEditTool struct{}

func (FileEditTool) Name() string        { return "file_edit" }
func (FileEditTool) Description() string {
	return "Edit a workspace file by replacing old_text with new_text. old_text must match exactly once."
}
func (FileEditTool) Schema() json.RawMessage { return mustSchema(&fileEditInput{}) }

func (FileEditTool) Execute(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
	var args fileEditInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if args.OldText == "" {
		return tools.ErrorResult("old_text is required"), nil
	}
	path, err := resolvePath(ctx, args.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("read %s: %v", args.Path, err)), nil
	}
	content := string(data)
	switch strings.Count(content, args.OldText) {
	case 0:
		return tools.ErrorResult(fmt.Sprintf("old_text not found in %s", args.Path)), nil
	case 1:
	default:
		return tools.ErrorResult(fmt.Sprintf("old_text is ambiguous in %s; include more context", args.Path)), nil
	}
	content = strings.Replace(content, args.OldText, args.NewText, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tools.ErrorResult(fmt.Sprintf("write %s: %v", args.Path, err)), nil
	}
	return tools.TextResult(fmt.Sprintf("Edited %s", args.Path)), nil
}
