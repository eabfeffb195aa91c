// Package tools owns the mapping from tool names to implementations and the
// sole dispatch path that turns a runnable Action into an Observation.
//
// The Registry is process-wide and holds tool implementations with their
// compiled input schemas. A Manager is a session-scoped view over the
// registry: it validates inputs, enforces timeouts and output limits, and
// recognizes the control tools that end or redirect a run.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a single capability exposed to the LLM. Implementations must be
// safe for concurrent use; one instance serves every session.
type Tool interface {
	// Name returns the unique registry key.
	Name() string

	// Description is shown to the LLM alongside the schema.
	Description() string

	// Schema returns the JSON Schema for the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool. Input has already been validated against
	// Schema. Session identity and the workspace root ride the context;
	// see RunFromContext.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Descriptor is the schema triple sent to LLM providers.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ContentBlock is one piece of rich tool output.
type ContentBlock struct {
	// Type is "text", "image_url", or "image_base64".
	Type string `json:"type"`

	// Text holds the content for text blocks.
	Text string `json:"text,omitempty"`

	// URL references an image for image_url blocks.
	URL string `json:"url,omitempty"`

	// MediaType and Data carry an inline image for image_base64 blocks.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Result is a tool's output. Content is the plain-text form every provider
// accepts; Blocks optionally carries richer content for providers that
// support it. IsError marks a failure the LLM should see and may react to.
type Result struct {
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
	IsError bool           `json:"is_error,omitempty"`

	// ExitCode is set by command tools so the manager can build a typed
	// command observation. Nil for tools without an exit status.
	ExitCode *int `json:"exit_code,omitempty"`
}

// TextResult builds a plain text result.
func TextResult(content string) *Result {
	return &Result{Content: content}
}

// ErrorResult builds a failed result with the given message.
func ErrorResult(message string) *Result {
	return &Result{Content: message, IsError: true}
}

// RunInfo identifies the session on whose behalf a tool executes. Tools use
// WorkspaceRoot as the base for all file I/O.
type RunInfo struct {
	SessionID     string
	WorkspaceRoot string
}

type runInfoKey struct{}

// WithRun attaches session run info to the context for tool execution.
func WithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunFromContext returns the run info attached by WithRun. The zero value is
// returned when none is attached, which leaves file tools rooted at the
// process working directory.
func RunFromContext(ctx context.Context) RunInfo {
	info, _ := ctx.Value(runInfoKey{}).(RunInfo)
	return info
}
