// Package llm normalizes LLM vendor APIs behind a single Generate call.
//
// Each adapter converts provider-neutral turns and tool descriptors into the
// vendor's request shape, parses tool arguments eagerly, and wraps vendor
// failures into *Error values classified by kind. Retry policy lives in the
// Retrying wrapper, not the adapters, so every vendor gets the same backoff
// behavior.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
)

// Client is the vendor-neutral LLM interface. Implementations are safe for
// concurrent use and may be shared across sessions; the controller ensures
// one in-flight call per session.
type Client interface {
	// Name returns the provider name.
	Name() string

	// Generate sends the request and returns the normalized response.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Tool choice modes passed through to providers that support them.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceNone = "none"
)

// GenerateRequest carries one completion request.
type GenerateRequest struct {
	// Model overrides the client's default model when set.
	Model string

	// Messages is the projected history; the head system turn, if any, is
	// folded into System by the caller.
	Messages []history.Turn

	// System is the system prompt, handled out-of-band by every vendor.
	System string

	// Tools are the descriptors offered to the model.
	Tools []tools.Descriptor

	// ToolChoice is auto, any, none, or a specific tool name.
	ToolChoice string

	// MaxTokens caps the generated output length.
	MaxTokens int

	// Temperature of 0 selects the provider default.
	Temperature float64
}

// ResponseBlock is one normalized content block: TextResult or ToolCall.
type ResponseBlock interface{ isResponseBlock() }

// TextResult is the assistant's text, concatenated per response.
type TextResult struct {
	Text string
}

func (TextResult) isResponseBlock() {}

// ToolCall is a parsed tool invocation. Input is valid JSON; adapters fail
// the request on malformed arguments rather than passing them through. ID is
// the vendor's call id verbatim.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (ToolCall) isResponseBlock() {}

// Usage reports the cost of one Generate call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Latency          time.Duration
}

// GenerateResponse is the normalized vendor response. Blocks preserve vendor
// order; downstream chooses the first ToolCall if any, else the first
// TextResult. Raw keeps the vendor payload for tool call metadata.
type GenerateResponse struct {
	Blocks []ResponseBlock
	Model  string
	Raw    json.RawMessage
	Usage  Usage
}

// FirstToolCall returns the first tool call block, if any.
func (r *GenerateResponse) FirstToolCall() (ToolCall, bool) {
	for _, b := range r.Blocks {
		if tc, ok := b.(ToolCall); ok {
			return tc, true
		}
	}
	return ToolCall{}, false
}

// Text concatenates all text blocks.
func (r *GenerateResponse) Text() string {
	var out string
	for _, b := range r.Blocks {
		if t, ok := b.(TextResult); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// Options configures client construction.
type Options struct {
	// Model is the default model for requests that name none.
	Model string

	// APIKey overrides the environment variable lookup.
	APIKey string

	// BaseURL overrides the vendor endpoint, for proxies and tests.
	BaseURL string

	// Region selects the AWS region for the bedrock client.
	Region string
}

// New builds a client for the named provider: anthropic, openai, gemini, or
// bedrock. API keys come from the provider's environment variable unless
// Options.APIKey is set.
func New(name string, opts Options) (Client, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(opts)
	case "openai":
		return NewOpenAI(opts)
	case "gemini", "google":
		return NewGemini(opts)
	case "bedrock":
		return NewBedrock(opts)
	default:
		return nil, fmt.Errorf("unknown llm client %q (want anthropic, openai, gemini, or bedrock)", name)
	}
}

// envKey returns the first non-empty environment variable.
func envKey(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// splitSystem folds a leading system turn into the system prompt so adapters
// never see system-role messages mid-list.
func splitSystem(req *GenerateRequest) (string, []history.Turn) {
	system := req.System
	msgs := req.Messages
	if len(msgs) > 0 && msgs[0].Role == history.RoleSystem {
		if text := msgs[0].Text(); text != "" {
			if system != "" {
				system += "\n\n"
			}
			system += text
		}
		msgs = msgs[1:]
	}
	return system, msgs
}
