package agent

import (
	"context"
	"strings"
	"time"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/events"
)

// DefaultMaxOutputTokens caps generation when the configuration names no
// limit.
const DefaultMaxOutputTokens = 32768

// PolicyOptions configures a Policy.
type PolicyOptions struct {
	// SystemPrompt is sent out-of-band on every request.
	SystemPrompt string

	// Model overrides the client's default model when set.
	Model string

	// MaxOutputTokens caps the response length. Zero selects
	// DefaultMaxOutputTokens.
	MaxOutputTokens int

	// Temperature of 0 selects the provider default.
	Temperature float64

	// CompletionSentinel, when non-empty, maps an exactly matching text
	// response to a CompleteAction.
	CompletionSentinel string
}

// Policy maps the current event log to the agent's next action. It holds no
// state beyond the prompt and tool descriptors; everything else is projected
// from the log on every step.
type Policy struct {
	client      llm.Client
	contextMgr  agentctx.Manager
	descriptors []tools.Descriptor
	opts        PolicyOptions
}

// NewPolicy builds a policy over the given client. A nil context manager
// means the projection is sent as-is.
func NewPolicy(client llm.Client, mgr agentctx.Manager, descriptors []tools.Descriptor, opts PolicyOptions) *Policy {
	if mgr == nil {
		mgr = agentctx.Passthrough{}
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return &Policy{client: client, contextMgr: mgr, descriptors: descriptors, opts: opts}
}

// Step produces the next action: rebuild the turns from the event log, fit
// them to the token budget, call the model, and map the response. The first
// tool call wins; a response with no call becomes a message, or a completion
// when it matches the sentinel. The returned action carries no id yet.
func (p *Policy) Step(ctx context.Context, state *State) (events.Action, error) {
	turns := history.FromEvents(state.Events).ProjectForLLM()
	turns, err := p.contextMgr.Apply(ctx, turns)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Generate(ctx, &llm.GenerateRequest{
		Model:       p.opts.Model,
		Messages:    turns,
		System:      p.opts.SystemPrompt,
		Tools:       p.descriptors,
		ToolChoice:  llm.ToolChoiceAuto,
		MaxTokens:   p.opts.MaxOutputTokens,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	meta := &events.ToolCallMetadata{
		ModelName:   resp.Model,
		RawResponse: resp.Raw,
		Usage: &events.UsageMetrics{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Cost:             resp.Usage.Cost,
			LatencyMS:        resp.Usage.Latency.Milliseconds(),
		},
	}

	if tc, ok := resp.FirstToolCall(); ok {
		meta.FunctionName = tc.Name
		meta.ToolCallID = tc.ID
		action := events.PromoteToolCall(tc.Name, tc.ID, tc.Input, meta)
		if thought := resp.Text(); thought != "" {
			action.Info().Thought = thought
		}
		action.Header().Source = events.SourceAgent
		return action, nil
	}

	text := resp.Text()
	env := events.Envelope{Time: time.Now(), Source: events.SourceAgent}
	if p.opts.CompletionSentinel != "" && strings.TrimSpace(text) == p.opts.CompletionSentinel {
		return &events.CompleteAction{Envelope: env, TaskDone: true}, nil
	}
	return &events.MessageAction{Envelope: env, Content: text}, nil
}
