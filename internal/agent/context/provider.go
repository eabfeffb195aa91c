package context

import (
	"context"
	"fmt"

	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/history"
)

// llmProvider summarizes through a real client with tools disabled.
type llmProvider struct {
	client   llm.Client
	model    string
	maxChars int
}

// NewLLMProvider adapts an LLM client into a Provider. model may be empty to
// use the client's default; maxChars bounds the requested summary length.
func NewLLMProvider(client llm.Client, model string, maxChars int) Provider {
	if maxChars <= 0 {
		maxChars = DefaultMaxSummaryChars
	}
	return &llmProvider{client: client, model: model, maxChars: maxChars}
}

func (p *llmProvider) Summarize(ctx context.Context, turns []history.Turn) (string, error) {
	prompt := BuildSummaryPrompt(turns, p.maxChars)
	resp, err := p.client.Generate(ctx, &llm.GenerateRequest{
		Model: p.model,
		Messages: []history.Turn{{
			Role:   history.RoleUser,
			Blocks: []history.Block{history.TextBlock{Text: prompt}},
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return resp.Text(), nil
}
