package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic adapts the Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic builds the adapter. The key comes from ANTHROPIC_API_KEY
// unless Options.APIKey is set.
func NewAnthropic(opts Options) (*Anthropic, error) {
	key := opts.APIKey
	if key == "" {
		key = envKey("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, errors.New("anthropic: ANTHROPIC_API_KEY is not set")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), defaultModel: model}, nil
}

func (c *Anthropic) Name() string { return "anthropic" }

// Generate sends a non-streaming Messages request and normalizes the
// response into text and tool call blocks.
func (c *Anthropic) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	system, turns := splitSystem(req)

	msgs, err := anthropicMessages(turns)
	if err != nil {
		return nil, InvalidRequest(c.Name(), model, err.Error())
	}
	if len(msgs) == 0 {
		return nil, InvalidRequest(c.Name(), model, "no messages to send")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		sdkTools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, InvalidRequest(c.Name(), model, err.Error())
		}
		params.Tools = sdkTools
		switch req.ToolChoice {
		case ToolChoiceAny:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err, model)
	}
	return c.normalize(message, model, time.Since(start))
}

func (c *Anthropic) normalize(message *anthropic.Message, model string, latency time.Duration) (*GenerateResponse, error) {
	var blocks []ResponseBlock
	var text string
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "tool_use":
			input := json.RawMessage(block.Input)
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			var probe any
			if err := json.Unmarshal(input, &probe); err != nil {
				return nil, InvalidRequest(c.Name(), model, "malformed tool arguments for "+block.Name)
			}
			blocks = append(blocks, ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	if text != "" {
		blocks = append([]ResponseBlock{TextResult{Text: text}}, blocks...)
	}

	raw, _ := json.Marshal(message)
	prompt := int(message.Usage.InputTokens)
	completion := int(message.Usage.OutputTokens)
	return &GenerateResponse{
		Blocks: blocks,
		Model:  model,
		Raw:    raw,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			Cost:             estimateCost(model, prompt, completion),
			Latency:          latency,
		},
	}, nil
}

func (c *Anthropic) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewError(c.Name(), model, err).WithStatus(apiErr.StatusCode)
	}
	return NewError(c.Name(), model, err)
}

func anthropicMessages(turns []history.Turn) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range turn.Blocks {
			switch b := block.(type) {
			case history.TextBlock:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case history.ToolCallBlock:
				var input map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, errors.New("invalid tool call input for " + b.Name)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case history.ToolResultBlock:
				content = append(content, anthropic.NewToolResultBlock(b.ToolCallID, b.Content, b.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if turn.Role == history.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func anthropicTools(descs []tools.Descriptor) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			return nil, errors.New("invalid tool schema for " + d.Name)
		}
		param := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if param.OfTool == nil {
			return nil, errors.New("invalid tool schema for " + d.Name)
		}
		param.OfTool.Description = anthropic.String(d.Description)
		out = append(out, param)
	}
	return out, nil
}
