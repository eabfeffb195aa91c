package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI adapts the chat completions API. Tool descriptors are sent with
// strict mode so the vendor enforces the schema server-side.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI builds the adapter. The key comes from OPENAI_API_KEY unless
// Options.APIKey is set.
func NewOpenAI(opts Options) (*OpenAI, error) {
	key := opts.APIKey
	if key == "" {
		key = envKey("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("openai: OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), defaultModel: model}, nil
}

func (c *OpenAI) Name() string { return "openai" }

func (c *OpenAI) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	system, turns := splitSystem(req)

	msgs := openaiMessages(turns, system)
	if len(msgs) == 0 {
		return nil, InvalidRequest(c.Name(), model, "no messages to send")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
		switch req.ToolChoice {
		case ToolChoiceAny:
			chatReq.ToolChoice = "required"
		case ToolChoiceNone:
			chatReq.ToolChoice = "none"
		case "", ToolChoiceAuto:
		default:
			chatReq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice},
			}
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, c.wrapError(err, model)
	}
	return c.normalize(&resp, model, time.Since(start))
}

func (c *OpenAI) normalize(resp *openai.ChatCompletionResponse, model string, latency time.Duration) (*GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, NewError(c.Name(), model, errors.New("empty choice list")).WithKind(KindInternal)
	}
	msg := resp.Choices[0].Message

	var blocks []ResponseBlock
	if msg.Content != "" {
		blocks = append(blocks, TextResult{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		var probe any
		if err := json.Unmarshal([]byte(args), &probe); err != nil {
			return nil, InvalidRequest(c.Name(), model, "malformed tool arguments for "+tc.Function.Name)
		}
		blocks = append(blocks, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(args),
		})
	}

	raw, _ := json.Marshal(resp)
	return &GenerateResponse{
		Blocks: blocks,
		Model:  model,
		Raw:    raw,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Cost:             estimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			Latency:          latency,
		},
	}, nil
}

func (c *OpenAI) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := NewError(c.Name(), model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			wrapped = wrapped.WithCode(code)
		}
		return wrapped.WithMessage(apiErr.Message)
	}
	return NewError(c.Name(), model, err)
}

// openaiMessages flattens turns into the chat format: tool results become
// separate tool-role messages keyed by call id, and the system prompt leads.
func openaiMessages(turns []history.Turn, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range turns {
		switch turn.Role {
		case history.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, block := range turn.Blocks {
				switch b := block.(type) {
				case history.TextBlock:
					if msg.Content != "" {
						msg.Content += "\n"
					}
					msg.Content += b.Text
				case history.ToolCallBlock:
					input := string(b.Input)
					if input == "" {
						input = "{}"
					}
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: input,
						},
					})
				}
			}
			if msg.Content != "" || len(msg.ToolCalls) > 0 {
				out = append(out, msg)
			}

		default:
			// User-role turns carry text, tool results, or both; results
			// must each become their own tool-role message.
			var text string
			for _, block := range turn.Blocks {
				switch b := block.(type) {
				case history.TextBlock:
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case history.ToolResultBlock:
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.Content,
						ToolCallID: b.ToolCallID,
					})
				}
			}
			if text != "" {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				})
			}
		}
	}
	return out
}

func openaiTools(descs []tools.Descriptor) []openai.Tool {
	out := make([]openai.Tool, len(descs))
	for i, d := range descs {
		var schemaMap map[string]any
		if err := json.Unmarshal(d.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		// Strict mode requires additionalProperties: false.
		if _, ok := schemaMap["additionalProperties"]; !ok {
			schemaMap["additionalProperties"] = false
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Strict:      true,
				Parameters:  schemaMap,
			},
		}
	}
	return out
}
