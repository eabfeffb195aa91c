package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini adapts the Google Gen AI SDK. Tool call ids are synthesized
// because the API does not issue them.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

func NewGemini(opts Options) (*Gemini, error) {
	key := opts.APIKey
	if key == "" {
		key = envKey("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	if key == "" {
		return nil, errors.New("gemini: GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, defaultModel: model}, nil
}

func (c *Gemini) Name() string { return "gemini" }

func (c *Gemini) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	system, turns := splitSystem(req)

	contents := geminiContents(turns)
	if len(contents) == 0 {
		return nil, InvalidRequest(c.Name(), model, "no messages to send")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
		switch req.ToolChoice {
		case ToolChoiceAny:
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
			}
		case ToolChoiceNone:
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
			}
		}
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, c.wrapError(err, model)
	}
	return c.normalize(resp, model, time.Since(start))
}

func (c *Gemini) normalize(resp *genai.GenerateContentResponse, model string, latency time.Duration) (*GenerateResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewError(c.Name(), model, errors.New("empty candidate list")).WithKind(KindInternal)
	}

	var blocks []ResponseBlock
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			blocks = append(blocks, ToolCall{
				ID:    geminiCallID(part.FunctionCall.Name),
				Name:  part.FunctionCall.Name,
				Input: args,
			})
		}
	}
	if text != "" {
		blocks = append([]ResponseBlock{TextResult{Text: text}}, blocks...)
	}

	usage := Usage{Latency: latency}
	if meta := resp.UsageMetadata; meta != nil {
		usage.PromptTokens = int(meta.PromptTokenCount)
		usage.CompletionTokens = int(meta.CandidatesTokenCount)
		usage.Cost = estimateCost(model, usage.PromptTokens, usage.CompletionTokens)
	}

	raw, _ := json.Marshal(resp)
	return &GenerateResponse{Blocks: blocks, Model: model, Raw: raw, Usage: usage}, nil
}

// wrapError classifies by sniffing the message; the SDK does not expose a
// typed status on all paths.
func (c *Gemini) wrapError(err error, model string) error {
	wrapped := NewError(c.Name(), model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"), strings.Contains(msg, "quota"):
		return wrapped.WithStatus(429)
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		return wrapped.WithStatus(401)
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid argument"):
		return wrapped.WithStatus(400)
	case strings.Contains(msg, "503"), strings.Contains(msg, "unavailable"):
		return wrapped.WithStatus(503)
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal"):
		return wrapped.WithStatus(500)
	}
	return wrapped
}

func geminiContents(turns []history.Turn) []*genai.Content {
	var out []*genai.Content
	// Tool names are needed to answer results, keyed by call id.
	callNames := make(map[string]string)

	for _, turn := range turns {
		content := &genai.Content{Role: genai.RoleUser}
		if turn.Role == history.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, block := range turn.Blocks {
			switch b := block.(type) {
			case history.TextBlock:
				content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
			case history.ToolCallBlock:
				callNames[b.ID] = b.Name
				var args map[string]any
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.Name, Args: args},
				})
			case history.ToolResultBlock:
				var response map[string]any
				if err := json.Unmarshal([]byte(b.Content), &response); err != nil {
					response = map[string]any{"result": b.Content, "error": b.IsError}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     callNames[b.ToolCallID],
						Response: response,
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func geminiTools(descs []tools.Descriptor) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		var schemaMap map[string]any
		if err := json.Unmarshal(d.InputSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema map into the SDK's Schema type.
// Only the vocabulary Gemini understands survives the conversion.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func geminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}
