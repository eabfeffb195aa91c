package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/conductor/internal/history"
	"github.com/haasonsaas/conductor/internal/tools"
)

const (
	defaultBedrockModel  = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	defaultBedrockRegion = "us-east-1"
)

// Bedrock adapts the AWS Converse API. Credentials come from the default
// AWS credential chain.
type Bedrock struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

func NewBedrock(opts Options) (*Bedrock, error) {
	region := opts.Region
	if region == "" {
		region = envKey("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = defaultBedrockRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultBedrockModel
	}
	return &Bedrock{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: model,
		region:       region,
	}, nil
}

func (c *Bedrock) Name() string { return "bedrock" }

func (c *Bedrock) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	system, turns := splitSystem(req)

	msgs := bedrockMessages(turns)
	if len(msgs) == 0 {
		return nil, InvalidRequest(c.Name(), model, "no messages to send")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: msgs,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	inference := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		// #nosec G115 -- token limits fit in int32
		inference.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(req.Temperature))
	}
	if inference.MaxTokens != nil || inference.Temperature != nil {
		input.InferenceConfig = inference
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockTools(req.Tools)
		switch req.ToolChoice {
		case ToolChoiceAny:
			input.ToolConfig.ToolChoice = &types.ToolChoiceMemberAny{}
		}
	}

	start := time.Now()
	resp, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, c.wrapError(err, model)
	}
	return c.normalize(resp, model, time.Since(start))
}

func (c *Bedrock) normalize(resp *bedrockruntime.ConverseOutput, model string, latency time.Duration) (*GenerateResponse, error) {
	msg, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewError(c.Name(), model, errors.New("unexpected output type")).WithKind(KindInternal)
	}

	var blocks []ResponseBlock
	var text string
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			if text != "" {
				text += "\n"
			}
			text += b.Value
		case *types.ContentBlockMemberToolUse:
			input, err := b.Value.Input.MarshalSmithyDocument()
			if err != nil || len(input) == 0 {
				input = []byte("{}")
			}
			blocks = append(blocks, ToolCall{
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: json.RawMessage(input),
			})
		}
	}
	if text != "" {
		blocks = append([]ResponseBlock{TextResult{Text: text}}, blocks...)
	}

	usage := Usage{Latency: latency}
	if resp.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(resp.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(resp.Usage.OutputTokens))
		usage.Cost = estimateCost(model, usage.PromptTokens, usage.CompletionTokens)
	}

	raw, _ := json.Marshal(resp)
	return &GenerateResponse{Blocks: blocks, Model: model, Raw: raw, Usage: usage}, nil
}

func (c *Bedrock) wrapError(err error, model string) error {
	wrapped := NewError(c.Name(), model, err)

	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return wrapped.WithStatus(429).WithMessage(aws.ToString(throttle.Message))
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return wrapped.WithStatus(400).WithMessage(aws.ToString(validation.Message))
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return wrapped.WithStatus(500).WithMessage(aws.ToString(internal.Message))
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return wrapped.WithStatus(503).WithMessage(aws.ToString(unavailable.Message))
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return wrapped.WithStatus(403).WithMessage(aws.ToString(denied.Message))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return wrapped.WithCode(apiErr.ErrorCode()).WithMessage(apiErr.ErrorMessage())
	}
	return wrapped
}

func bedrockMessages(turns []history.Turn) []types.Message {
	out := make([]types.Message, 0, len(turns))
	for _, turn := range turns {
		role := types.ConversationRoleUser
		if turn.Role == history.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		var content []types.ContentBlock
		for _, block := range turn.Blocks {
			switch b := block.(type) {
			case history.TextBlock:
				content = append(content, &types.ContentBlockMemberText{Value: b.Text})
			case history.ToolCallBlock:
				var inputDoc any
				if err := json.Unmarshal(b.Input, &inputDoc); err != nil {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(b.ID),
						Name:      aws.String(b.Name),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			case history.ToolResultBlock:
				status := types.ToolResultStatusSuccess
				if b.IsError {
					status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(b.ToolCallID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: b.Content},
						},
					},
				})
			}
		}
		if len(content) > 0 {
			out = append(out, types.Message{Role: role, Content: content})
		}
	}
	return out
}

func bedrockTools(descs []tools.Descriptor) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(descs))
	for i, d := range descs {
		var schema any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
