package llm

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicModel implements ChatModel against Anthropic's Messages API.
// Grounded on the teacher's graph/model/anthropic adapter: the same
// system-prompt extraction, client-interface-for-mocking seam, and
// block-by-block response conversion, retargeted to classify failures into
// errkind.Kind instead of passing the SDK error through untranslated.
type AnthropicModel struct {
	modelName string
	client    anthropicAPI
}

// anthropicAPI is the seam tests substitute to avoid a live API call.
type anthropicAPI interface {
	createMessage(ctx context.Context, systemPrompt string, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// NewAnthropicModel builds an AnthropicModel. An empty modelName defaults to
// the current Claude Sonnet release.
func NewAnthropicModel(apiKey, modelName string) *AnthropicModel {
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	return &AnthropicModel{
		modelName: modelName,
		client:    &liveAnthropicClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements ChatModel.
func (m *AnthropicModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, errkind.Wrap(errkind.Cancelled, "anthropic chat cancelled", err)
	}

	systemPrompt, rest := extractSystemPrompt(messages)

	out, err := m.client.createMessage(ctx, systemPrompt, rest, tools)
	if err != nil {
		return ChatOut{}, classifyAnthropicError(err)
	}
	return out, nil
}

func extractSystemPrompt(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// classifyAnthropicError maps SDK errors to the pipeline's error taxonomy.
// Rate limits and server-side overload are retried by the node runtime;
// auth and malformed-request failures are not (spec.md §7).
func classifyAnthropicError(err error) *errkind.DomainError {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return errkind.Wrap(errkind.TransientExternal, "anthropic api error", err).
				WithDetails(map[string]any{"statusCode": apiErr.StatusCode})
		case 401, 403, 400, 404:
			return errkind.Wrap(errkind.PermanentExternal, "anthropic api error", err).
				WithDetails(map[string]any{"statusCode": apiErr.StatusCode})
		default:
			return errkind.Wrap(errkind.TransientExternal, "anthropic api error", err).
				WithDetails(map[string]any{"statusCode": apiErr.StatusCode})
		}
	}
	return errkind.Wrap(errkind.TransientExternal, "anthropic call failed", err)
}

// liveAnthropicClient wraps the official SDK client.
type liveAnthropicClient struct {
	apiKey    string
	modelName string
}

func (c *liveAnthropicClient) createMessage(ctx context.Context, systemPrompt string, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("anthropic api key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return ChatOut{}, fmt.Errorf("anthropic api error: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			out[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			out[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return out
}

func convertTools(tools []ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := tool.Schema["required"].([]string); ok {
				required = req
			} else if req, ok := tool.Schema["required"].([]interface{}); ok {
				required = make([]string, 0, len(req))
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}

		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return out
}

func convertResponse(resp *anthropicsdk.Message) ChatOut {
	out := ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:  b.Name,
				Input: convertToolInput(b.Input),
			})
		}
	}
	return out
}

func convertToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
