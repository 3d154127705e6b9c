package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIModel implements ChatModel against OpenAI's chat completions API.
// Grounded on the teacher's graph/model/openai adapter, including its
// in-adapter retry loop for transient failures (the node runtime applies
// its own outer retry budget, spec.md §4.4; this inner loop absorbs
// rate-limit backoff the same way the teacher's does, so a single node
// attempt survives a brief 429 burst without consuming the node's budget).
type OpenAIModel struct {
	modelName  string
	client     openaiAPI
	maxRetries int
	retryDelay time.Duration
}

type openaiAPI interface {
	createChatCompletion(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// NewOpenAIModel builds an OpenAIModel. An empty modelName defaults to
// gpt-4o.
func NewOpenAIModel(apiKey, modelName string) *OpenAIModel {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	return &OpenAIModel{
		modelName:  modelName,
		client:     &liveOpenAIClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements ChatModel.
func (m *OpenAIModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, errkind.Wrap(errkind.Cancelled, "openai chat cancelled", err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isRateLimited(err) {
			return ChatOut{}, errkind.Wrap(errkind.PermanentExternal, "openai api error", err)
		}
		if attempt >= m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ChatOut{}, errkind.Wrap(errkind.Cancelled, "openai chat cancelled", ctx.Err())
		}
	}

	return ChatOut{}, errkind.Wrap(errkind.TransientExternal,
		fmt.Sprintf("openai api failed after %d retries", m.maxRetries), lastErr)
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"429", "rate limit", "rate_limit", "too many requests"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type liveOpenAIClient struct {
	apiKey    string
	modelName string
}

func (c *liveOpenAIClient) createChatCompletion(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("openai api key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertOpenAITools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatOut{}, fmt.Errorf("openai api error: %w", err)
	}
	return convertOpenAIResponse(resp), nil
}

func convertOpenAIMessages(messages []Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out[i] = openaisdk.SystemMessage(msg.Content)
		case RoleAssistant:
			out[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			out[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return out
}

func convertOpenAITools(tools []ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return out
}

func convertOpenAIResponse(resp *openaisdk.ChatCompletion) ChatOut {
	out := ChatOut{}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = ToolCall{
				Name:  tc.Function.Name,
				Input: parseOpenAIToolInput(tc.Function.Arguments),
			}
		}
	}
	return out
}

func parseOpenAIToolInput(jsonStr string) map[string]interface{} {
	if jsonStr == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &m); err == nil {
		return m
	}
	return map[string]interface{}{"_raw": jsonStr}
}
