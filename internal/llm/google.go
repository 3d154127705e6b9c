package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GoogleModel implements ChatModel against Google's Gemini API. Grounded on
// the teacher's graph/model/google adapter, including its safety-filter
// error surface — a Gemini-specific failure mode the other two providers
// don't have, classified here as PermanentExternal since retrying the same
// content will not change the verdict.
type GoogleModel struct {
	apiKey    string
	modelName string
	client    googleAPI
}

type googleAPI interface {
	generateContent(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// NewGoogleModel builds a GoogleModel. An empty modelName defaults to
// Gemini 2.5 Flash.
func NewGoogleModel(apiKey, modelName string) *GoogleModel {
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GoogleModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &liveGoogleClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements ChatModel.
func (m *GoogleModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, errkind.Wrap(errkind.Cancelled, "google chat cancelled", err)
	}

	out, err := m.client.generateContent(ctx, messages, tools)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return ChatOut{}, errkind.Wrap(errkind.PermanentExternal, "content blocked by safety filter", safetyErr).
				WithDetails(map[string]any{"category": safetyErr.category, "reason": safetyErr.reason})
		}
		return ChatOut{}, errkind.Wrap(errkind.TransientExternal, "google api error", err)
	}
	return out, nil
}

// SafetyFilterError reports a Gemini safety-filter block.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

type liveGoogleClient struct {
	apiKey    string
	modelName string
}

func (c *liveGoogleClient) generateContent(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("google api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return ChatOut{}, fmt.Errorf("create google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(c.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertGoogleTools(tools)
	}

	resp, err := genModel.GenerateContent(ctx, convertGoogleMessages(messages)...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("google api error: %w", err)
	}

	if blocked := blockedCategory(resp); blocked != "" {
		return ChatOut{}, &SafetyFilterError{reason: "SAFETY", category: blocked}
	}
	return convertGoogleResponse(resp), nil
}

func blockedCategory(resp *genai.GenerateContentResponse) string {
	for _, c := range resp.Candidates {
		if c.FinishReason == genai.FinishReasonSafety {
			for _, r := range c.SafetyRatings {
				if r.Blocked {
					return r.Category.String()
				}
			}
			return "SAFETY"
		}
	}
	return ""
}

func convertGoogleMessages(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertGoogleTools(tools []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertGoogleSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertGoogleSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]any)
			if !ok {
				continue
			}
			propSchema := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				propSchema.Type = googleSchemaType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				propSchema.Description = desc
			}
			properties[key] = propSchema
		}
		result.Properties = properties
	}

	switch req := schema["required"].(type) {
	case []string:
		result.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func googleSchemaType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertGoogleResponse(resp *genai.GenerateContentResponse) ChatOut {
	out := ChatOut{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}
