// Package llm abstracts the chat-completion service the quality gate and
// the content-creator/translation write nodes depend on. Grounded on the
// teacher's graph/model package — same ChatModel contract, provider
// adapters, and mock — treated here as the spec's opaque "LLMService"
// external collaborator (spec.md §1, "Out of scope... specified only by
// interface").
package llm

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// ToolSpec describes a callable tool the model may invoke.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested invocation of a declared tool.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// ChatOut is a chat completion response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ChatModel is the interface every provider adapter (and the mock used in
// tests) implements.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}
