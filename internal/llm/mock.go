package llm

import (
	"context"
	"sync"
)

// MockChatCall records one invocation of MockChatModel.Chat, for assertions
// in workflow and quality-gate tests.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// MockChatModel returns a scripted sequence of responses, cycling through
// Responses in order and repeating the last one once exhausted. Grounded
// on the teacher's graph/model/mock.go fixture.
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	mu        sync.Mutex
	Calls     []MockChatCall
	callIndex int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(_ context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns how many times Chat has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
