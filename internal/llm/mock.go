package llm

import (
	"context"
	"fmt"
	"sync"

	"bumble/internal/memory"
)

// MockClient returns canned responses for tests and keyless local runs.
// With no script configured it echoes the last user message as an echo tool
// call, which exercises the full ReAct path without a network.
type MockClient struct {
	usageCounter

	mu      sync.Mutex
	script  []string
	cursor  int
	calls   int
	failErr error
}

// NewMockClient creates a mock that replays the given responses in order,
// repeating the last one when exhausted.
func NewMockClient(script ...string) *MockClient {
	return &MockClient{script: script}
}

// FailWith makes every subsequent call return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) next(messages []memory.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return "", m.failErr
	}
	if len(m.script) > 0 {
		out := m.script[m.cursor]
		if m.cursor < len(m.script)-1 {
			m.cursor++
		}
		return out, nil
	}
	lastUser := "(no input)"
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == memory.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	return fmt.Sprintf(`{"tool": "echo", "args": {"text": "Echo from Mock: %s"}}`, lastUser), nil
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.next(messages)
}

// CompleteStream emits the scripted response as a single delta.
func (m *MockClient) CompleteStream(ctx context.Context, messages []memory.Message, onDelta func(string)) (string, error) {
	out, err := m.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if onDelta != nil && out != "" {
		onDelta(out)
	}
	return out, nil
}
