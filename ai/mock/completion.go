package mock

import (
	"context"
	"sync"

	"github.com/poiesic/trendwire/ai"
)

// MockCompletion is a test double for ai.CompletionProvider.
//
// Calls are answered by CompleteFunc when set, otherwise by Responses in
// order (the last response repeats), otherwise by Err.
type MockCompletion struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)
	Responses    []string
	Err          error

	mu      sync.Mutex
	prompts []string
}

var _ ai.CompletionProvider = (*MockCompletion)(nil)

// NewMockCompletion creates a provider that always answers with response.
func NewMockCompletion(name string, responses ...string) *MockCompletion {
	return &MockCompletion{ProviderName: name, Responses: responses}
}

// NewFailingCompletion creates a provider that always fails with the given kind.
func NewFailingCompletion(name string, kind ai.Kind, err error) *MockCompletion {
	return &MockCompletion{ProviderName: name, Err: &ai.ProviderError{Provider: name, Kind: kind, Err: err}}
}

// Name returns the provider name.
func (m *MockCompletion) Name() string {
	return m.ProviderName
}

// Complete records the prompt and returns the scripted answer.
func (m *MockCompletion) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.mu.Lock()
	n := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt, maxTokens)
	}
	if err := ctx.Err(); err != nil {
		return "", ai.Classify(m.ProviderName, err)
	}
	if len(m.Responses) > 0 {
		return m.Responses[min(n, len(m.Responses)-1)], nil
	}
	if m.Err != nil {
		return "", m.Err
	}
	return "", &ai.ProviderError{Provider: m.ProviderName, Kind: ai.KindUnavailable, Err: ai.ErrEmptyCompletion}
}

// CallCount returns the number of Complete calls.
func (m *MockCompletion) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt received, in call order.
func (m *MockCompletion) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
