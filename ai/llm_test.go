package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel is a minimal llms.Model.
type fakeModel struct {
	content  string
	err      error
	gotOpts  llms.CallOptions
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.gotOpts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLLMCompletion_Complete(t *testing.T) {
	model := &fakeModel{content: "HEADLINE: quiet week"}
	c := NewLLMCompletion("local", model)

	out, err := c.Complete(context.Background(), "summarize", 512)
	require.NoError(t, err)
	assert.Equal(t, "HEADLINE: quiet week", out)
	assert.Equal(t, "local", c.Name())
	assert.Equal(t, 512, model.gotOpts.MaxTokens)
	require.Len(t, model.messages, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[0].Role)
}

func TestLLMCompletion_Errors(t *testing.T) {
	t.Run("classified failure", func(t *testing.T) {
		c := NewLLMCompletion("remote", &fakeModel{err: errors.New("status code: 429")})
		_, err := c.Complete(context.Background(), "p", 0)
		assert.Equal(t, KindRateLimited, KindOf(err))
	})

	t.Run("empty answer", func(t *testing.T) {
		c := NewLLMCompletion("remote", &fakeModel{content: "  "})
		_, err := c.Complete(context.Background(), "p", 0)
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})
}
