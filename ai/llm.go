package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// LLMCompletion adapts a langchaingo chat model to CompletionProvider.
type LLMCompletion struct {
	name        string
	model       llms.Model
	temperature float64
	logger      *slog.Logger
}

var _ CompletionProvider = (*LLMCompletion)(nil)

// NewLLMCompletion wraps model under the given provider name.
func NewLLMCompletion(name string, model llms.Model) *LLMCompletion {
	return &LLMCompletion{
		name:        name,
		model:       model,
		temperature: 0.2,
		logger:      slog.Default().With("component", "completion", "provider", name),
	}
}

// Name returns the provider name.
func (c *LLMCompletion) Name() string {
	return c.name
}

// Complete sends prompt as a single user message.
func (c *LLMCompletion) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	c.logger.Debug("requesting completion", "prompt_length", len(prompt), "max_tokens", maxTokens)
	response, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", Classify(c.name, err)
	}
	if len(response.Choices) < 1 || strings.TrimSpace(response.Choices[0].Content) == "" {
		return "", &ProviderError{Provider: c.name, Kind: KindUnavailable, Err: ErrEmptyCompletion}
	}
	return response.Choices[0].Content, nil
}

// LLMEmbedder adapts a langchaingo embedder to Embedder.
type LLMEmbedder struct {
	name     string
	embedder embeddings.Embedder
	logger   *slog.Logger
}

var _ Embedder = (*LLMEmbedder)(nil)

// NewLLMEmbedder creates an embedder over any langchaingo client that can
// create embeddings. Newlines are stripped before embedding.
func NewLLMEmbedder(name string, client embeddings.EmbedderClient) (*LLMEmbedder, error) {
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &LLMEmbedder{
		name:     name,
		embedder: embedder,
		logger:   slog.Default().With("component", "embedder", "provider", name),
	}, nil
}

// EmbedText generates a vector embedding for a single text string.
func (e *LLMEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, Classify(e.name, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &ProviderError{Provider: e.name, Kind: KindUnavailable, Err: ErrEmptyCompletion}
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *LLMEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, Classify(e.name, err)
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{Provider: e.name, Kind: KindUnavailable, Err: ErrEmptyCompletion}
	}
	return vectors, nil
}
