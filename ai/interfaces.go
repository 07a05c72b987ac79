package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionProvider turns a prompt into generated text.
// Implementations must be thread-safe for concurrent use.
type CompletionProvider interface {
	// Name identifies the provider in logs and in AnalysisReport.ProviderUsed.
	Name() string

	// Complete generates at most maxTokens tokens for prompt. Failures are
	// returned as *ProviderError so callers can tell timeouts from rate
	// limits and auth problems.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}
