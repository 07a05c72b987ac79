package openai

import (
	"github.com/poiesic/trendwire/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewEmbedder creates an embedder for an OpenAI-compatible embeddings API.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.EmbeddingAPIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	return ai.NewLLMEmbedder("openai:"+config.EmbeddingModel, client)
}
