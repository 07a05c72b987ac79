// Package ollama provides AI services backed by a native Ollama server.
package ollama

import (
	"fmt"

	"github.com/poiesic/trendwire/ai"
	"github.com/tmc/langchaingo/llms/ollama"
)

// NewCompletion creates a completion provider for an Ollama model.
func NewCompletion(pc ai.ProviderConfig) (ai.CompletionProvider, error) {
	if pc.Host == "" || pc.Model == "" {
		return nil, fmt.Errorf("ollama provider %q: host and model are required", pc.Name)
	}
	client, err := ollama.New(
		ollama.WithServerURL(pc.Host),
		ollama.WithModel(pc.Model),
	)
	if err != nil {
		return nil, err
	}
	name := pc.Name
	if name == "" {
		name = ai.KindOllama
	}
	return ai.NewLLMCompletion(name, client), nil
}

// NewEmbedder creates an embedder for an Ollama embedding model.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := ollama.New(
		ollama.WithServerURL(config.EmbeddingHost),
		ollama.WithModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}
	return ai.NewLLMEmbedder("ollama:"+config.EmbeddingModel, client)
}
