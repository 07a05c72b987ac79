package openai

import (
	"fmt"

	"github.com/poiesic/trendwire/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewCompletion creates a completion provider for an OpenAI-compatible chat API
// such as OpenAI, DeepSeek or a local vLLM server.
//
// Returns ai.CompletionProvider interface to enforce abstraction.
func NewCompletion(pc ai.ProviderConfig) (ai.CompletionProvider, error) {
	if pc.Host == "" || pc.Model == "" {
		return nil, fmt.Errorf("openai provider %q: host and model are required", pc.Name)
	}
	token := pc.APIKey
	if token == "" {
		// Local OpenAI-compatible services don't check the token but the client requires one.
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(pc.Host),
		openai.WithToken(token),
		openai.WithModel(pc.Model),
	)
	if err != nil {
		return nil, err
	}

	name := pc.Name
	if name == "" {
		name = ai.KindOpenAI
	}
	return ai.NewLLMCompletion(name, client), nil
}
