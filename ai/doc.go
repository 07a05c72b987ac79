// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides abstractions for AI services used in trendwire.
//
// This package defines the two services the pipeline consumes: Embedder turns
// document text into vectors and CompletionProvider turns an analysis prompt
// into text. Both are backed by langchaingo clients through LLMEmbedder and
// LLMCompletion.
//
// # Implementation Packages
//
//   - openai: any OpenAI-compatible API (OpenAI, DeepSeek, vLLM, LocalAI)
//   - ollama: a native Ollama server
//   - mock: scriptable test doubles
//
// # Errors
//
// Every failure leaving a provider is a *ProviderError whose Kind separates
// timeouts, rate limits, auth failures and bad requests from general
// unavailability. The analysis engine treats all kinds as a reason to move to
// the next provider in its chain.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithProviders(
//	    ai.ProviderConfig{Name: "deepseek", Kind: "openai", Host: "https://api.deepseek.com", Model: "deepseek-chat", APIKey: key},
//	))
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	embedder, err := openai.NewEmbedder(cfg)
//	primary, err := openai.NewCompletion(cfg.Providers[0])
//	text, err := primary.Complete(ctx, prompt, 2048)
package ai
