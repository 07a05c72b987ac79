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


// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// The langchaingo OpenAI client speaks to OpenAI itself and to compatible
// services such as DeepSeek, Ollama's /v1 endpoint, LocalAI or vLLM.
//
// # Usage
//
//	cfg := ai.DefaultConfig()
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vector, err := embedder.EmbedText(ctx, "sample text")
//
//	completion, err := openai.NewCompletion(ai.ProviderConfig{
//	    Name: "openai", Host: "https://api.openai.com/v1", Model: "gpt-4o-mini", APIKey: key,
//	})
package openai
