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


package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend kinds understood by the provider constructors.
const (
	KindOpenAI = "openai"
	KindOllama = "ollama"
)

// ProviderConfig describes one completion service in the fallback chain.
type ProviderConfig struct {
	// Name is reported in logs and stored on reports. Defaults to Kind.
	Name string `yaml:"name"`

	// Kind selects the client: "openai" for any OpenAI-compatible API
	// (OpenAI, DeepSeek, vLLM, LocalAI) or "ollama" for a native Ollama server.
	Kind string `yaml:"kind"`

	// Host is the base URL of the service.
	// Example: "https://api.deepseek.com/v1", "http://localhost:11434"
	Host string `yaml:"host"`

	// Model is the model identifier.
	// Example: "deepseek-chat", "gpt-4o-mini", "qwen2.5:3b"
	Model string `yaml:"model"`

	// APIKey authenticates against hosted services. Local services accept "none".
	APIKey string `yaml:"api_key"`

	// ContextWindow is the model's context size in tokens. Zero means unknown.
	ContextWindow int `yaml:"context_window"`
}

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingKind selects the embedding client, "openai" or "ollama".
	EmbeddingKind string

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// EmbeddingAPIKey authenticates the embedding service.
	EmbeddingAPIKey string

	// EmbeddingBatchTokens caps the estimated tokens sent in one embedding request.
	// Default: 300000
	EmbeddingBatchTokens int

	// Providers is the ordered completion fallback chain.
	Providers []ProviderConfig

	// RequestTimeout bounds a single provider call.
	// Default: 60s
	RequestTimeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithEmbeddingAPIKey sets the embedding service key.
func WithEmbeddingAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingAPIKey = key
	}
}

// WithProviders replaces the completion fallback chain.
func WithProviders(providers ...ProviderConfig) ConfigOption {
	return func(c *Config) {
		c.Providers = providers
	}
}

// WithRequestTimeout sets the per-call timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingKind:        KindOpenAI,
		EmbeddingHost:        defaultHost,
		EmbeddingModel:       "embeddinggemma",
		EmbeddingAPIKey:      "none",
		EmbeddingBatchTokens: 300_000,
		Providers: []ProviderConfig{
			{Name: "local", Kind: KindOpenAI, Host: defaultHost, Model: "qwen2.5:3b", APIKey: "none", ContextWindow: 32_000},
		},
		RequestTimeout: 60 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("http://localhost:11434/v1"),
//	    WithProviders(
//	        ProviderConfig{Kind: "openai", Host: "https://api.deepseek.com/v1", Model: "deepseek-chat", APIKey: key},
//	        ProviderConfig{Kind: "ollama", Host: "http://localhost:11434", Model: "qwen2.5:3b"},
//	    ),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// normalizeHost adds the /v1 suffix OpenAI-compatible APIs require and
// strips it from native Ollama hosts.
func normalizeHost(kind, host string) string {
	if host == "" {
		return host
	}
	host = strings.TrimSuffix(host, "/")
	if kind == KindOllama {
		return strings.TrimSuffix(host, "/v1")
	}
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}
	return host
}

// Normalize ensures the configuration is in a canonical form.
func (c *Config) Normalize() {
	if c.EmbeddingKind == "" {
		c.EmbeddingKind = KindOpenAI
	}
	c.EmbeddingHost = normalizeHost(c.EmbeddingKind, c.EmbeddingHost)
	if c.EmbeddingAPIKey == "" {
		c.EmbeddingAPIKey = "none"
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Kind == "" {
			p.Kind = KindOpenAI
		}
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.APIKey == "" {
			p.APIKey = "none"
		}
		p.Host = normalizeHost(p.Kind, p.Host)
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if !validKind(c.EmbeddingKind) {
		return fmt.Errorf("ai config: unknown embedding kind %q", c.EmbeddingKind)
	}
	if len(c.Providers) == 0 {
		return errors.New("ai config: at least one completion provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if !validKind(p.Kind) {
			return fmt.Errorf("ai config: provider %d: unknown kind %q", i, p.Kind)
		}
		if p.Host == "" || p.Model == "" {
			return fmt.Errorf("ai config: provider %q: Host and Model are required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("ai config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	if c.EmbeddingBatchTokens < 0 {
		return errors.New("ai config: EmbeddingBatchTokens must not be negative")
	}
	return nil
}

func validKind(kind string) bool {
	return kind == KindOpenAI || kind == KindOllama
}
