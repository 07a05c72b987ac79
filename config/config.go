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

// Package config loads process configuration from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/poiesic/trendwire/ai"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/source"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Queue transports.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
	QueueKafka  = "kafka"
)

// Digest deliverers.
const (
	DelivererLog      = "log"
	DelivererTelegram = "telegram"
)

// Environment variables read by Load.
const (
	EnvStoreDriver    = "TRENDWIRE_STORE_DRIVER"
	EnvStorePath      = "TRENDWIRE_STORE_PATH"
	EnvStoreDSN       = "TRENDWIRE_STORE_DSN"
	EnvQueue          = "TRENDWIRE_QUEUE"
	EnvRedisAddr      = "TRENDWIRE_REDIS_ADDR"
	EnvKafkaBrokers   = "TRENDWIRE_KAFKA_BROKERS"
	EnvAPIAddr        = "TRENDWIRE_API_ADDR"
	EnvEmbeddingHost  = "TRENDWIRE_EMBEDDING_HOST"
	EnvEmbeddingModel = "TRENDWIRE_EMBEDDING_MODEL"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvDeepSeekKey    = "DEEPSEEK_API_KEY"
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
)

// Config is the process configuration.
type Config struct {
	Store        StoreConfig              `yaml:"store"`
	Queue        QueueConfig              `yaml:"queue"`
	Redis        RedisConfig              `yaml:"redis"`
	Kafka        KafkaConfig              `yaml:"kafka"`
	Embedding    EmbeddingConfig          `yaml:"embedding"`
	Providers    []ai.ProviderConfig      `yaml:"providers"`
	Analysis     AnalysisConfig           `yaml:"analysis"`
	Digest       DigestConfig             `yaml:"digest"`
	Orchestrator OrchestratorConfig       `yaml:"orchestrator"`
	Sources      []SourceConfig           `yaml:"sources"`
	Categories   []normalize.CategoryRule `yaml:"categories"`
	Telegram     TelegramConfig           `yaml:"telegram"`
	API          APIConfig                `yaml:"api"`
	Retention    RetentionConfig          `yaml:"retention"`
}

// StoreConfig selects where documents, subscriptions and reports live.
// Task records and the embedding index always live in badger at Path.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	InMemory bool   `yaml:"in_memory"`
}

// QueueConfig selects the task transport.
type QueueConfig struct {
	Kind     string `yaml:"kind"`
	Capacity int    `yaml:"capacity"`
}

// RedisConfig is shared by the redis queue and the seen cache.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	QueueName  string        `yaml:"queue_name"`
	SeenPrefix string        `yaml:"seen_prefix"`
	SeenTTL    time.Duration `yaml:"seen_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// EmbeddingConfig describes the Embedding Service.
type EmbeddingConfig struct {
	Kind        string `yaml:"kind"`
	Host        string `yaml:"host"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BatchTokens int    `yaml:"batch_tokens"`
}

// AnalysisConfig tunes the analysis engine.
type AnalysisConfig struct {
	TopK            int           `yaml:"top_k"`
	Window          time.Duration `yaml:"window"`
	ScoreThreshold  float32       `yaml:"score_threshold"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
	MaxTokens       int           `yaml:"max_tokens"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// DigestConfig sets the period boundaries and the deliverer.
type DigestConfig struct {
	Hour      int           `yaml:"hour"`
	Weekday   string        `yaml:"weekday"`
	Timezone  string        `yaml:"timezone"`
	Interval  time.Duration `yaml:"interval"`
	Deliverer string        `yaml:"deliverer"`
}

type OrchestratorConfig struct {
	Workers int `yaml:"workers"`
}

// SourceConfig is one polled source.
type SourceConfig struct {
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	Category string `yaml:"category"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	BaseURL  string `yaml:"base_url"`
}

// APIConfig enables the HTTP API when Addr is set.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// RetentionConfig bounds how long documents and vectors are kept. Zero keeps everything.
type RetentionConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Store: StoreConfig{Driver: DriverBadger, Path: "trendwire.db"},
		Queue: QueueConfig{Kind: QueueMemory},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			QueueName:  "trendwire:tasks",
			SeenPrefix: "trendwire:seen:",
			SeenTTL:    7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{Topic: "trendwire-tasks", GroupID: "trendwire"},
		Embedding: EmbeddingConfig{
			Kind:        aiDefaults.EmbeddingKind,
			Host:        aiDefaults.EmbeddingHost,
			Model:       aiDefaults.EmbeddingModel,
			BatchTokens: aiDefaults.EmbeddingBatchTokens,
		},
		Providers: aiDefaults.Providers,
		Analysis: AnalysisConfig{
			TopK:            20,
			Window:          7 * 24 * time.Hour,
			ScoreThreshold:  0.35,
			MaxPromptTokens: 12000,
			MaxTokens:       2048,
			ProviderTimeout: aiDefaults.RequestTimeout,
		},
		Digest: DigestConfig{
			Hour:      14,
			Weekday:   "monday",
			Timezone:  "UTC",
			Interval:  time.Minute,
			Deliverer: DelivererLog,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path loads defaults and the environment only. The result
// is validated.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Parse(raw, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Fields absent from raw keep their value.
// Unknown keys are rejected.
func Parse(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Store.Driver, EnvStoreDriver)
	set(&c.Store.Path, EnvStorePath)
	set(&c.Store.DSN, EnvStoreDSN)
	set(&c.Queue.Kind, EnvQueue)
	set(&c.Redis.Addr, EnvRedisAddr)
	set(&c.API.Addr, EnvAPIAddr)
	set(&c.Embedding.Host, EnvEmbeddingHost)
	set(&c.Embedding.Model, EnvEmbeddingModel)
	set(&c.Telegram.BotToken, EnvTelegramToken)
	if v := getenv(EnvKafkaBrokers); v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	// Hosted API keys fill in services that were left without one.
	keys := []struct{ host, value string }{
		{"api.openai.com", getenv(EnvOpenAIKey)},
		{"api.deepseek.com", getenv(EnvDeepSeekKey)},
	}
	for _, k := range keys {
		if k.value == "" {
			continue
		}
		for i := range c.Providers {
			p := &c.Providers[i]
			if strings.Contains(p.Host, k.host) && missingKey(p.APIKey) {
				p.APIKey = k.value
			}
		}
		if strings.Contains(c.Embedding.Host, k.host) && missingKey(c.Embedding.APIKey) {
			c.Embedding.APIKey = k.value
		}
	}
}

func missingKey(key string) bool {
	return key == "" || key == "none"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and fails on the first problem.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBadger, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		return errors.New("config: store.path is required")
	}
	if c.Store.Driver != DriverBadger && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
	}

	switch c.Queue.Kind {
	case QueueMemory:
	case QueueRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis queue")
		}
	case QueueKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.GroupID == "" {
			return errors.New("config: kafka.brokers, kafka.topic and kafka.group_id are required for the kafka queue")
		}
	default:
		return fmt.Errorf("config: unknown queue kind %q", c.Queue.Kind)
	}

	if err := c.AI().Validate(); err != nil {
		return err
	}

	if c.Analysis.TopK <= 0 || c.Analysis.Window <= 0 || c.Analysis.MaxPromptTokens <= 0 || c.Analysis.MaxTokens <= 0 {
		return errors.New("config: analysis top_k, window, max_prompt_tokens and max_tokens must be positive")
	}

	if _, err := c.Schedule(); err != nil {
		return err
	}
	if c.Digest.Interval <= 0 {
		return errors.New("config: digest.interval must be positive")
	}
	switch c.Digest.Deliverer {
	case DelivererLog:
	case DelivererTelegram:
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("config: telegram deliverer needs a bot token (telegram.bot_token or %s)", EnvTelegramToken)
		}
	default:
		return fmt.Errorf("config: unknown deliverer %q", c.Digest.Deliverer)
	}

	for i, s := range c.Sources {
		if _, err := core.ParseSourceType(s.Type); err != nil {
			return fmt.Errorf("config: source %d: %w", i, err)
		}
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("config: source %d: url is required", i)
		}
	}
	if c.Retention.MaxAge < 0 {
		return errors.New("config: retention.max_age must not be negative")
	}
	return nil
}

// AI returns the ai.Config for the embedding service and provider chain.
func (c *Config) AI() *ai.Config {
	providers := make([]ai.ProviderConfig, len(c.Providers))
	copy(providers, c.Providers)
	cfg := &ai.Config{
		EmbeddingKind:        c.Embedding.Kind,
		EmbeddingHost:        c.Embedding.Host,
		EmbeddingModel:       c.Embedding.Model,
		EmbeddingAPIKey:      c.Embedding.APIKey,
		EmbeddingBatchTokens: c.Embedding.BatchTokens,
		Providers:            providers,
		RequestTimeout:       c.Analysis.ProviderTimeout,
	}
	cfg.Normalize()
	return cfg
}

// Schedule returns the digest period boundaries.
func (c *Config) Schedule() (core.Schedule, error) {
	s := core.DefaultSchedule()
	if c.Digest.Hour < 0 || c.Digest.Hour > 23 {
		return s, fmt.Errorf("config: digest.hour %d out of range", c.Digest.Hour)
	}
	s.Hour = c.Digest.Hour

	if c.Digest.Weekday != "" {
		day, ok := weekdays[strings.ToLower(c.Digest.Weekday)]
		if !ok {
			return s, fmt.Errorf("config: unknown digest.weekday %q", c.Digest.Weekday)
		}
		s.Weekday = day
	}
	if c.Digest.Timezone != "" {
		loc, err := time.LoadLocation(c.Digest.Timezone)
		if err != nil {
			return s, fmt.Errorf("config: digest.timezone: %w", err)
		}
		s.Location = loc
	}
	return s, nil
}

// SourceList converts the configured sources.
func (c *Config) SourceList() ([]source.Source, error) {
	out := make([]source.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		st, err := core.ParseSourceType(s.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, source.Source{Ref: strings.TrimSpace(s.URL), Type: st, Category: strings.ToLower(strings.TrimSpace(s.Category))})
	}
	return out, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}
