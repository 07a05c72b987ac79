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

// Package trendwire assembles the ingestion, embedding, analysis, digest and
// orchestration components into one running system.
package trendwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/trendwire/ai"
	"github.com/poiesic/trendwire/ai/ollama"
	"github.com/poiesic/trendwire/ai/openai"
	"github.com/poiesic/trendwire/analysis"
	"github.com/poiesic/trendwire/api"
	"github.com/poiesic/trendwire/config"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/dedup"
	"github.com/poiesic/trendwire/delivery/telegram"
	"github.com/poiesic/trendwire/digest"
	"github.com/poiesic/trendwire/embedding"
	"github.com/poiesic/trendwire/ingestion"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/queue"
	"github.com/poiesic/trendwire/queue/kafka"
	"github.com/poiesic/trendwire/queue/memory"
	"github.com/poiesic/trendwire/queue/redisq"
	"github.com/poiesic/trendwire/reindex"
	"github.com/poiesic/trendwire/source"
	"github.com/poiesic/trendwire/source/csv"
	"github.com/poiesic/trendwire/source/rss"
	tgsource "github.com/poiesic/trendwire/source/telegram"
	"github.com/poiesic/trendwire/storage"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/poiesic/trendwire/storage/sqlstore"
	"github.com/redis/go-redis/v9"
)

// drainInterval is how often Drain checks for unfinished tasks.
const drainInterval = 100 * time.Millisecond

// System is an assembled trendwire process.
type System struct {
	cfg *config.Config

	backend *badger.Backend
	sql     *sqlstore.Store
	redis   *redis.Client

	Documents     storage.DocumentStore
	Subscriptions storage.SubscriptionStore
	Reports       storage.ReportStore
	Tasks         storage.TaskStore
	Index         storage.EmbeddingIndex

	Queue        queue.Queue
	Orchestrator *orchestrator.Orchestrator
	Gate         *dedup.Gate
	Producer     *embedding.Producer
	Engine       *analysis.Engine
	Scheduler    *digest.Scheduler
	Pipeline     *ingestion.Pipeline
	Feeds        *source.Registry
	API          *api.Server

	logger  *slog.Logger
	mu      sync.Mutex
	started bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	embedder  ai.Embedder
	providers []ai.CompletionProvider
	deliverer digest.Deliverer
	logger    *slog.Logger
}

// WithEmbedder replaces the configured embedding service.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithProviders replaces the configured completion fallback chain.
func WithProviders(providers ...ai.CompletionProvider) Option {
	return func(o *options) { o.providers = providers }
}

// WithDeliverer replaces the configured digest deliverer.
func WithDeliverer(d digest.Deliverer) Option {
	return func(o *options) { o.deliverer = d }
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open builds a System from cfg. Nothing runs until Start or Run.
func Open(cfg *config.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	s := &System{cfg: cfg, logger: o.logger.With("component", "trendwire")}
	if err := s.open(o); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) open(o *options) error {
	cfg := s.cfg

	backend, err := badger.OpenBackend(cfg.Store.Path, cfg.Store.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.backend = backend
	repos := badger.NewRepositories(backend)
	s.Tasks, s.Index = repos.Tasks, repos.Index

	if cfg.Store.Driver == config.DriverBadger {
		s.Documents, s.Subscriptions, s.Reports = repos.Documents, repos.Subscriptions, repos.Reports
	} else {
		sql, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
		s.sql = sql
		s.Documents, s.Subscriptions, s.Reports = sql, sql, sql
	}

	if s.Queue, err = s.openQueue(); err != nil {
		return err
	}

	var seen dedup.SeenCache = dedup.NewMemoryCache(cfg.Redis.SeenTTL)
	if s.redis != nil {
		seen = dedup.NewRedisCache(s.redis, cfg.Redis.SeenPrefix, cfg.Redis.SeenTTL)
	}
	s.Gate = dedup.NewGate(s.Documents, seen)

	embedder, providers := o.embedder, o.providers
	if embedder == nil {
		if embedder, err = newEmbedder(cfg.AI()); err != nil {
			return err
		}
	}
	if len(providers) == 0 {
		if providers, err = newProviders(cfg.AI()); err != nil {
			return err
		}
	}

	if s.Producer, err = embedding.NewProducer(s.Documents, s.Index, embedder,
		embedding.WithBatchTokens(cfg.Embedding.BatchTokens),
		embedding.WithLogger(o.logger)); err != nil {
		return err
	}

	if s.Engine, err = analysis.NewEngine(s.Documents, s.Index, embedder, providers,
		analysis.WithTopK(cfg.Analysis.TopK),
		analysis.WithWindow(cfg.Analysis.Window),
		analysis.WithScoreThreshold(cfg.Analysis.ScoreThreshold),
		analysis.WithMaxPromptTokens(cfg.Analysis.MaxPromptTokens),
		analysis.WithMaxTokens(cfg.Analysis.MaxTokens),
		analysis.WithProviderTimeout(cfg.Analysis.ProviderTimeout),
		analysis.WithReportStore(s.Reports),
		analysis.WithLogger(o.logger)); err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(o.logger)}
	if cfg.Orchestrator.Workers > 0 {
		orchOpts = append(orchOpts, orchestrator.WithWorkers(cfg.Orchestrator.Workers))
	}
	if s.Orchestrator, err = orchestrator.New(s.Tasks, s.Queue, orchOpts...); err != nil {
		return err
	}

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	if s.Scheduler, err = digest.NewScheduler(s.Subscriptions, s.Orchestrator,
		digest.WithSchedule(schedule),
		digest.WithInterval(cfg.Digest.Interval),
		digest.WithLogger(o.logger)); err != nil {
		return err
	}

	s.Feeds = newRegistry()
	if s.Pipeline, err = ingestion.NewPipeline(normalize.New(normalize.WithRules(cfg.Categories)), s.Gate, s.Orchestrator,
		ingestion.WithRegistry(s.Feeds),
		ingestion.WithLogger(o.logger)); err != nil {
		return err
	}

	deliverer := o.deliverer
	if deliverer == nil {
		deliverer = s.newDeliverer(o.logger)
	}
	if err := s.register(deliverer, o.logger); err != nil {
		return err
	}

	s.API, err = api.New(api.Deps{
		Tasks:         s.Orchestrator,
		Ingester:      s.Pipeline,
		Analyzer:      s.Engine,
		Reports:       s.Reports,
		Subscriptions: s.Subscriptions,
	}, api.WithLogger(o.logger))
	return err
}

func (s *System) openQueue() (queue.Queue, error) {
	cfg := s.cfg
	switch cfg.Queue.Kind {
	case config.QueueRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisq.New(s.redis, cfg.Redis.QueueName), nil
	case config.QueueKafka:
		q, err := kafka.New(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, GroupID: cfg.Kafka.GroupID})
		if err != nil {
			return nil, fmt.Errorf("failed to open kafka queue: %w", err)
		}
		return q, nil
	default:
		capacity := cfg.Queue.Capacity
		if capacity <= 0 {
			capacity = memory.DefaultCapacity
		}
		return memory.New(capacity), nil
	}
}

func newEmbedder(cfg *ai.Config) (ai.Embedder, error) {
	if cfg.EmbeddingKind == ai.KindOllama {
		return ollama.NewEmbedder(cfg)
	}
	return openai.NewEmbedder(cfg)
}

func newProviders(cfg *ai.Config) ([]ai.CompletionProvider, error) {
	providers := make([]ai.CompletionProvider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var (
			p   ai.CompletionProvider
			err error
		)
		switch pc.Kind {
		case ai.KindOllama:
			p, err = ollama.NewCompletion(pc)
		default:
			p, err = openai.NewCompletion(pc)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %q: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func newRegistry() *source.Registry {
	client := source.NewHTTPClient()
	feeds := source.NewRegistry()
	feeds.Register(core.SourceTypeRSS, rss.New(client))
	feeds.Register(core.SourceTypeTelegram, tgsource.New(client))
	feeds.Register(core.SourceTypeCSV, csv.Feed{})
	return feeds
}

func (s *System) newDeliverer(logger *slog.Logger) digest.Deliverer {
	if s.cfg.Digest.Deliverer != config.DelivererTelegram {
		return digest.LogDeliverer{Logger: logger}
	}
	var opts []telegram.Option
	if s.cfg.Telegram.BaseURL != "" {
		opts = append(opts, telegram.WithBaseURL(s.cfg.Telegram.BaseURL))
	}
	return telegram.New(s.cfg.Telegram.BotToken, opts...)
}

// register binds a handler to every task class.
func (s *System) register(deliverer digest.Deliverer, logger *slog.Logger) error {
	ingest, err := ingestion.NewIngestHandler(s.Gate, s.Orchestrator, logger)
	if err != nil {
		return err
	}
	embed, err := ingestion.NewEmbedHandler(s.Producer)
	if err != nil {
		return err
	}
	digestHandler, err := digest.NewHandler(s.Subscriptions, digest.NewEngineSource(s.Engine, s.Reports), deliverer,
		digest.WithHandlerSchedule(s.Scheduler.Schedule()),
		digest.WithHandlerLogger(logger))
	if err != nil {
		return err
	}

	s.Orchestrator.Register(core.TaskIngest, ingest)
	s.Orchestrator.Register(core.TaskEmbed, embed)
	s.Orchestrator.Register(core.TaskAnalysis, analysis.NewTaskHandler(s.Engine))
	s.Orchestrator.Register(core.TaskDigest, digestHandler)
	return nil
}

// Config returns the configuration the system was opened with.
func (s *System) Config() *config.Config {
	return s.cfg
}

// Start recovers unfinished tasks and starts the orchestrator workers.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	recovered, err := s.Orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if err := s.Orchestrator.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.logger.Info("system started", "recovered_tasks", recovered, "queue", s.cfg.Queue.Kind, "store", s.cfg.Store.Driver)
	return nil
}

// Stop stops the orchestrator. Unfinished tasks stay in the task store.
func (s *System) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.Orchestrator.Stop()
	s.started = false
}

// Run starts the system, the digest scheduler, the HTTP API when configured
// and, when pollEvery is positive, periodic polling of the configured
// sources. It blocks until ctx is cancelled.
func (s *System) Run(ctx context.Context, pollEvery time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("scheduler", s.Scheduler.Run)
	if s.cfg.API.Addr != "" {
		spawn("api", func(ctx context.Context) error { return s.API.ListenAndServe(ctx, s.cfg.API.Addr) })
	}
	if pollEvery > 0 {
		spawn("poller", func(ctx context.Context) error { return s.PollEvery(ctx, pollEvery) })
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	wg.Wait()
	return runErr
}

// Poll fetches every configured source once.
func (s *System) Poll(ctx context.Context) (ingestion.Summary, error) {
	sources, err := s.cfg.SourceList()
	if err != nil {
		return ingestion.Summary{}, err
	}
	return s.Pipeline.Poll(ctx, sources)
}

// PollEvery polls the configured sources immediately and then every interval
// until ctx is cancelled. Failed sources are logged and retried next round.
func (s *System) PollEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		summary, err := s.Poll(ctx)
		if err != nil {
			s.logger.Warn("poll round had failures", "err", err)
		}
		s.logger.Info("poll round finished", "enqueued", summary.Enqueued, "duplicates", summary.Duplicates, "next", time.Now().Add(interval).Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain blocks until no task is pending, running or retrying, or ctx is done.
// Tasks chained by handlers are waited for as well.
func (s *System) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		open, err := s.Orchestrator.List(ctx, core.TaskPending, core.TaskRunning, core.TaskRetrying)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Analyze submits an analysis task for scope and waits for its report.
func (s *System) Analyze(ctx context.Context, scope core.AnalysisScope, window time.Duration, requestedBy string) (*core.AnalysisReport, error) {
	req := s.Engine.NewRequest(scope, requestedBy)
	if window > 0 {
		req.Window.Start = req.Window.End.Add(-window)
	}
	payload, err := analysis.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	id, err := s.Orchestrator.Enqueue(ctx, core.TaskAnalysis, analysis.TaskKey(req.RequestID), payload)
	if err != nil {
		return nil, err
	}
	rec, err := s.Orchestrator.Await(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := orchestrator.TaskError(rec); err != nil {
		return nil, err
	}
	return s.Reports.GetReport(ctx, req.RequestID)
}

// Subscribe creates or replaces a subscription.
func (s *System) Subscribe(ctx context.Context, subscriberID string, categories []string, cadence core.Cadence) error {
	now := time.Now().UTC()
	return s.Subscriptions.UpsertSubscription(ctx, &core.Subscription{
		SubscriberID: subscriberID,
		Categories:   core.NormalizeCategories(categories),
		Cadence:      cadence,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// Prune deletes documents published before cutoff together with their vectors.
func (s *System) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	fps, err := s.Documents.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if err := s.Index.DeleteEmbeddings(ctx, fps...); err != nil {
		return 0, fmt.Errorf("pruned %d documents but failed to delete vectors: %w", len(fps), err)
	}
	s.logger.Info("pruned documents", "count", len(fps), "cutoff", cutoff.Format(time.RFC3339))
	return len(fps), nil
}

// Reindexer returns a reindexer that re-embeds every stored document.
func (s *System) Reindexer(cfg *reindex.Config, progress io.Writer) *reindex.Reindexer {
	return reindex.NewReindexer(s.Documents, s.Producer, cfg, progress)
}

// Close stops the system and releases every resource in reverse order of
// acquisition. Errors are logged and the first one is returned.
func (s *System) Close() error {
	s.Stop()

	var first error
	closeLogged := func(what string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Error("error closing "+what, "err", err)
			if first == nil {
				first = err
			}
		}
	}

	if s.Pipeline != nil {
		s.Pipeline.Release()
	}
	if s.Queue != nil {
		closeLogged("queue", s.Queue.Close)
	}
	if s.redis != nil {
		closeLogged("redis client", s.redis.Close)
	}
	if s.sql != nil {
		closeLogged("sql store", s.sql.Close)
	}
	if s.backend != nil {
		closeLogged("backend storage", s.backend.Close)
	}
	return first
}
