package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/trendwire/ai"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// Defaults for Engine options.
const (
	DefaultTopK              = 20
	DefaultWindow            = 7 * 24 * time.Hour
	DefaultScoreThreshold    = 0.35
	DefaultMaxPromptTokens   = 12000
	DefaultProviderTimeout   = 60 * time.Second
	DefaultMaxTokens         = 2048
	DefaultRetrievalAttempts = 3
	DefaultRetryDelay        = 500 * time.Millisecond
)

// Engine runs analysis requests. It is safe for concurrent use; each Run
// keeps its own fallback state.
type Engine struct {
	docs      storage.DocumentStore
	index     storage.EmbeddingIndex
	embedder  ai.Embedder
	providers []ai.CompletionProvider
	reports   storage.ReportStore
	observer  StateObserver
	logger    *slog.Logger
	now       func() time.Time

	topK              int
	window            time.Duration
	scoreThreshold    float32
	maxPromptTokens   int
	providerTimeout   time.Duration
	maxTokens         int
	retrievalAttempts int
	retryDelay        time.Duration
}

// Option configures an Engine.
type Option func(*Engine) error

// WithTopK sets how many documents are retrieved per request.
func WithTopK(k int) Option {
	return func(e *Engine) error {
		if k <= 0 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		e.topK = k
		return nil
	}
}

// WithWindow sets the look-back used when a request has no time window.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("window must be positive, got %v", d)
		}
		e.window = d
		return nil
	}
}

// WithScoreThreshold sets the minimum similarity for free-text retrieval.
func WithScoreThreshold(t float32) Option {
	return func(e *Engine) error {
		e.scoreThreshold = t
		return nil
	}
}

// WithMaxPromptTokens bounds the estimated size of a single prompt.
func WithMaxPromptTokens(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("max prompt tokens must be positive, got %d", n)
		}
		e.maxPromptTokens = n
		return nil
	}
}

// WithProviderTimeout sets the wall-clock limit of one provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.providerTimeout = d
		return nil
	}
}

// WithMaxTokens sets the completion length limit passed to providers.
func WithMaxTokens(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", n)
		}
		e.maxTokens = n
		return nil
	}
}

// WithRetrievalAttempts sets how often a failing retrieval is attempted.
func WithRetrievalAttempts(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("retrieval attempts must be positive, got %d", n)
		}
		e.retrievalAttempts = n
		return nil
	}
}

// WithRetryDelay sets the base backoff between retrieval attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) error {
		e.retryDelay = d
		return nil
	}
}

// WithReportStore persists every completed report.
func WithReportStore(reports storage.ReportStore) Option {
	return func(e *Engine) error {
		e.reports = reports
		return nil
	}
}

// WithObserver sets the receiver of state transitions.
func WithObserver(o StateObserver) Option {
	return func(e *Engine) error {
		if o == nil {
			o = noopObserver{}
		}
		e.observer = o
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates an Engine. Providers are tried in the given order.
func NewEngine(
	docs storage.DocumentStore,
	index storage.EmbeddingIndex,
	embedder ai.Embedder,
	providers []ai.CompletionProvider,
	opts ...Option,
) (*Engine, error) {
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	e := &Engine{
		docs:              docs,
		index:             index,
		embedder:          embedder,
		providers:         providers,
		observer:          noopObserver{},
		logger:            slog.Default().With("component", "analysis"),
		now:               time.Now,
		topK:              DefaultTopK,
		window:            DefaultWindow,
		scoreThreshold:    DefaultScoreThreshold,
		maxPromptTokens:   DefaultMaxPromptTokens,
		providerTimeout:   DefaultProviderTimeout,
		maxTokens:         DefaultMaxTokens,
		retrievalAttempts: DefaultRetrievalAttempts,
		retryDelay:        DefaultRetryDelay,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NewRequest builds a request for scope over the look-back window ending now.
func (e *Engine) NewRequest(scope core.AnalysisScope, requestedBy string) *core.AnalysisRequest {
	now := e.now().UTC()
	return &core.AnalysisRequest{
		RequestID:   uuid.NewString(),
		Scope:       scope,
		Window:      core.TimeWindow{Start: now.Add(-e.window), End: now},
		RequestedBy: requestedBy,
		CreatedAt:   now,
	}
}

// Run drives req to COMPLETED or FAILED. A completed run always returns a
// report; a degraded report is still a completed run.
func (e *Engine) Run(ctx context.Context, req *core.AnalysisRequest) (*core.AnalysisReport, error) {
	if req != nil && req.Window.Start.IsZero() && req.Window.End.IsZero() {
		now := e.now().UTC()
		windowed := *req
		windowed.Window = core.TimeWindow{Start: now.Add(-e.window), End: now}
		req = &windowed
	}
	if err := core.ValidateRequest(req); err != nil {
		return nil, core.Permanent(err)
	}

	r := &run{req: req, observer: e.observer}
	r.to(core.AnalysisCreated)
	logger := e.logger.With("request_id", req.RequestID, "scope", req.Scope.String())

	report, err := e.execute(ctx, r, logger)
	if err != nil {
		r.to(core.AnalysisFailed)
		logger.Warn("analysis failed", "state", "FAILED", "err", err)
		return nil, err
	}
	r.to(core.AnalysisCompleted)
	return report, nil
}

func (e *Engine) execute(ctx context.Context, r *run, logger *slog.Logger) (*core.AnalysisReport, error) {
	req := r.req

	r.to(core.AnalysisRetrieving)
	docs, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	r.to(core.AnalysisPrompting)
	chain := newProviderChain(e.providers, e.providerTimeout, e.maxTokens, logger)
	text, provider, err := e.prompt(ctx, chain, req, newMaterials(docs))
	if err != nil {
		return nil, err
	}

	r.to(core.AnalysisParsing)
	report := e.buildReport(req, docs, text, provider)
	if report.Degraded {
		logger.Warn("completion could not be parsed, keeping raw text", "provider", provider, "err", core.ErrParseDegraded)
	}

	if e.reports != nil {
		if err := e.reports.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("%w: saving report: %w", core.ErrTransientIndex, err)
		}
	}
	logger.Info("analysis completed",
		"provider", provider,
		"documents", len(docs),
		"trends", len(report.Trends),
		"degraded", report.Degraded,
		"failed_providers", chain.triedCount())
	return report, nil
}

// prompt sends the material to the providers, chunking when it exceeds the
// direct budget, and returns the final completion and its provider.
func (e *Engine) prompt(ctx context.Context, chain *providerChain, req *core.AnalysisRequest, ms []material) (string, string, error) {
	p := buildPlan(req, ms, e.maxPromptTokens)
	if p.direct != "" {
		return chain.complete(ctx, p.direct)
	}

	e.logger.Info("material exceeds prompt budget, analyzing in chunks", "request_id", req.RequestID, "chunks", len(p.chunks))
	partials := make([]string, 0, len(p.chunks))
	for i, chunkPrompt := range p.chunks {
		text, _, err := chain.complete(ctx, chunkPrompt)
		if err != nil {
			return "", "", fmt.Errorf("chunk %d of %d: %w", i+1, len(p.chunks), err)
		}
		partials = append(partials, text)
	}
	return chain.complete(ctx, mergePrompt(req, partials))
}

func (e *Engine) buildReport(req *core.AnalysisRequest, docs []*core.Document, text, provider string) *core.AnalysisReport {
	report := &core.AnalysisReport{
		RequestID:    req.RequestID,
		Scope:        req.Scope,
		RawText:      text,
		GeneratedAt:  e.now().UTC(),
		ProviderUsed: provider,
	}

	parsed := ParseReport(text)
	if !parsed.OK {
		report.Degraded = true
		return report
	}

	report.Headline = parsed.Headline
	report.Trends = parsed.Trends
	report.SummaryText = parsed.Summary

	var supporting []core.Fingerprint
	for _, ref := range parsed.References() {
		if ref >= 1 && ref <= len(docs) {
			supporting = append(supporting, docs[ref-1].Fingerprint)
		}
	}
	if len(supporting) == 0 {
		supporting = fingerprints(docs)
	}
	report.SupportingFingerprints = supporting
	return report
}

func fingerprints(docs []*core.Document) []core.Fingerprint {
	fps := make([]core.Fingerprint, len(docs))
	for i, d := range docs {
		fps[i] = d.Fingerprint
	}
	return fps
}

// IsNoDocuments reports whether err means retrieval found nothing to analyze.
func IsNoDocuments(err error) bool {
	return errors.Is(err, core.ErrNoDocuments)
}
