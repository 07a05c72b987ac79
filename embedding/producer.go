// Package embedding turns admitted documents into vectors in the embedding index.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/trendwire/ai"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// DefaultBatchTokens caps the estimated tokens sent in one embedding request.
const DefaultBatchTokens = 300000

// charsPerToken is the rough size of a token used for batch estimates.
const charsPerToken = 4

// Producer embeds documents and upserts their vectors keyed by fingerprint.
// Re-running it for a fingerprint overwrites the vector with an identical one.
type Producer struct {
	docs        storage.DocumentStore
	index       storage.EmbeddingIndex
	embedder    ai.Embedder
	batchTokens int
	logger      *slog.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithBatchTokens sets the estimated token budget of one embedding request.
func WithBatchTokens(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.batchTokens = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProducer creates a Producer.
func NewProducer(docs storage.DocumentStore, index storage.EmbeddingIndex, embedder ai.Embedder, opts ...Option) (*Producer, error) {
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	p := &Producer{
		docs:        docs,
		index:       index,
		embedder:    embedder,
		batchTokens: DefaultBatchTokens,
		logger:      slog.Default().With("component", "embedding"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Produce embeds the document with fingerprint fp and upserts its vector.
func (p *Producer) Produce(ctx context.Context, fp core.Fingerprint) error {
	doc, err := p.docs.GetDocument(ctx, fp)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.Permanent(fmt.Errorf("document %s: %w", fp.Short(), err))
		}
		return fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}

	vector, err := p.embedder.EmbedText(ctx, doc.NormalizedText)
	if err != nil {
		return embedError(err)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", core.ErrTransientProvider, fp.Short())
	}

	if err := p.index.Upsert(ctx, Record(doc, vector)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	p.logger.Debug("document embedded", "fingerprint", fp.Short(), "dimensions", len(vector))
	return nil
}

// ProduceBatch embeds several documents using as few embedding requests as
// the token budget allows. Missing documents are skipped.
func (p *Producer) ProduceBatch(ctx context.Context, fps []core.Fingerprint) (int, error) {
	if len(fps) == 0 {
		return 0, nil
	}
	docs, err := p.docs.GetDocuments(ctx, fps...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	return p.EmbedDocuments(ctx, docs)
}

// EmbedDocuments embeds docs in token-budgeted batches and upserts the
// vectors. It returns the number of documents embedded before any failure.
func (p *Producer) EmbedDocuments(ctx context.Context, docs []*core.Document) (int, error) {
	done := 0
	for _, batch := range Batches(docs, p.batchTokens) {
		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.NormalizedText
		}

		vectors, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return done, embedError(err)
		}
		if len(vectors) != len(batch) {
			return done, fmt.Errorf("%w: embedding result mismatch. expected %d, received %d",
				core.ErrTransientProvider, len(batch), len(vectors))
		}

		records := make([]*core.EmbeddingRecord, len(batch))
		for i, doc := range batch {
			records[i] = Record(doc, vectors[i])
		}
		if err := p.index.Upsert(ctx, records...); err != nil {
			return done, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
		}
		done += len(batch)
		p.logger.Debug("embedded batch", "documents", len(batch), "total", done)
	}
	return done, nil
}

// Record builds the index record for doc. The vector is stored at unit length.
func Record(doc *core.Document, vector []float32) *core.EmbeddingRecord {
	return &core.EmbeddingRecord{
		Fingerprint: doc.Fingerprint,
		Vector:      NormalizeVector(vector),
		Metadata: core.EmbeddingMetadata{
			Category:    doc.Category,
			PublishedAt: doc.PublishedAt,
			SourceType:  doc.SourceType,
		},
	}
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Batches splits docs into consecutive groups whose estimated token total
// stays within budget. A document larger than the budget gets its own batch.
func Batches(docs []*core.Document, budget int) [][]*core.Document {
	var (
		batches [][]*core.Document
		current []*core.Document
		tokens  int
	)
	for _, doc := range docs {
		n := EstimateTokens(doc.NormalizedText)
		if len(current) > 0 && tokens+n > budget {
			batches = append(batches, current)
			current, tokens = nil, 0
		}
		current = append(current, doc)
		tokens += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// embedError classifies an embedder failure. Auth and malformed-request
// failures are permanent.
func embedError(err error) error {
	wrapped := fmt.Errorf("%w: %w", core.ErrTransientProvider, err)
	switch ai.KindOf(err) {
	case ai.KindAuth, ai.KindBadRequest:
		return core.Permanent(wrapped)
	}
	return wrapped
}
