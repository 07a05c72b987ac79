package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// Admission is the outcome of Gate.Admit.
type Admission struct {
	Fingerprint core.Fingerprint
	// Inserted is false when the document already existed.
	Inserted bool
}

// Gate decides whether a document has already been processed.
type Gate struct {
	docs   storage.DocumentStore
	cache  SeenCache
	logger *slog.Logger
}

// NewGate creates a gate over docs. A nil cache disables caching.
func NewGate(docs storage.DocumentStore, cache SeenCache) *Gate {
	if cache == nil {
		cache = noCache{}
	}
	return &Gate{
		docs:   docs,
		cache:  cache,
		logger: slog.Default().With("component", "dedup"),
	}
}

// Seen reports whether a document with fp has been persisted.
func (g *Gate) Seen(ctx context.Context, fp core.Fingerprint) (bool, error) {
	seen, err := g.cache.Seen(ctx, fp)
	if err != nil {
		// Fall through to the store.
		g.logger.Warn("seen cache lookup failed", "fingerprint", fp.Short(), "err", err)
	} else if seen {
		return true, nil
	}

	_, err = g.docs.GetDocument(ctx, fp)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	g.mark(ctx, fp)
	return true, nil
}

// Admit persists doc unless it already exists. Concurrent calls with the same
// fingerprint see exactly one Inserted admission.
func (g *Gate) Admit(ctx context.Context, doc *core.Document) (Admission, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return Admission{}, core.Permanent(err)
	}

	inserted, err := g.docs.InsertIfAbsent(ctx, doc)
	if err != nil {
		if errors.Is(err, core.ErrInvalidDocument) {
			return Admission{}, core.Permanent(err)
		}
		return Admission{}, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	g.mark(ctx, doc.Fingerprint)

	if !inserted {
		g.logger.Debug("duplicate suppressed", "fingerprint", doc.Fingerprint.Short())
	}
	return Admission{Fingerprint: doc.Fingerprint, Inserted: inserted}, nil
}

func (g *Gate) mark(ctx context.Context, fp core.Fingerprint) {
	if err := g.cache.Mark(ctx, fp); err != nil {
		g.logger.Warn("seen cache update failed", "fingerprint", fp.Short(), "err", err)
	}
}
