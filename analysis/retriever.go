package analysis

import (
	"context"
	"fmt"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/storage"
)

// retrieve returns the documents for req in ranking order. Transient index
// and embedder failures are retried with backoff.
func (e *Engine) retrieve(ctx context.Context, req *core.AnalysisRequest) ([]*core.Document, error) {
	q := storage.IndexQuery{
		Category: req.Scope.Category,
		Window:   req.Window,
		K:        e.topK,
	}

	var docs []*core.Document
	policy := retry.Policy{MaxAttempts: e.retrievalAttempts, BaseDelay: e.retryDelay, MaxDelay: 10 * e.retryDelay}
	err := retry.Do(ctx, policy, func() error {
		if req.Scope.Query != "" && q.Vector == nil {
			vector, err := e.embedder.EmbedText(ctx, req.Scope.Query)
			if err != nil {
				return fmt.Errorf("%w: embedding query: %w", core.ErrTransientProvider, err)
			}
			q.Vector = vector
			q.MinScore = e.scoreThreshold
		}

		matches, err := e.index.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
		}
		if len(matches) == 0 {
			docs = nil
			return nil
		}

		fps := make([]core.Fingerprint, len(matches))
		for i, m := range matches {
			fps[i] = m.Fingerprint
		}
		docs, err = e.docs.GetDocuments(ctx, fps...)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s %s", core.ErrNoDocuments, req.Scope, describeWindow(req.Window))
	}
	e.logger.Debug("retrieved documents", "request_id", req.RequestID, "documents", len(docs))
	return docs, nil
}
