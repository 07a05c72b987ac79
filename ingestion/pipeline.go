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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/dedup"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/source"
	"github.com/poiesic/trendwire/storage"
)

// pollPolicy retries a source fetch before giving up on it for this round.
var pollPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

// Summary counts what happened to a batch of raw records.
type Summary struct {
	Received   int
	Malformed  int
	Duplicates int
	Enqueued   int
	Failed     int
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Received += other.Received
	s.Malformed += other.Malformed
	s.Duplicates += other.Duplicates
	s.Enqueued += other.Enqueued
	s.Failed += other.Failed
}

// Pipeline feeds raw records into the task orchestrator.
type Pipeline struct {
	normalizer *normalize.Normalizer
	gate       *dedup.Gate
	enqueuer   orchestrator.Enqueuer
	feeds      *source.Registry
	pool       *ants.Pool
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of sources polled concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithRegistry sets the feeds used by Poll.
func WithRegistry(feeds *source.Registry) Option {
	return func(p *Pipeline) error {
		p.feeds = feeds
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(normalizer *normalize.Normalizer, gate *dedup.Gate, enqueuer orchestrator.Enqueuer, opts ...Option) (*Pipeline, error) {
	if normalizer == nil {
		return nil, ErrNormalizerRequired
	}
	if gate == nil {
		return nil, ErrGateRequired
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		normalizer: normalizer,
		gate:       gate,
		enqueuer:   enqueuer,
		pool:       pool,
		logger:     slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Ingest normalizes records from one source and enqueues an ingest task for
// every document not seen before. Records without a SourceRef take sourceRef.
// Malformed records are counted and dropped. The returned error joins the
// failures of individual enqueues; a store failure while checking for
// duplicates stops the batch.
func (p *Pipeline) Ingest(ctx context.Context, sourceType core.SourceType, sourceRef string, records []normalize.RawRecord) (Summary, error) {
	summary := Summary{Received: len(records)}
	batch := make(map[core.Fingerprint]bool, len(records))
	var errs []error

	for _, raw := range records {
		if raw.SourceRef == "" {
			raw.SourceRef = sourceRef
		}
		doc, err := p.normalizer.Normalize(sourceType, raw)
		if errors.Is(err, core.ErrMalformedSource) {
			summary.Malformed++
			p.logger.Debug("dropping malformed record", "source", sourceRef, "item", raw.ItemRef, "err", err)
			continue
		}
		if err != nil {
			return summary, err
		}

		if batch[doc.Fingerprint] {
			summary.Duplicates++
			continue
		}
		batch[doc.Fingerprint] = true

		seen, err := p.gate.Seen(ctx, doc.Fingerprint)
		if err != nil {
			return summary, err
		}
		if seen {
			summary.Duplicates++
			continue
		}

		if _, err := p.enqueuer.Enqueue(ctx, core.TaskIngest, IngestKey(doc.Fingerprint), storage.MarshalDocument(doc)); err != nil {
			summary.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", doc.Fingerprint.Short(), err))
			continue
		}
		summary.Enqueued++
	}

	p.logger.Info("ingested batch",
		"source", sourceRef,
		"received", summary.Received,
		"malformed", summary.Malformed,
		"duplicates", summary.Duplicates,
		"enqueued", summary.Enqueued)
	return summary, errors.Join(errs...)
}

// Poll fetches every source concurrently and ingests the results. A source
// that keeps failing is logged and reported in the returned error; the
// other sources are still ingested.
func (p *Pipeline) Poll(ctx context.Context, sources []source.Source) (Summary, error) {
	if p.feeds == nil {
		return Summary{}, ErrRegistryRequired
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		total Summary
		errs  []error
	)
	record := func(s Summary, err error) {
		mu.Lock()
		defer mu.Unlock()
		total.Add(s)
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, src := range sources {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			s, err := p.pollSource(ctx, src)
			if err != nil {
				p.logger.Warn("source poll failed", "source", src.String(), "err", err)
				err = fmt.Errorf("%s: %w", src, err)
			}
			record(s, err)
		})
		if err != nil {
			wg.Done()
			record(Summary{}, fmt.Errorf("%s: %w", src, err))
		}
	}
	wg.Wait()
	return total, errors.Join(errs...)
}

func (p *Pipeline) pollSource(ctx context.Context, src source.Source) (Summary, error) {
	feed, err := p.feeds.Resolve(src.Type)
	if err != nil {
		return Summary{}, err
	}

	var records []normalize.RawRecord
	err = retry.Do(ctx, pollPolicy, func() error {
		var pollErr error
		records, pollErr = feed.Poll(ctx, src.Ref)
		return pollErr
	})
	if err != nil {
		return Summary{}, err
	}

	for i := range records {
		if records[i].CategoryHint == "" {
			records[i].CategoryHint = src.Category
		}
	}
	return p.Ingest(ctx, src.Type, src.Ref, records)
}

// Release releases the polling pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// IngestKey is the idempotence key of a document's ingest task.
func IngestKey(fp core.Fingerprint) string {
	return "ingest:" + string(fp)
}

// EmbedKey is the idempotence key of a document's embed task.
func EmbedKey(fp core.Fingerprint) string {
	return "embed:" + string(fp)
}
