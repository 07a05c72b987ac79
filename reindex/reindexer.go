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


package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/embedding"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/storage"
)

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of documents to embed in each batch
	BatchSize int

	// Workers is the number of batches embedded concurrently
	Workers int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		Workers:        2,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reindexer re-embeds all documents in a document store.
type Reindexer struct {
	docs     storage.DocumentStore
	producer *embedding.Producer
	config   *Config
	progress io.Writer
	iterator *DocumentIterator
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(docs storage.DocumentStore, producer *embedding.Producer, config *Config, progress io.Writer) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reindexer{
		docs:     docs,
		producer: producer,
		config:   config,
		progress: progress,
		iterator: NewDocumentIterator(docs, config.BatchSize),
	}
}

// Run re-embeds every stored document. Batches that still fail after
// MaxRetries attempts are reported together once all batches have run.
func (r *Reindexer) Run(ctx context.Context) error {
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No documents found in store (0 documents)\n")
		return nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d documents (batch size: %d, workers: %d)\n",
		total, r.config.BatchSize, r.config.Workers)

	pool, err := ants.NewPool(r.config.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	policy := retry.Policy{MaxAttempts: r.config.MaxRetries, BaseDelay: r.config.RetryDelay}

	err = r.iterator.ForEach(ctx, func(batch []*core.Document) error {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := retry.Do(ctx, policy, func() error {
				_, err := r.producer.EmbedDocuments(ctx, batch)
				return err
			})
			if err != nil {
				tracker.Fail(len(batch))
				mu.Lock()
				errs = append(errs, fmt.Errorf("batch starting %s: %w", batch[0].Fingerprint.Short(), err))
				mu.Unlock()
				return
			}
			tracker.Increment(len(batch))
		})
		if submitErr != nil {
			wg.Done()
			return submitErr
		}
		return nil
	})
	wg.Wait()

	tracker.Finish()

	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to reindex %d batches: %w", len(errs), errors.Join(errs...))
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex complete. Processed %d documents in %v\n",
		tracker.Done(), elapsed.Round(time.Millisecond))

	return nil
}
