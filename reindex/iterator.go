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

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

const (
	// DefaultBatchSize is the default number of documents in each batch
	DefaultBatchSize = 100
)

var errStopCount = errors.New("stop")

// DocumentIterator streams all stored documents in batches.
type DocumentIterator struct {
	docs      storage.DocumentStore
	batchSize int
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents in each batch (must be > 0)
func NewDocumentIterator(docs storage.DocumentStore, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		docs:      docs,
		batchSize: batchSize,
	}
}

// Count returns the number of stored documents.
func (it *DocumentIterator) Count(ctx context.Context) (int, error) {
	n := 0
	err := it.docs.ScanDocuments(ctx, func(*core.Document) error {
		n++
		if ctx.Err() != nil {
			return errStopCount
		}
		return nil
	})
	if errors.Is(err, errStopCount) {
		return 0, ctx.Err()
	}
	return n, err
}

// ForEach calls fn for each batch of documents in fingerprint order.
// Iteration stops on first error from fn or when ctx is cancelled.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.Document) error) error {
	batch := make([]*core.Document, 0, it.batchSize)

	err := it.docs.ScanDocuments(ctx, func(doc *core.Document) error {
		batch = append(batch, doc)
		if len(batch) < it.batchSize {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		full := batch
		batch = make([]*core.Document, 0, it.batchSize)
		return fn(full)
	})
	if err != nil {
		return err
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
