package badger

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// EmbeddingIndex implements storage.EmbeddingIndex for BadgerDB with a
// brute-force scan. Vectors are stored next to their metadata so filters are
// applied before scoring.
type EmbeddingIndex struct {
	backend *Backend
}

var _ storage.EmbeddingIndex = (*EmbeddingIndex)(nil)

// NewEmbeddingIndex creates a new EmbeddingIndex.
func NewEmbeddingIndex(backend *Backend) *EmbeddingIndex {
	return &EmbeddingIndex{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (x *EmbeddingIndex) Close() error {
	return nil
}

// Upsert stores vectors keyed by fingerprint.
func (x *EmbeddingIndex) Upsert(ctx context.Context, records ...*core.EmbeddingRecord) error {
	for _, rec := range records {
		if !rec.Fingerprint.Valid() || len(rec.Vector) == 0 {
			return storage.ErrInvalidQuery
		}
	}
	for chunk := range slices.Chunk(records, 512) {
		err := x.backend.WithUpdate(func(tx *badger.Txn) error {
			for _, rec := range chunk {
				if err := tx.Set(makeEmbeddingKey(rec.Fingerprint), storage.MarshalEmbedding(rec)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Query scores every vector matching the category and window filters.
// Without a query vector the newest matches rank first with score 1.
func (x *EmbeddingIndex) Query(ctx context.Context, q storage.IndexQuery) ([]core.ScoredFingerprint, error) {
	if q.K <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	type candidate struct {
		core.ScoredFingerprint
		published int64
	}
	var results []candidate

	queryNorm := norm(q.Vector)
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(embeddingPrefix), func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec *core.EmbeddingRecord
			if err := item.Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalEmbedding(val)
				return err
			}); err != nil {
				return err
			}
			if q.Category != "" && rec.Metadata.Category != q.Category {
				return nil
			}
			if !q.Window.Contains(rec.Metadata.PublishedAt) {
				return nil
			}

			c := candidate{
				ScoredFingerprint: core.ScoredFingerprint{Fingerprint: rec.Fingerprint, Score: 1},
				published:         rec.Metadata.PublishedAt.UnixMicro(),
			}
			if q.Vector != nil {
				c.Score = cosine(q.Vector, queryNorm, rec.Vector)
				if c.Score < q.MinScore {
					return nil
				}
			}
			results = append(results, c)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.published, a.published); c != 0 {
			return c
		}
		return cmp.Compare(a.Fingerprint, b.Fingerprint)
	})
	if len(results) > q.K {
		results = results[:q.K]
	}

	out := make([]core.ScoredFingerprint, len(results))
	for i, c := range results {
		out[i] = c.ScoredFingerprint
	}
	return out, nil
}

// GetEmbedding retrieves the vector stored for a fingerprint.
func (x *EmbeddingIndex) GetEmbedding(ctx context.Context, fp core.Fingerprint) (*core.EmbeddingRecord, error) {
	var result *core.EmbeddingRecord
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeEmbeddingKey(fp), storage.UnmarshalEmbedding)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// DeleteEmbeddings removes vectors. Unknown fingerprints are ignored.
func (x *EmbeddingIndex) DeleteEmbeddings(ctx context.Context, fps ...core.Fingerprint) error {
	for chunk := range slices.Chunk(fps, 512) {
		err := x.backend.WithUpdate(func(tx *badger.Txn) error {
			for _, fp := range chunk {
				if err := tx.Delete(makeEmbeddingKey(fp)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CountEmbeddings returns the number of stored vectors.
func (x *EmbeddingIndex) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(embeddingPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	}, false)
	return n, err
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b. Mismatched dimensions score 0.
func cosine(a []float32, aNorm float64, b []float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	bNorm := norm(b)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (aNorm * bNorm))
}
