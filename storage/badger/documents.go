package badger

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// DocumentStore implements storage.DocumentStore for BadgerDB.
//
// Each document is written once under its fingerprint together with two
// index entries: one ordered by publication time and one per category.
type DocumentStore struct {
	backend *Backend
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(backend *Backend) *DocumentStore {
	return &DocumentStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *DocumentStore) Close() error {
	return nil
}

// InsertIfAbsent stores doc unless its fingerprint already exists.
func (s *DocumentStore) InsertIfAbsent(ctx context.Context, doc *core.Document) (bool, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return false, err
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	var inserted bool
	err := s.backend.WithUpdate(func(tx *badger.Txn) error {
		inserted = false
		key := makeDocumentKey(doc.Fingerprint)
		found, err := exists(tx, key)
		if err != nil || found {
			return err
		}
		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentDateKey(doc.PublishedAt, doc.Fingerprint), nil); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentCategoryKey(doc.Category, doc.PublishedAt, doc.Fingerprint), nil); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// GetDocument retrieves a single document by fingerprint.
func (s *DocumentStore) GetDocument(ctx context.Context, fp core.Fingerprint) (*core.Document, error) {
	var result *core.Document
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeDocumentKey(fp), storage.UnmarshalDocument)
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

// GetDocuments retrieves documents in argument order, skipping unknown fingerprints.
func (s *DocumentStore) GetDocuments(ctx context.Context, fps ...core.Fingerprint) ([]*core.Document, error) {
	var result []*core.Document
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, fp := range fps {
			doc, err := readValue(tx, makeDocumentKey(fp), storage.UnmarshalDocument)
			if err != nil {
				return err
			}
			if doc != nil {
				result = append(result, doc)
			}
		}
		return nil
	}, false)
	return result, err
}

// ListDocuments walks the date or category index backwards from the end of
// the window so the newest documents come first.
func (s *DocumentStore) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	prefix := []byte(documentDatePrefix)
	if filter.Category != "" {
		prefix = makeDocumentCategoryPrefix(filter.Category)
	}
	end := filter.Window.End
	if end.IsZero() {
		end = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	}
	// Window.End is exclusive, so seeking to its first key and skipping
	// exact matches keeps the bound.
	seekKey := appendTime(bytes.Clone(prefix), end)

	var results []*core.Document
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(seekKey); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := iter.Item().Key()
			rest := key[len(prefix):]
			if len(rest) < 8 {
				continue
			}
			published := readTime(rest[:8])
			if !published.Before(end) {
				continue
			}
			if !filter.Window.Start.IsZero() && published.Before(filter.Window.Start) {
				break
			}
			doc, err := readValue(tx, makeDocumentKey(core.Fingerprint(rest[8:])), storage.UnmarshalDocument)
			if err != nil {
				return err
			}
			if doc == nil {
				continue
			}
			results = append(results, doc)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				break
			}
		}
		return nil
	}, false)
	return results, err
}

// ScanDocuments calls fn for every stored document in fingerprint order.
func (s *DocumentStore) ScanDocuments(ctx context.Context, fn func(*core.Document) error) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix), func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc *core.Document
			if err := item.Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			}); err != nil {
				return err
			}
			return fn(doc)
		})
	}, false)
}

// PruneBefore deletes documents published before cutoff together with their index entries.
func (s *DocumentStore) PruneBefore(ctx context.Context, cutoff time.Time) ([]core.Fingerprint, error) {
	var doomed []*core.Document
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		startKey := []byte(documentDatePrefix)
		endKey := makePartialDocumentDateKey(cutoff)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = startKey
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(startKey); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if slices.Compare(key, endKey) >= 0 {
				break
			}
			fp := core.Fingerprint(key[len(startKey)+8:])
			doc, err := readValue(tx, makeDocumentKey(fp), storage.UnmarshalDocument)
			if err != nil {
				return err
			}
			if doc != nil {
				doomed = append(doomed, doc)
			}
		}
		return nil
	}, false)
	if err != nil || len(doomed) == 0 {
		return nil, err
	}

	pruned := make([]core.Fingerprint, 0, len(doomed))
	// Badger caps the number of writes per transaction, so delete in chunks.
	for chunk := range slices.Chunk(doomed, 256) {
		err := s.backend.WithUpdate(func(tx *badger.Txn) error {
			for _, doc := range chunk {
				for _, key := range [][]byte{
					makeDocumentKey(doc.Fingerprint),
					makeDocumentDateKey(doc.PublishedAt, doc.Fingerprint),
					makeDocumentCategoryKey(doc.Category, doc.PublishedAt, doc.Fingerprint),
				} {
					if err := tx.Delete(key); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return pruned, err
		}
		for _, doc := range chunk {
			pruned = append(pruned, doc.Fingerprint)
		}
	}
	return pruned, nil
}
