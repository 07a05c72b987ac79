package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// TaskStore implements storage.TaskStore for BadgerDB.
//
// Task records live under their id; a second key maps the idempotence key
// to the id so create-if-absent is a single transaction.
type TaskStore struct {
	backend *Backend
}

var _ storage.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a new TaskStore.
func NewTaskStore(backend *Backend) *TaskStore {
	return &TaskStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *TaskStore) Close() error {
	return nil
}

// CreateTask stores rec unless a task with the same idempotence key exists.
func (s *TaskStore) CreateTask(ctx context.Context, rec *core.TaskRecord) (*core.TaskRecord, bool, error) {
	if rec == nil || rec.ID == "" || rec.IdempotenceKey == "" {
		return nil, false, storage.ErrInvalidQuery
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var (
		stored  *core.TaskRecord
		created bool
	)
	err := s.backend.WithUpdate(func(tx *badger.Txn) error {
		stored, created = nil, false
		existing, err := s.readByKey(tx, rec.IdempotenceKey)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}
		if err := tx.Set(makeTaskKey(rec.ID), storage.MarshalTask(rec)); err != nil {
			return err
		}
		if err := tx.Set(makeTaskIdempotenceKey(rec.IdempotenceKey), []byte(rec.ID)); err != nil {
			return err
		}
		stored, created = rec, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetTask retrieves a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*core.TaskRecord, error) {
	var result *core.TaskRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeTaskKey(id), storage.UnmarshalTask)
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

// GetTaskByKey retrieves a task by idempotence key.
func (s *TaskStore) GetTaskByKey(ctx context.Context, key string) (*core.TaskRecord, error) {
	var result *core.TaskRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = s.readByKey(tx, key)
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

// UpdateTask overwrites an existing task. The idempotence key and creation time are immutable.
func (s *TaskStore) UpdateTask(ctx context.Context, rec *core.TaskRecord) error {
	return s.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeTaskKey(rec.ID)
		old, err := readValue(tx, key, storage.UnmarshalTask)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		rec.IdempotenceKey = old.IdempotenceKey
		rec.CreatedAt = old.CreatedAt
		rec.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalTask(rec))
	})
}

// TransitionTask updates rec only if the stored status is one of from.
func (s *TaskStore) TransitionTask(ctx context.Context, rec *core.TaskRecord, from ...core.TaskStatus) (bool, error) {
	var applied bool
	err := s.backend.WithUpdate(func(tx *badger.Txn) error {
		applied = false
		key := makeTaskKey(rec.ID)
		old, err := readValue(tx, key, storage.UnmarshalTask)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		if !slices.Contains(from, old.Status) {
			return nil
		}
		rec.Class = old.Class
		rec.IdempotenceKey = old.IdempotenceKey
		rec.CreatedAt = old.CreatedAt
		rec.UpdatedAt = time.Now().UTC()
		applied = true
		return tx.Set(key, storage.MarshalTask(rec))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListTasks returns tasks in the given statuses, oldest first.
func (s *TaskStore) ListTasks(ctx context.Context, statuses ...core.TaskStatus) ([]*core.TaskRecord, error) {
	var results []*core.TaskRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(taskPrefix), func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				rec, err := storage.UnmarshalTask(val)
				if err != nil {
					return err
				}
				if len(statuses) == 0 || slices.Contains(statuses, rec.Status) {
					results = append(results, rec)
				}
				return nil
			})
		})
	}, false)
	slices.SortStableFunc(results, func(a, b *core.TaskRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return results, err
}

func (s *TaskStore) readByKey(tx *badger.Txn, key string) (*core.TaskRecord, error) {
	item, err := tx.Get(makeTaskIdempotenceKey(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return readValue(tx, makeTaskKey(string(id)), storage.UnmarshalTask)
}
