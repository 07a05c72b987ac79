package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// SubscriptionStore implements storage.SubscriptionStore for BadgerDB.
type SubscriptionStore struct {
	backend *Backend
}

var _ storage.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(backend *Backend) *SubscriptionStore {
	return &SubscriptionStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *SubscriptionStore) Close() error {
	return nil
}

// UpsertSubscription creates or replaces a subscription, keeping delivery history.
func (s *SubscriptionStore) UpsertSubscription(ctx context.Context, sub *core.Subscription) error {
	if err := core.ValidateSubscription(sub); err != nil {
		return err
	}
	sub.Categories = core.NormalizeCategories(sub.Categories)
	now := time.Now().UTC()

	return s.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeSubscriptionKey(sub.SubscriberID)
		old, err := readValue(tx, key, storage.UnmarshalSubscription)
		if err != nil {
			return err
		}
		if old != nil {
			sub.CreatedAt = old.CreatedAt
			sub.LastSentAt = old.LastSentAt
		} else {
			sub.CreatedAt = now
		}
		sub.UpdatedAt = now
		return tx.Set(key, storage.MarshalSubscription(sub))
	})
}

// GetSubscription retrieves a subscription by subscriber id.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, subscriberID string) (*core.Subscription, error) {
	var result *core.Subscription
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeSubscriptionKey(subscriberID), storage.UnmarshalSubscription)
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

// DeleteSubscription removes a subscription.
func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, subscriberID string) error {
	return s.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeSubscriptionKey(subscriberID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return tx.Delete(key)
	})
}

// ListSubscriptions returns every subscription ordered by subscriber id.
func (s *SubscriptionStore) ListSubscriptions(ctx context.Context) ([]*core.Subscription, error) {
	return s.list(ctx, func(*core.Subscription) bool { return true })
}

// ListDue returns subscriptions that are due for a digest at now.
func (s *SubscriptionStore) ListDue(ctx context.Context, now time.Time, schedule core.Schedule) ([]*core.Subscription, error) {
	return s.list(ctx, func(sub *core.Subscription) bool { return sub.Due(now, schedule) })
}

func (s *SubscriptionStore) list(ctx context.Context, keep func(*core.Subscription) bool) ([]*core.Subscription, error) {
	var results []*core.Subscription
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(subscriptionPrefix), func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				sub, err := storage.UnmarshalSubscription(val)
				if err != nil {
					return err
				}
				if keep(sub) {
					results = append(results, sub)
				}
				return nil
			})
		})
	}, false)
	return results, err
}

// DeliveredCategories returns categories receipted for the period, in key order.
func (s *SubscriptionStore) DeliveredCategories(ctx context.Context, subscriberID string, periodStart time.Time) ([]string, error) {
	prefix := makeReceiptPrefix(subscriberID, periodStart)
	var categories []string
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefix, func(item *badger.Item) error {
			categories = append(categories, string(item.Key()[len(prefix):]))
			return nil
		})
	}, false)
	return categories, err
}

// CommitDelivery writes receipts and advances LastSentAt in one transaction.
// Receipts that already exist keep their original idempotence key.
func (s *SubscriptionStore) CommitDelivery(ctx context.Context, commit storage.DeliveryCommit) error {
	receipt := storage.MarshalReceipt(&storage.Receipt{
		IdempotenceKey: commit.IdempotenceKey,
		SentAt:         commit.SentAt,
	})

	return s.backend.WithUpdate(func(tx *badger.Txn) error {
		for _, category := range commit.Categories {
			key := makeReceiptKey(commit.SubscriberID, commit.PeriodStart, category)
			found, err := exists(tx, key)
			if err != nil {
				return err
			}
			if found {
				continue
			}
			if err := tx.Set(key, receipt); err != nil {
				return err
			}
		}

		if !commit.Advance {
			return nil
		}
		subKey := makeSubscriptionKey(commit.SubscriberID)
		sub, err := readValue(tx, subKey, storage.UnmarshalSubscription)
		if err != nil {
			return err
		}
		if sub == nil {
			// Unsubscribed while the digest was in flight; receipts still stand.
			return nil
		}
		if !commit.SentAt.After(sub.LastSentAt) {
			return nil
		}
		sub.LastSentAt = commit.SentAt
		sub.UpdatedAt = time.Now().UTC()
		return tx.Set(subKey, storage.MarshalSubscription(sub))
	})
}
