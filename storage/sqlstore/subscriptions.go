package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) UpsertSubscription(ctx context.Context, sub *core.Subscription) error {
	if err := core.ValidateSubscription(sub); err != nil {
		return err
	}
	sub.Categories = core.NormalizeCategories(sub.Categories)
	now := time.Now().UTC()
	row := &subscriptionRow{
		SubscriberID: sub.SubscriberID,
		Categories:   sub.Categories,
		Cadence:      int(sub.Cadence),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// last_sent_at and created_at are left alone on conflict.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"categories", "cadence", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return err
	}
	stored, err := s.GetSubscription(ctx, sub.SubscriberID)
	if err != nil {
		return err
	}
	*sub = *stored
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subscriberID string) (*core.Subscription, error) {
	var row subscriptionRow
	err := s.db.WithContext(ctx).First(&row, "subscriber_id = ?", subscriberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toSubscription(), nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subscriberID string) error {
	result := s.db.WithContext(ctx).Where("subscriber_id = ?", subscriberID).Delete(&subscriptionRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]*core.Subscription, error) {
	var rows []subscriptionRow
	if err := s.db.WithContext(ctx).Order("subscriber_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]*core.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, rows[i].toSubscription())
	}
	return subs, nil
}

// ListDue filters in Go because period alignment depends on the schedule's time zone.
func (s *Store) ListDue(ctx context.Context, now time.Time, schedule core.Schedule) ([]*core.Subscription, error) {
	all, err := s.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var due []*core.Subscription
	for _, sub := range all {
		if sub.Due(now, schedule) {
			due = append(due, sub)
		}
	}
	return due, nil
}

func (s *Store) DeliveredCategories(ctx context.Context, subscriberID string, periodStart time.Time) ([]string, error) {
	var categories []string
	err := s.db.WithContext(ctx).Model(&receiptRow{}).
		Where("subscriber_id = ? AND period_start = ?", subscriberID, periodStart.UTC()).
		Order("category").
		Pluck("category", &categories).Error
	return categories, err
}

func (s *Store) CommitDelivery(ctx context.Context, commit storage.DeliveryCommit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, category := range commit.Categories {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receiptRow{
				SubscriberID:   commit.SubscriberID,
				PeriodStart:    commit.PeriodStart.UTC(),
				Category:       category,
				IdempotenceKey: commit.IdempotenceKey,
				SentAt:         commit.SentAt.UTC(),
			}).Error
			if err != nil {
				return err
			}
		}
		if !commit.Advance {
			return nil
		}
		return tx.Model(&subscriptionRow{}).
			Where("subscriber_id = ? AND last_sent_at < ?", commit.SubscriberID, commit.SentAt.UTC()).
			Updates(map[string]any{
				"last_sent_at": commit.SentAt.UTC(),
				"updated_at":   time.Now().UTC(),
			}).Error
	})
}
