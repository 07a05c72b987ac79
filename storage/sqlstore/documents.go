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

var (
	_ storage.DocumentStore     = (*Store)(nil)
	_ storage.SubscriptionStore = (*Store)(nil)
	_ storage.ReportStore       = (*Store)(nil)
)

// InsertIfAbsent relies on the primary key: a conflicting insert affects no rows.
func (s *Store) InsertIfAbsent(ctx context.Context, doc *core.Document) (bool, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return false, err
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(toDocumentRow(doc))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) GetDocument(ctx context.Context, fp core.Fingerprint) (*core.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "fingerprint = ?", string(fp)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDocument(), nil
}

func (s *Store) GetDocuments(ctx context.Context, fps ...core.Fingerprint) ([]*core.Document, error) {
	if len(fps) == 0 {
		return nil, nil
	}
	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = string(fp)
	}
	var rows []documentRow
	if err := s.db.WithContext(ctx).Where("fingerprint IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	byFP := make(map[string]*documentRow, len(rows))
	for i := range rows {
		byFP[rows[i].Fingerprint] = &rows[i]
	}
	var docs []*core.Document
	for _, k := range keys {
		if row, ok := byFP[k]; ok {
			docs = append(docs, row.toDocument())
		}
	}
	return docs, nil
}

func (s *Store) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	q := s.db.WithContext(ctx).Model(&documentRow{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if !filter.Window.Start.IsZero() {
		q = q.Where("published_at >= ?", filter.Window.Start.UTC())
	}
	if !filter.Window.End.IsZero() {
		q = q.Where("published_at < ?", filter.Window.End.UTC())
	}
	q = q.Order("published_at DESC").Order("fingerprint DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]*core.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].toDocument())
	}
	return docs, nil
}

func (s *Store) ScanDocuments(ctx context.Context, fn func(*core.Document) error) error {
	var rows []documentRow
	return s.db.WithContext(ctx).Order("fingerprint").
		FindInBatches(&rows, 200, func(tx *gorm.DB, batch int) error {
			for i := range rows {
				if err := fn(rows[i].toDocument()); err != nil {
					return err
				}
			}
			return nil
		}).Error
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) ([]core.Fingerprint, error) {
	var pruned []core.Fingerprint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var keys []string
		if err := tx.Model(&documentRow{}).
			Where("published_at < ?", cutoff.UTC()).
			Pluck("fingerprint", &keys).Error; err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err := tx.Where("fingerprint IN ?", keys).Delete(&documentRow{}).Error; err != nil {
			return err
		}
		for _, k := range keys {
			pruned = append(pruned, core.Fingerprint(k))
		}
		return nil
	})
	return pruned, err
}
