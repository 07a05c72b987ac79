package sqlstore

import (
	"context"
	"errors"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) SaveReport(ctx context.Context, report *core.AnalysisReport) error {
	if report == nil || report.RequestID == "" {
		return storage.ErrInvalidQuery
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(toReportRow(report)).Error
}

func (s *Store) GetReport(ctx context.Context, requestID string) (*core.AnalysisReport, error) {
	var row reportRow
	err := s.db.WithContext(ctx).First(&row, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toReport(), nil
}
