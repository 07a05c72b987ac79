package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// ReportStore implements storage.ReportStore for BadgerDB.
type ReportStore struct {
	backend *Backend
}

var _ storage.ReportStore = (*ReportStore)(nil)

// NewReportStore creates a new ReportStore.
func NewReportStore(backend *Backend) *ReportStore {
	return &ReportStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *ReportStore) Close() error {
	return nil
}

// SaveReport stores a report unless one already exists for the request id.
func (s *ReportStore) SaveReport(ctx context.Context, report *core.AnalysisReport) error {
	if report == nil || report.RequestID == "" {
		return storage.ErrInvalidQuery
	}
	return s.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeReportKey(report.RequestID)
		found, err := exists(tx, key)
		if err != nil || found {
			return err
		}
		return tx.Set(key, storage.MarshalReport(report))
	})
}

// GetReport retrieves a report by request id.
func (s *ReportStore) GetReport(ctx context.Context, requestID string) (*core.AnalysisReport, error) {
	var result *core.AnalysisReport
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeReportKey(requestID), storage.UnmarshalReport)
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
