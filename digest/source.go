package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
)

// ReportSource supplies the analysis report for one category of a digest.
type ReportSource interface {
	Report(ctx context.Context, category string, cadence core.Cadence, periodStart time.Time) (*core.AnalysisReport, error)
}

// Analyzer runs an analysis request. *analysis.Engine implements it.
type Analyzer interface {
	Run(ctx context.Context, req *core.AnalysisRequest) (*core.AnalysisReport, error)
}

// EngineSource runs one analysis per (category, cadence, period) and stores
// the report under ReportID, so a retried or concurrent digest for the same
// period reuses it instead of calling the models again.
type EngineSource struct {
	analyzer Analyzer
	reports  storage.ReportStore
	now      func() time.Time
}

var _ ReportSource = (*EngineSource)(nil)

// NewEngineSource creates a report source over an analyzer and a report store.
func NewEngineSource(analyzer Analyzer, reports storage.ReportStore) *EngineSource {
	return &EngineSource{analyzer: analyzer, reports: reports, now: time.Now}
}

// Report returns the stored report for the period or runs a new analysis over
// the period preceding periodStart up to now.
func (s *EngineSource) Report(ctx context.Context, category string, cadence core.Cadence, periodStart time.Time) (*core.AnalysisReport, error) {
	id := ReportID(category, cadence, periodStart)

	report, err := s.reports.GetReport(ctx, id)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}

	now := s.now().UTC()
	end := now
	if end.Before(periodStart) {
		end = periodStart
	}
	req := &core.AnalysisRequest{
		RequestID:   id,
		Scope:       core.AnalysisScope{Category: category},
		Window:      core.TimeWindow{Start: periodStart.Add(-cadence.PeriodLength()), End: end},
		RequestedBy: "digest",
		CreatedAt:   now,
	}
	report, err = s.analyzer.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	return report, nil
}
