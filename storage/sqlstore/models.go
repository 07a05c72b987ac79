package sqlstore

import (
	"time"

	"github.com/poiesic/trendwire/core"
	"gorm.io/datatypes"
)

type documentRow struct {
	Fingerprint    string    `gorm:"primaryKey;size:32"`
	SourceType     int       `gorm:"not null"`
	SourceRef      string    `gorm:"not null"`
	ItemRef        string
	Title          string
	RawText        string    `gorm:"type:text"`
	NormalizedText string    `gorm:"type:text;not null"`
	PublishedAt    time.Time `gorm:"index:idx_documents_category_published,priority:2;index"`
	Category       string    `gorm:"index:idx_documents_category_published,priority:1"`
	IngestedAt     time.Time
}

func (documentRow) TableName() string { return "documents" }

func toDocumentRow(doc *core.Document) *documentRow {
	return &documentRow{
		Fingerprint:    string(doc.Fingerprint),
		SourceType:     int(doc.SourceType),
		SourceRef:      doc.SourceRef,
		ItemRef:        doc.ItemRef,
		Title:          doc.Title,
		RawText:        doc.RawText,
		NormalizedText: doc.NormalizedText,
		PublishedAt:    doc.PublishedAt.UTC(),
		Category:       doc.Category,
		IngestedAt:     doc.IngestedAt.UTC(),
	}
}

func (r *documentRow) toDocument() *core.Document {
	return &core.Document{
		Fingerprint:    core.Fingerprint(r.Fingerprint),
		SourceType:     core.SourceType(r.SourceType),
		SourceRef:      r.SourceRef,
		ItemRef:        r.ItemRef,
		Title:          r.Title,
		RawText:        r.RawText,
		NormalizedText: r.NormalizedText,
		PublishedAt:    r.PublishedAt.UTC(),
		Category:       r.Category,
		IngestedAt:     r.IngestedAt.UTC(),
	}
}

type subscriptionRow struct {
	SubscriberID string                      `gorm:"primaryKey"`
	Categories   datatypes.JSONSlice[string] `gorm:"not null"`
	Cadence      int                         `gorm:"not null"`
	LastSentAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

func (r *subscriptionRow) toSubscription() *core.Subscription {
	return &core.Subscription{
		SubscriberID: r.SubscriberID,
		Categories:   []string(r.Categories),
		Cadence:      core.Cadence(r.Cadence),
		LastSentAt:   r.LastSentAt.UTC(),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type receiptRow struct {
	SubscriberID   string    `gorm:"primaryKey"`
	PeriodStart    time.Time `gorm:"primaryKey"`
	Category       string    `gorm:"primaryKey"`
	IdempotenceKey string
	SentAt         time.Time
}

func (receiptRow) TableName() string { return "delivery_receipts" }

type reportTrend struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Importance  string `json:"importance,omitempty"`
	References  []int  `json:"references,omitempty"`
}

type reportRow struct {
	RequestID              string `gorm:"primaryKey"`
	Category               string `gorm:"index"`
	Query                  string
	Headline               string
	Trends                 datatypes.JSONSlice[reportTrend]
	SummaryText            string `gorm:"type:text"`
	RawText                string `gorm:"type:text"`
	SupportingFingerprints datatypes.JSONSlice[string]
	GeneratedAt            time.Time
	ProviderUsed           string
	Degraded               bool
}

func (reportRow) TableName() string { return "analysis_reports" }

func toReportRow(r *core.AnalysisReport) *reportRow {
	row := &reportRow{
		RequestID:    r.RequestID,
		Category:     r.Scope.Category,
		Query:        r.Scope.Query,
		Headline:     r.Headline,
		SummaryText:  r.SummaryText,
		RawText:      r.RawText,
		GeneratedAt:  r.GeneratedAt.UTC(),
		ProviderUsed: r.ProviderUsed,
		Degraded:     r.Degraded,
	}
	for _, t := range r.Trends {
		row.Trends = append(row.Trends, reportTrend(t))
	}
	for _, fp := range r.SupportingFingerprints {
		row.SupportingFingerprints = append(row.SupportingFingerprints, string(fp))
	}
	return row
}

func (r *reportRow) toReport() *core.AnalysisReport {
	report := &core.AnalysisReport{
		RequestID:    r.RequestID,
		Scope:        core.AnalysisScope{Category: r.Category, Query: r.Query},
		Headline:     r.Headline,
		SummaryText:  r.SummaryText,
		RawText:      r.RawText,
		GeneratedAt:  r.GeneratedAt.UTC(),
		ProviderUsed: r.ProviderUsed,
		Degraded:     r.Degraded,
	}
	for _, t := range r.Trends {
		report.Trends = append(report.Trends, core.Trend(t))
	}
	for _, fp := range r.SupportingFingerprints {
		report.SupportingFingerprints = append(report.SupportingFingerprints, core.Fingerprint(fp))
	}
	return report
}
