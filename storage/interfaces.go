package storage

import (
	"context"
	"time"

	"github.com/poiesic/trendwire/core"
)

// Repository provides operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository. It does not close a
	// shared backend.
	Close() error
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Category string          // empty matches every category
	Window   core.TimeWindow // on PublishedAt
	Limit    int             // 0 means unlimited
}

// DocumentStore persists immutable Documents keyed by fingerprint.
type DocumentStore interface {
	Repository

	// InsertIfAbsent stores doc unless a document with the same fingerprint exists.
	// Returns true when this call created the document. The check and the write
	// are one atomic operation: concurrent callers with the same fingerprint see
	// exactly one true.
	InsertIfAbsent(ctx context.Context, doc *core.Document) (bool, error)

	// GetDocument retrieves a document by fingerprint.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, fp core.Fingerprint) (*core.Document, error)

	// GetDocuments retrieves documents by fingerprint, preserving argument order.
	// Missing fingerprints are skipped.
	GetDocuments(ctx context.Context, fps ...core.Fingerprint) ([]*core.Document, error)

	// ListDocuments returns documents matching filter, newest PublishedAt first.
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*core.Document, error)

	// ScanDocuments calls fn for every stored document in fingerprint order.
	// Returning an error from fn stops the scan and returns that error.
	ScanDocuments(ctx context.Context, fn func(*core.Document) error) error

	// PruneBefore deletes documents published before cutoff and returns their fingerprints.
	PruneBefore(ctx context.Context, cutoff time.Time) ([]core.Fingerprint, error)
}

// DeliveryCommit records the outcome of one digest delivery.
type DeliveryCommit struct {
	SubscriberID   string
	PeriodStart    time.Time
	Categories     []string // categories the delivered message covered
	IdempotenceKey string
	SentAt         time.Time
	// Advance moves LastSentAt forward to SentAt. It is false when some due
	// category could not be analyzed, so the subscription stays due.
	Advance bool
}

// SubscriptionStore persists subscriptions and per-period delivery receipts.
type SubscriptionStore interface {
	Repository

	// UpsertSubscription creates or replaces a subscription's categories and cadence.
	// LastSentAt and CreatedAt of an existing subscription are preserved.
	UpsertSubscription(ctx context.Context, sub *core.Subscription) error

	// GetSubscription returns ErrNotFound if the subscriber has no subscription.
	GetSubscription(ctx context.Context, subscriberID string) (*core.Subscription, error)

	// DeleteSubscription removes a subscription. Receipts are kept.
	DeleteSubscription(ctx context.Context, subscriberID string) error

	// ListSubscriptions returns every subscription ordered by subscriber id.
	ListSubscriptions(ctx context.Context) ([]*core.Subscription, error)

	// ListDue returns subscriptions whose cadence period has elapsed at now.
	ListDue(ctx context.Context, now time.Time, schedule core.Schedule) ([]*core.Subscription, error)

	// DeliveredCategories returns the categories already receipted for a period.
	DeliveredCategories(ctx context.Context, subscriberID string, periodStart time.Time) ([]string, error)

	// CommitDelivery writes receipts for the delivered categories and, when
	// requested, advances LastSentAt, in one transaction. LastSentAt never moves backwards.
	CommitDelivery(ctx context.Context, commit DeliveryCommit) error
}

// ReportStore persists immutable analysis reports.
type ReportStore interface {
	Repository

	// SaveReport stores a report. Saving a request id that already exists is a no-op.
	SaveReport(ctx context.Context, report *core.AnalysisReport) error

	// GetReport returns ErrNotFound if no report exists for the request id.
	GetReport(ctx context.Context, requestID string) (*core.AnalysisReport, error)
}

// TaskStore persists orchestrator task records.
type TaskStore interface {
	Repository

	// CreateTask stores rec unless a task with the same idempotence key exists.
	// Returns the stored record and whether this call created it.
	CreateTask(ctx context.Context, rec *core.TaskRecord) (*core.TaskRecord, bool, error)

	// GetTask returns ErrNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*core.TaskRecord, error)

	// GetTaskByKey returns ErrNotFound if no task carries the key.
	GetTaskByKey(ctx context.Context, key string) (*core.TaskRecord, error)

	// UpdateTask overwrites a task's mutable fields. Returns ErrNotFound for unknown ids.
	UpdateTask(ctx context.Context, rec *core.TaskRecord) error

	// TransitionTask overwrites a task's mutable fields only if its stored status
	// is one of from. Returns false without writing when the status differs.
	// On success rec reflects the stored record.
	TransitionTask(ctx context.Context, rec *core.TaskRecord, from ...core.TaskStatus) (bool, error)

	// ListTasks returns tasks in any of the given statuses, or all tasks when none are given.
	ListTasks(ctx context.Context, statuses ...core.TaskStatus) ([]*core.TaskRecord, error)
}

// IndexQuery selects embeddings.
type IndexQuery struct {
	// Vector ranks results by cosine similarity. When nil, results are ranked by recency.
	Vector   []float32
	Category string
	Window   core.TimeWindow
	K        int
	MinScore float32 // ignored when Vector is nil
}

// EmbeddingIndex stores one vector per document fingerprint.
type EmbeddingIndex interface {
	Repository

	// Upsert stores records keyed by fingerprint, overwriting existing vectors.
	Upsert(ctx context.Context, records ...*core.EmbeddingRecord) error

	// Query returns up to K fingerprints ordered by descending score.
	Query(ctx context.Context, q IndexQuery) ([]core.ScoredFingerprint, error)

	// GetEmbedding returns ErrNotFound if the fingerprint has no vector.
	GetEmbedding(ctx context.Context, fp core.Fingerprint) (*core.EmbeddingRecord, error)

	// DeleteEmbeddings removes vectors. Unknown fingerprints are ignored.
	DeleteEmbeddings(ctx context.Context, fps ...core.Fingerprint) error

	// CountEmbeddings returns the number of stored vectors.
	CountEmbeddings(ctx context.Context) (int, error)
}
