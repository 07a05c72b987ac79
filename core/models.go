package core

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies where a raw record came from.
type SourceType int

const (
	// SourceTypeCSV is a row of a CSV export.
	SourceTypeCSV SourceType = iota + 1
	// SourceTypeRSS is an RSS or Atom feed item.
	SourceTypeRSS
	// SourceTypeTelegram is a Telegram channel message.
	SourceTypeTelegram
)

var sourceTypeNames = map[SourceType]string{
	SourceTypeCSV:      "csv",
	SourceTypeRSS:      "rss",
	SourceTypeTelegram: "telegram",
}

func (s SourceType) String() string {
	if name, ok := sourceTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SourceType(%d)", int(s))
}

// ParseSourceType converts a name such as "rss" into a SourceType.
func ParseSourceType(name string) (SourceType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for st, n := range sourceTypeNames {
		if n == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSourceType, name)
}

// Uncategorized is assigned to documents no category rule matched.
const Uncategorized = "uncategorized"

// Document is the canonical, immutable form of an ingested source record.
type Document struct {
	Fingerprint    Fingerprint
	SourceType     SourceType
	SourceRef      string // feed URL, channel name or CSV file the record came from
	ItemRef        string // link to the individual item, when known
	Title          string
	RawText        string
	NormalizedText string
	PublishedAt    time.Time
	Category       string
	IngestedAt     time.Time
}

// EmbeddingMetadata is stored next to a vector so the index can filter without loading documents.
type EmbeddingMetadata struct {
	Category    string
	PublishedAt time.Time
	SourceType  SourceType
}

// EmbeddingRecord is the vector form of a Document. One per fingerprint.
type EmbeddingRecord struct {
	Fingerprint Fingerprint
	Vector      []float32
	Metadata    EmbeddingMetadata
}

// ScoredFingerprint is one result of an index query.
type ScoredFingerprint struct {
	Fingerprint Fingerprint
	Score       float32
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window. Zero bounds are unbounded.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// AnalysisScope selects the material an analysis runs over. At least one field is set.
type AnalysisScope struct {
	Category string
	Query    string
}

func (s AnalysisScope) String() string {
	switch {
	case s.Category != "" && s.Query != "":
		return s.Category + ": " + s.Query
	case s.Query != "":
		return s.Query
	default:
		return s.Category
	}
}

// AnalysisRequest asks the analysis engine for a report. It lives only as long as its task.
type AnalysisRequest struct {
	RequestID   string
	Scope       AnalysisScope
	Window      TimeWindow
	RequestedBy string
	CreatedAt   time.Time
}

// Trend is one structured finding in a report.
type Trend struct {
	Title       string
	Description string
	Importance  string
	References  []int // 1-based positions in the material list given to the model
}

// AnalysisReport is the persisted outcome of an analysis.
type AnalysisReport struct {
	RequestID              string
	Scope                  AnalysisScope
	Headline               string
	Trends                 []Trend
	SummaryText            string
	RawText                string
	SupportingFingerprints []Fingerprint
	GeneratedAt            time.Time
	ProviderUsed           string
	Degraded               bool
}

// AnalysisState tracks an analysis request through the engine.
type AnalysisState int

const (
	AnalysisCreated AnalysisState = iota + 1
	AnalysisRetrieving
	AnalysisPrompting
	AnalysisParsing
	AnalysisCompleted
	AnalysisFailed
)

func (s AnalysisState) String() string {
	switch s {
	case AnalysisCreated:
		return "CREATED"
	case AnalysisRetrieving:
		return "RETRIEVING"
	case AnalysisPrompting:
		return "PROMPTING"
	case AnalysisParsing:
		return "PARSING"
	case AnalysisCompleted:
		return "COMPLETED"
	case AnalysisFailed:
		return "FAILED"
	}
	return fmt.Sprintf("AnalysisState(%d)", int(s))
}

// Terminal reports whether no further transitions can happen.
func (s AnalysisState) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// Subscription is a subscriber's standing request for digests.
type Subscription struct {
	SubscriberID string
	Categories   []string // kept sorted and unique
	Cadence      Cadence
	LastSentAt   time.Time // zero until the first successful delivery
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasCategory reports whether the subscription covers category.
func (s *Subscription) HasCategory(category string) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// TaskClass groups tasks that share a handler and retry policy.
type TaskClass string

const (
	TaskIngest   TaskClass = "ingest"
	TaskEmbed    TaskClass = "embed"
	TaskAnalysis TaskClass = "analysis"
	TaskDigest   TaskClass = "digest"
)

// TaskStatus is the lifecycle state of a TaskRecord.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskRetrying  TaskStatus = "retrying"
)

// Done reports whether the status is terminal.
func (s TaskStatus) Done() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// TaskRecord is the orchestrator's durable view of one unit of work.
type TaskRecord struct {
	ID             string
	Class          TaskClass
	IdempotenceKey string
	Status         TaskStatus
	AttemptCount   int
	Payload        []byte
	Result         []byte
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
