package digest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/trendwire/core"
)

// periodLayout formats period starts inside idempotence keys.
const periodLayout = "20060102T1504Z"

// Payload is the body of a digest task.
type Payload struct {
	SubscriberID string       `json:"subscriber_id"`
	Cadence      core.Cadence `json:"cadence"`
	PeriodStart  time.Time    `json:"period_start"`
	Categories   []string     `json:"categories"`
}

// TaskKey is the idempotence key of a subscriber's digest for one period.
func TaskKey(subscriberID string, periodStart time.Time) string {
	return fmt.Sprintf("digest:%s:%s", subscriberID, periodStart.UTC().Format(periodLayout))
}

// ReportID is the request id under which the analysis of a category for one
// period is stored and reused.
func ReportID(category string, cadence core.Cadence, periodStart time.Time) string {
	return fmt.Sprintf("digest:%s:%s:%s", category, cadence, periodStart.UTC().Format(periodLayout))
}

func encodePayload(p *Payload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, core.Permanent(fmt.Errorf("invalid digest payload: %w", err))
	}
	if p.SubscriberID == "" || p.PeriodStart.IsZero() {
		return nil, core.Permanent(fmt.Errorf("%w: digest payload missing subscriber or period", core.ErrInvalidSubscription))
	}
	return &p, nil
}

// Outcome is stored as the result of a digest task.
type Outcome struct {
	Delivered  []string `json:"delivered,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Suppressed bool     `json:"suppressed,omitempty"`
}
