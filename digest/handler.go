package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/storage"
)

// Handler runs digest tasks.
type Handler struct {
	subs      storage.SubscriptionStore
	source    ReportSource
	deliverer Deliverer
	schedule  core.Schedule
	now       func() time.Time
	logger    *slog.Logger
}

var _ orchestrator.Handler = (*Handler)(nil)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerClock overrides time.Now for delivery timestamps.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHandlerSchedule sets the period boundaries used to bound delivery
// timestamps. It must match the scheduler's schedule.
func WithHandlerSchedule(s core.Schedule) HandlerOption {
	return func(h *Handler) {
		h.schedule = s
	}
}

// WithHandlerLogger sets a custom logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger.With("component", "digest")
		}
	}
}

// NewHandler creates a digest task handler.
func NewHandler(subs storage.SubscriptionStore, source ReportSource, deliverer Deliverer, opts ...HandlerOption) (*Handler, error) {
	if subs == nil {
		return nil, ErrSubscriptionStoreRequired
	}
	if source == nil {
		return nil, ErrReportSourceRequired
	}
	if deliverer == nil {
		return nil, ErrDelivererRequired
	}
	h := &Handler{
		subs:      subs,
		source:    source,
		deliverer: deliverer,
		schedule:  core.DefaultSchedule(),
		now:       time.Now,
		logger:    slog.Default().With("component", "digest"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle delivers one subscriber's digest for one period.
//
// Categories already receipted for the period are left out. Categories with
// no documents in the period are skipped. When the deliverer limits message
// length the digest goes out as several messages, each receipted once sent. When some categories fail to
// analyze, the others are still delivered and receipted, but last-sent time
// does not move and the task returns ErrIncompleteDigest.
func (h *Handler) Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
	p, err := decodePayload(task.Payload)
	if err != nil {
		return nil, err
	}
	logger := h.logger.With("subscriber", p.SubscriberID, "period", p.PeriodStart)

	sub, err := h.subs.GetSubscription(ctx, p.SubscriberID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("subscription removed before delivery")
		return encodeOutcome(&Outcome{})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}

	delivered, err := h.subs.DeliveredCategories(ctx, p.SubscriberID, p.PeriodStart)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
	}
	var pending []string
	for _, category := range p.Categories {
		if sub.HasCategory(category) && !slices.Contains(delivered, category) {
			pending = append(pending, category)
		}
	}
	if len(pending) == 0 {
		logger.Info("digest already delivered", "outcome", core.ErrDuplicateSuppressed)
		return encodeOutcome(&Outcome{Suppressed: true})
	}

	var (
		outcome  Outcome
		sections []Section
		errs     []error
	)
	for _, category := range pending {
		report, err := h.source.Report(ctx, category, p.Cadence, p.PeriodStart)
		switch {
		case errors.Is(err, core.ErrNoDocuments):
			outcome.Skipped = append(outcome.Skipped, category)
		case err != nil:
			outcome.Failed = append(outcome.Failed, category)
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
		default:
			sections = append(sections, Section{Category: category, Report: report})
		}
	}
	if len(outcome.Skipped) > 0 {
		logger.Info("categories without documents skipped", "categories", outcome.Skipped)
	}

	complete := len(errs) == 0
	parts := Pack(p.SubscriberID, p.Cadence, p.PeriodStart, sections, h.messageLimit())
	for i := range parts {
		msg := parts[i]
		msg.IdempotenceKey = partKey(task.IdempotenceKey, msg.Categories, len(parts))
		if err := h.deliverer.Deliver(ctx, msg); err != nil {
			if len(outcome.Delivered) > 0 {
				logger.Warn("digest partially delivered", "delivered", outcome.Delivered, "err", err)
			}
			return nil, fmt.Errorf("failed to deliver digest to %s: %w", p.SubscriberID, err)
		}
		outcome.Delivered = append(outcome.Delivered, msg.Categories...)

		// Receipts are written per message; a retry skips receipted categories.
		last := i == len(parts)-1
		if err := h.commit(ctx, p, msg.IdempotenceKey, msg.Categories, last && complete); err != nil {
			return nil, err
		}
	}
	if len(parts) == 0 {
		if err := h.commit(ctx, p, task.IdempotenceKey, nil, complete); err != nil {
			return nil, err
		}
	}

	if len(errs) > 0 {
		logger.Warn("digest incomplete", "delivered", outcome.Delivered, "failed", outcome.Failed)
		return nil, fmt.Errorf("%w: %w", ErrIncompleteDigest, errors.Join(errs...))
	}
	logger.Info("digest delivered", "categories", outcome.Delivered)
	return encodeOutcome(&outcome)
}

func (h *Handler) commit(ctx context.Context, p *Payload, key string, categories []string, advance bool) error {
	err := h.subs.CommitDelivery(ctx, storage.DeliveryCommit{
		SubscriberID:   p.SubscriberID,
		PeriodStart:    p.PeriodStart,
		Categories:     categories,
		IdempotenceKey: key,
		SentAt:         h.sentAt(p),
		Advance:        advance,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to record delivery: %w", core.ErrTransientIndex, err)
	}
	return nil
}

// sentAt is the delivery time, kept inside the payload's period so that a
// digest finishing after the next boundary does not count as that period's.
func (h *Handler) sentAt(p *Payload) time.Time {
	now := h.now().UTC()
	end := h.schedule.NextPeriodStart(p.Cadence, p.PeriodStart)
	if !now.Before(end) {
		return end.Add(-time.Microsecond).UTC()
	}
	return now
}

func (h *Handler) messageLimit() int {
	if l, ok := h.deliverer.(Limiter); ok {
		return l.MaxMessageRunes()
	}
	return 0
}

// partKey derives the idempotence key of one message of a digest. A digest
// sent as a single message keeps the task key.
func partKey(taskKey string, categories []string, parts int) string {
	if parts <= 1 {
		return taskKey
	}
	return taskKey + "/" + strings.Join(categories, "+")
}

func encodeOutcome(o *Outcome) ([]byte, error) {
	return json.Marshal(o)
}
