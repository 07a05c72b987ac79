// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package digest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/storage"
)

// DefaultInterval is how often the scheduler checks for due subscriptions.
const DefaultInterval = time.Minute

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Due      int
	Enqueued int
	Failed   int
}

// Scheduler enqueues digest tasks for due subscriptions.
type Scheduler struct {
	subs     storage.SubscriptionStore
	enqueuer orchestrator.Enqueuer
	schedule core.Schedule
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedule sets where cadence periods begin.
// Default is core.DefaultSchedule().
func WithSchedule(s core.Schedule) SchedulerOption {
	return func(sc *Scheduler) {
		sc.schedule = s
	}
}

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(sc *Scheduler) {
		if d > 0 {
			sc.interval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(sc *Scheduler) {
		if now != nil {
			sc.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(sc *Scheduler) {
		if logger != nil {
			sc.logger = logger.With("component", "digest")
		}
	}
}

// NewScheduler creates a scheduler that enqueues through enqueuer.
func NewScheduler(subs storage.SubscriptionStore, enqueuer orchestrator.Enqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if subs == nil {
		return nil, ErrSubscriptionStoreRequired
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerRequired
	}
	s := &Scheduler{
		subs:     subs,
		enqueuer: enqueuer,
		schedule: core.DefaultSchedule(),
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default().With("component", "digest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule returns the schedule periods are aligned to.
func (s *Scheduler) Schedule() core.Schedule {
	return s.schedule
}

// Tick enqueues one digest task for every subscription due at now.
// Enqueue failures are counted and logged; the subscription stays due and
// is picked up again on the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult

	due, err := s.subs.ListDue(ctx, now, s.schedule)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	var errs []error
	for _, sub := range due {
		periodStart := s.schedule.PeriodStart(sub.Cadence, now)
		key := TaskKey(sub.SubscriberID, periodStart)
		payload, err := encodePayload(&Payload{
			SubscriberID: sub.SubscriberID,
			Cadence:      sub.Cadence,
			PeriodStart:  periodStart,
			Categories:   sub.Categories,
		})
		if err != nil {
			return result, err
		}
		id, err := s.enqueuer.Enqueue(ctx, core.TaskDigest, key, payload)
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			s.logger.Warn("failed to enqueue digest", "subscriber", sub.SubscriberID, "err", err)
			continue
		}
		result.Enqueued++
		s.logger.Debug("digest enqueued", "subscriber", sub.SubscriberID, "task", id, "period", periodStart)
	}
	return result, errors.Join(errs...)
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.Tick(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("digest tick failed", "err", err)
	}
	if result.Due > 0 {
		s.logger.Info("digest tick", "due", result.Due, "enqueued", result.Enqueued, "failed", result.Failed)
	}
}
