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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/queue"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/storage"
)

const (
	// stopTimeout bounds how long Stop waits for running handlers.
	stopTimeout = 30 * time.Second

	// consumeBackoff is the pause after a failed Consume or task lookup.
	consumeBackoff = time.Second
)

// Orchestrator schedules tasks onto a worker pool.
type Orchestrator struct {
	tasks    storage.TaskStore
	queue    queue.Queue
	policies map[core.TaskClass]retry.Policy
	workers  int
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[core.TaskClass]Handler
	waiters  map[string][]chan *core.TaskRecord
	timers   map[*time.Timer]struct{}
	pool     *ants.Pool
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

var _ Enqueuer = (*Orchestrator)(nil)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithWorkers sets the worker pool size.
// Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			n = 1
		}
		o.workers = n
		return nil
	}
}

// WithPolicy overrides the retry policy of a task class, or adds a class.
func WithPolicy(class core.TaskClass, p retry.Policy) Option {
	return func(o *Orchestrator) error {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("%s: %w", class, retry.ErrInvalidMaxAttempts)
		}
		o.policies[class] = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "orchestrator")
		return nil
	}
}

// New creates an orchestrator over a task store and a queue. Neither is
// closed by the orchestrator.
func New(tasks storage.TaskStore, q queue.Queue, opts ...Option) (*Orchestrator, error) {
	if tasks == nil {
		return nil, ErrTaskStoreRequired
	}
	if q == nil {
		return nil, ErrQueueRequired
	}

	o := &Orchestrator{
		tasks:    tasks,
		queue:    q,
		policies: DefaultPolicies(),
		workers:  runtime.NumCPU(),
		logger:   slog.Default().With("component", "orchestrator"),
		handlers: make(map[core.TaskClass]Handler),
		waiters:  make(map[string][]chan *core.TaskRecord),
		timers:   make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Register sets the handler for a task class, replacing any previous one.
func (o *Orchestrator) Register(class core.TaskClass, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[class] = h
}

// Policy returns the retry policy of class.
func (o *Orchestrator) Policy(class core.TaskClass) (retry.Policy, bool) {
	p, ok := o.policies[class]
	return p, ok
}

// Enqueue submits work under an idempotence key and returns the task id.
//
// A new key creates a pending task. An existing key returns the existing
// task's id: succeeded tasks are not run again, in-flight tasks are left
// alone, and failed tasks are reset to pending and run again.
func (o *Orchestrator) Enqueue(ctx context.Context, class core.TaskClass, key string, payload []byte) (string, error) {
	if _, ok := o.policies[class]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if key == "" {
		return "", ErrEmptyKey
	}

	rec := &core.TaskRecord{
		ID:             uuid.NewString(),
		Class:          class,
		IdempotenceKey: key,
		Status:         core.TaskPending,
		Payload:        payload,
	}
	stored, created, err := o.tasks.CreateTask(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create task %s: %w", key, err)
	}
	if created {
		o.logger.Debug("task created", "task", stored.ID, "class", class, "key", key)
		return stored.ID, o.publish(ctx, stored)
	}

	switch stored.Status {
	case core.TaskSucceeded:
		o.logger.Debug("task already succeeded", "task", stored.ID, "key", key)
		return stored.ID, nil
	case core.TaskPending:
		// The message may never have been published; duplicates lose the claim.
		return stored.ID, o.publish(ctx, stored)
	case core.TaskFailed:
		reset := *stored
		reset.Status = core.TaskPending
		reset.AttemptCount = 0
		reset.Error = ""
		reset.Result = nil
		if payload != nil {
			reset.Payload = payload
		}
		applied, err := o.tasks.TransitionTask(ctx, &reset, core.TaskFailed)
		if err != nil {
			return "", fmt.Errorf("failed to reset task %s: %w", stored.ID, err)
		}
		if !applied {
			return stored.ID, nil
		}
		o.logger.Info("failed task resubmitted", "task", stored.ID, "key", key)
		return stored.ID, o.publish(ctx, &reset)
	default:
		return stored.ID, nil
	}
}

// Status returns the current record of a task.
func (o *Orchestrator) Status(ctx context.Context, id string) (*core.TaskRecord, error) {
	return o.tasks.GetTask(ctx, id)
}

// StatusByKey returns the task created under an idempotence key.
func (o *Orchestrator) StatusByKey(ctx context.Context, key string) (*core.TaskRecord, error) {
	return o.tasks.GetTaskByKey(ctx, key)
}

// List returns tasks in the given statuses, or every task when none are given.
func (o *Orchestrator) List(ctx context.Context, statuses ...core.TaskStatus) ([]*core.TaskRecord, error) {
	return o.tasks.ListTasks(ctx, statuses...)
}

// Await blocks until the task succeeds or fails, or ctx is done.
// Completion is signalled by this process's workers.
func (o *Orchestrator) Await(ctx context.Context, id string) (*core.TaskRecord, error) {
	ch := make(chan *core.TaskRecord, 1)
	o.mu.Lock()
	o.waiters[id] = append(o.waiters[id], ch)
	o.mu.Unlock()
	defer o.removeWaiter(id, ch)

	rec, err := o.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Done() {
		return rec, nil
	}

	select {
	case rec := <-ch:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TaskError returns the failure recorded on a failed task, or nil.
func TaskError(rec *core.TaskRecord) error {
	if rec == nil || rec.Status != core.TaskFailed {
		return nil
	}
	return fmt.Errorf("task %s (%s) failed: %s", rec.ID, rec.IdempotenceKey, rec.Error)
}

// Start begins consuming the queue. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.pool = pool
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.consume(runCtx, pool, o.done)
	o.logger.Info("orchestrator started", "workers", o.workers)
	return nil
}

// Stop stops consuming, cancels running handlers and waits for them to
// return. Pending retries are dropped; Recover picks those tasks up again.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done, pool := o.cancel, o.done, o.pool
	for t := range o.timers {
		t.Stop()
	}
	o.timers = make(map[*time.Timer]struct{})
	o.mu.Unlock()

	cancel()
	<-done
	if err := pool.ReleaseTimeout(stopTimeout); err != nil {
		o.logger.Warn("workers did not stop in time", "err", err)
	}
	o.logger.Info("orchestrator stopped")
}

// Recover returns unfinished tasks to the queue after a restart. Tasks that
// were running when the previous process died are reset to pending. Call it
// before Start.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	if r, ok := o.queue.(queue.Reclaimer); ok {
		moved, err := r.Reclaim(ctx)
		if err != nil {
			return 0, err
		}
		if moved > 0 {
			o.logger.Info("reclaimed unacknowledged messages", "count", moved)
		}
	}

	orphaned, err := o.tasks.ListTasks(ctx, core.TaskRunning)
	if err != nil {
		return 0, err
	}
	for _, rec := range orphaned {
		reset := *rec
		reset.Status = core.TaskPending
		if _, err := o.tasks.TransitionTask(ctx, &reset, core.TaskRunning); err != nil {
			return 0, fmt.Errorf("failed to reset task %s: %w", rec.ID, err)
		}
	}

	unfinished, err := o.tasks.ListTasks(ctx, core.TaskPending, core.TaskRetrying)
	if err != nil {
		return 0, err
	}
	for _, rec := range unfinished {
		if err := o.publish(ctx, rec); err != nil {
			return 0, err
		}
	}
	if len(unfinished) > 0 {
		o.logger.Info("recovered unfinished tasks", "count", len(unfinished), "orphaned", len(orphaned))
	}
	return len(unfinished), nil
}

func (o *Orchestrator) consume(ctx context.Context, pool *ants.Pool, done chan struct{}) {
	defer close(done)
	for {
		d, err := o.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			o.logger.Warn("failed to consume task", "err", err)
			if retry.Sleep(ctx, consumeBackoff) != nil {
				return
			}
			continue
		}
		if err := pool.Submit(func() { o.process(ctx, d) }); err != nil {
			o.logger.Error("failed to submit task", "task", d.Message().TaskID, "err", err)
			return
		}
	}
}

// process runs one delivery to completion. The delivery is always acked;
// retries are republished by a timer.
func (o *Orchestrator) process(ctx context.Context, d queue.Delivery) {
	storeCtx := context.WithoutCancel(ctx)
	msg := d.Message()
	defer func() {
		if err := d.Ack(storeCtx); err != nil {
			o.logger.Warn("failed to ack task", "task", msg.TaskID, "err", err)
		}
	}()

	rec, err := o.tasks.GetTask(storeCtx, msg.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn("dropping message for unknown task", "task", msg.TaskID)
		return
	}
	if err != nil {
		o.logger.Warn("failed to load task", "task", msg.TaskID, "err", err)
		o.schedule(msg, consumeBackoff)
		return
	}
	if rec.Status.Done() {
		o.logger.Debug("skipping finished task", "task", rec.ID, "status", rec.Status)
		return
	}

	policy, ok := o.policies[rec.Class]
	if !ok {
		policy = retry.Policy{MaxAttempts: 1}
	}

	claim := *rec
	claim.Status = core.TaskRunning
	claim.AttemptCount = rec.AttemptCount + 1
	applied, err := o.tasks.TransitionTask(storeCtx, &claim, core.TaskPending, core.TaskRetrying)
	if err != nil {
		o.logger.Warn("failed to claim task", "task", rec.ID, "err", err)
		o.schedule(msg, consumeBackoff)
		return
	}
	if !applied {
		o.logger.Debug("task claimed elsewhere", "task", rec.ID)
		return
	}

	logger := o.logger.With("task", claim.ID, "class", claim.Class, "attempt", claim.AttemptCount)
	result, runErr := o.invoke(ctx, &claim)

	next := claim
	switch {
	case runErr == nil:
		next.Status = core.TaskSucceeded
		next.Result = result
		next.Error = ""
	case ctx.Err() != nil:
		// Shutting down: leave the task for Recover.
		next.Status = core.TaskRetrying
		next.Error = runErr.Error()
	case core.IsPermanent(runErr) || claim.AttemptCount >= policy.MaxAttempts:
		next.Status = core.TaskFailed
		next.Error = o.failureReason(&claim, runErr).Error()
	default:
		next.Status = core.TaskRetrying
		next.Error = runErr.Error()
	}

	if _, err := o.tasks.TransitionTask(storeCtx, &next, core.TaskRunning); err != nil {
		logger.Error("failed to record task outcome", "status", next.Status, "err", err)
		return
	}

	switch next.Status {
	case core.TaskSucceeded:
		logger.Debug("task succeeded")
		o.notify(&next)
	case core.TaskFailed:
		logger.Warn("task failed", "err", next.Error)
		o.notify(&next)
	case core.TaskRetrying:
		if ctx.Err() != nil {
			return
		}
		delay := policy.Delay(claim.AttemptCount)
		logger.Info("task will retry", "delay", delay, "err", runErr)
		o.schedule(msg, delay)
	}
}

func (o *Orchestrator) invoke(ctx context.Context, rec *core.TaskRecord) (result []byte, err error) {
	o.mu.Lock()
	h, ok := o.handlers[rec.Class]
	o.mu.Unlock()
	if !ok {
		return nil, core.Permanent(fmt.Errorf("%w for class %s", ErrNoHandler, rec.Class))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, rec)
}

func (o *Orchestrator) failureReason(rec *core.TaskRecord, err error) error {
	if pipelineStage(rec.Class) {
		return fmt.Errorf("%w: %s after %d attempts: %w", core.ErrPipelineStageFailed, rec.Class, rec.AttemptCount, err)
	}
	return err
}

func (o *Orchestrator) publish(ctx context.Context, rec *core.TaskRecord) error {
	if err := o.queue.Publish(ctx, queue.Message{TaskID: rec.ID, Class: rec.Class}); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", rec.ID, err)
	}
	return nil
}

// schedule republishes msg after delay. It does nothing once stopped.
func (o *Orchestrator) schedule(msg queue.Message, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		o.mu.Lock()
		delete(o.timers, t)
		o.mu.Unlock()
		if err := o.queue.Publish(context.Background(), msg); err != nil {
			o.logger.Warn("failed to republish task", "task", msg.TaskID, "err", err)
		}
	})
	o.timers[t] = struct{}{}
}

func (o *Orchestrator) notify(rec *core.TaskRecord) {
	o.mu.Lock()
	chans := o.waiters[rec.ID]
	delete(o.waiters, rec.ID)
	o.mu.Unlock()
	for _, ch := range chans {
		final := *rec
		ch <- &final
	}
}

func (o *Orchestrator) removeWaiter(id string, ch chan *core.TaskRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	chans := o.waiters[id]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(o.waiters, id)
	} else {
		o.waiters[id] = chans
	}
}
