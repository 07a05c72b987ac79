// Package redisq implements queue.Queue on Redis lists.
//
// Publish pushes onto the pending list. Consume atomically moves a message
// onto a processing list with BRPOPLPUSH, and Ack removes it from there.
// Messages left on the processing list by a crashed worker are moved back
// by Reclaim.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/poiesic/trendwire/queue"
	"github.com/redis/go-redis/v9"
)

// DefaultName is the list name prefix used when none is given.
const DefaultName = "trendwire:tasks"

// pollTimeout bounds each BRPOPLPUSH so Consume notices cancellation and Close.
const pollTimeout = time.Second

// Queue implements queue.Queue and queue.Reclaimer.
type Queue struct {
	client     redis.UniversalClient
	pending    string
	processing string
	closed     atomic.Bool
}

var (
	_ queue.Queue     = (*Queue)(nil)
	_ queue.Reclaimer = (*Queue)(nil)
)

// New creates a queue using the lists <name>:pending and <name>:processing.
// The client is owned by the caller.
func New(client redis.UniversalClient, name string) *Queue {
	if name == "" {
		name = DefaultName
	}
	return &Queue{
		client:     client,
		pending:    name + ":pending",
		processing: name + ":processing",
	}
}

func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, data).Err(); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", msg.TaskID, err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context) (queue.Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, queue.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to consume: %w", err)
		}
		var msg queue.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			// Drop unreadable entries from the processing list.
			q.client.LRem(ctx, q.processing, 1, raw)
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		return &delivery{queue: q, raw: raw, msg: msg}, nil
	}
}

// Reclaim moves every message on the processing list back to the pending
// list. Call it only when no consumer of this queue is running.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processing, q.pending).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to reclaim: %w", err)
		}
		moved++
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

// Close stops consumers. It does not close the client.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

type delivery struct {
	queue *Queue
	raw   string
	msg   queue.Message
}

func (d *delivery) Message() queue.Message { return d.msg }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.queue.client.LRem(ctx, d.queue.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", d.msg.TaskID, err)
	}
	return nil
}
