// Package memory is an in-process queue backed by a buffered channel.
// Messages do not survive a restart; the orchestrator's Recover republishes
// unfinished tasks from the task store.
package memory

import (
	"context"
	"sync"

	"github.com/poiesic/trendwire/queue"
)

// DefaultCapacity is the channel buffer size.
const DefaultCapacity = 4096

// Queue implements queue.Queue with a channel.
type Queue struct {
	ch     chan queue.Message
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.RWMutex
}

var _ queue.Queue = (*Queue)(nil)

// New creates a queue buffering up to capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:   make(chan queue.Message, capacity),
		done: make(chan struct{}),
	}
}

// Publish blocks while the buffer is full.
func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return queue.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Consume(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg := <-q.ch:
		return delivery{msg: msg}, nil
	case <-q.done:
		return nil, queue.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() error {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	})
	return nil
}

type delivery struct {
	msg queue.Message
}

func (d delivery) Message() queue.Message     { return d.msg }
func (d delivery) Ack(context.Context) error { return nil }
