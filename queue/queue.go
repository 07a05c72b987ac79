// Package queue defines the transport the orchestrator moves task ids over.
//
// A queue carries only task ids and classes. The task store holds the
// payload and status, so a message delivered twice, or delivered after its
// task already finished, is harmless.
package queue

import (
	"context"
	"errors"

	"github.com/poiesic/trendwire/core"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Message identifies one task to run.
type Message struct {
	TaskID string         `json:"task_id"`
	Class  core.TaskClass `json:"class"`
}

// Delivery is a received message that must be acknowledged once handled.
// Unacknowledged deliveries may be delivered again.
type Delivery interface {
	Message() Message
	Ack(ctx context.Context) error
}

// Queue is an at-least-once task transport.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Publish enqueues msg.
	Publish(ctx context.Context, msg Message) error

	// Consume blocks until a message is available or ctx is done.
	Consume(ctx context.Context) (Delivery, error)

	// Close releases the transport. Blocked Consume calls return ErrClosed.
	Close() error
}

// Reclaimer is implemented by queues that keep unacknowledged messages
// aside and can return them to the queue after a crash.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}
