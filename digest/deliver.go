package digest

import (
	"context"
	"log/slog"
)

// Deliverer sends a composed digest to its subscriber. The message carries
// the digest's idempotence key for transports that can deduplicate on it.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// Limiter is implemented by deliverers whose transport caps the length of a
// single message. Digests are packed into messages that fit, so each message
// maps to exactly one send.
type Limiter interface {
	MaxMessageRunes() int
}

// LogDeliverer writes digests to a logger instead of sending them.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, msg Message) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("digest",
		"subscriber", msg.SubscriberID,
		"categories", msg.Categories,
		"key", msg.IdempotenceKey,
		"text", msg.Text)
	return nil
}
