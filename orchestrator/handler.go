package orchestrator

import (
	"context"

	"github.com/poiesic/trendwire/core"
)

// Handler runs one attempt of a task. The returned bytes are stored as the
// task's result. Returning an error wrapped with core.Permanent fails the
// task without further attempts.
type Handler interface {
	Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *core.TaskRecord) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
	return f(ctx, task)
}

// Enqueuer submits tasks. Handlers that chain work depend on it.
type Enqueuer interface {
	Enqueue(ctx context.Context, class core.TaskClass, key string, payload []byte) (string, error)
}
