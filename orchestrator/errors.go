package orchestrator

import "errors"

var (
	// ErrTaskStoreRequired is returned when a task store is not provided.
	ErrTaskStoreRequired = errors.New("task store required")

	// ErrQueueRequired is returned when a queue is not provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrUnknownClass is returned when a task class has no retry policy.
	ErrUnknownClass = errors.New("unknown task class")

	// ErrEmptyKey is returned when a task is enqueued without an idempotence key.
	ErrEmptyKey = errors.New("idempotence key cannot be empty")

	// ErrNoHandler is recorded on tasks whose class has no registered handler.
	ErrNoHandler = errors.New("no handler registered")

	// ErrHandlerPanic is recorded when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrAlreadyRunning is returned by Start on a started orchestrator.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)
