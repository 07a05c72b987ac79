package ingestion

import "errors"

var (
	// ErrNormalizerRequired is returned when a normalizer is not provided.
	ErrNormalizerRequired = errors.New("normalizer required")

	// ErrGateRequired is returned when a deduplication gate is not provided.
	ErrGateRequired = errors.New("deduplication gate required")

	// ErrEnqueuerRequired is returned when a task enqueuer is not provided.
	ErrEnqueuerRequired = errors.New("enqueuer required")

	// ErrProducerRequired is returned when an embedding producer is not provided.
	ErrProducerRequired = errors.New("embedding producer required")

	// ErrRegistryRequired is returned by Poll when no source registry is configured.
	ErrRegistryRequired = errors.New("source registry required")
)
