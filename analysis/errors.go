package analysis

import "errors"

var (
	// ErrIndexRequired is returned when no embedding index is given.
	ErrIndexRequired = errors.New("embedding index required")

	// ErrDocumentStoreRequired is returned when no document store is given.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrEmbedderRequired is returned when no embedder is given.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrNoProviders is returned when no completion provider is configured.
	ErrNoProviders = errors.New("at least one completion provider required")
)
