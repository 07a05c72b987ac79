package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/dedup"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/storage"
)

// Producer embeds one stored document. *embedding.Producer implements it.
type Producer interface {
	Produce(ctx context.Context, fp core.Fingerprint) error
}

// IngestResult is stored as the result of an ingest task.
type IngestResult struct {
	Fingerprint core.Fingerprint `json:"fingerprint"`
	Inserted    bool             `json:"inserted"`
	EmbedTask   string           `json:"embed_task"`
}

// IngestHandler stores a normalized document and chains its embed task.
type IngestHandler struct {
	gate     *dedup.Gate
	enqueuer orchestrator.Enqueuer
	logger   *slog.Logger
}

var _ orchestrator.Handler = (*IngestHandler)(nil)

// NewIngestHandler creates the ingest task handler.
func NewIngestHandler(gate *dedup.Gate, enqueuer orchestrator.Enqueuer, logger *slog.Logger) (*IngestHandler, error) {
	if gate == nil {
		return nil, ErrGateRequired
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{gate: gate, enqueuer: enqueuer, logger: logger.With("component", "ingestion")}, nil
}

// Handle admits the document carried in the task payload. The embed task is
// enqueued whether or not this attempt inserted the document, so a retry
// after a crash between the insert and the enqueue still completes the chain.
func (h *IngestHandler) Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
	doc, err := storage.UnmarshalDocument(task.Payload)
	if err != nil {
		return nil, core.Permanent(fmt.Errorf("%w: %w", core.ErrInvalidDocument, err))
	}

	adm, err := h.gate.Admit(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !adm.Inserted {
		h.logger.Debug("document already stored", "fingerprint", adm.Fingerprint.Short(), "outcome", core.ErrDuplicateSuppressed)
	}

	embedID, err := h.enqueuer.Enqueue(ctx, core.TaskEmbed, EmbedKey(adm.Fingerprint), []byte(adm.Fingerprint))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue embedding: %w", err)
	}
	return json.Marshal(IngestResult{Fingerprint: adm.Fingerprint, Inserted: adm.Inserted, EmbedTask: embedID})
}

// EmbedHandler produces the embedding of the document named in the payload.
type EmbedHandler struct {
	producer Producer
}

var _ orchestrator.Handler = (*EmbedHandler)(nil)

// NewEmbedHandler creates the embed task handler.
func NewEmbedHandler(producer Producer) (*EmbedHandler, error) {
	if producer == nil {
		return nil, ErrProducerRequired
	}
	return &EmbedHandler{producer: producer}, nil
}

func (h *EmbedHandler) Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
	fp := core.Fingerprint(task.Payload)
	if !fp.Valid() {
		return nil, core.Permanent(fmt.Errorf("%w: %q", core.ErrInvalidFingerprint, task.Payload))
	}
	if err := h.producer.Produce(ctx, fp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.Permanent(err)
		}
		return nil, err
	}
	return []byte(fp), nil
}
