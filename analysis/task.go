package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/storage"
)

// TaskKey is the idempotence key of an analysis task.
func TaskKey(requestID string) string {
	return "analysis:" + requestID
}

// EncodeRequest serializes req as an analysis task payload.
func EncodeRequest(req *core.AnalysisRequest) ([]byte, error) {
	if err := core.ValidateRequest(req); err != nil {
		return nil, err
	}
	return json.Marshal(req)
}

// DecodeRequest parses an analysis task payload.
func DecodeRequest(data []byte) (*core.AnalysisRequest, error) {
	var req core.AnalysisRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}
	if err := core.ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// TaskHandler runs analysis requests submitted through the orchestrator.
// The task result is the request id, which is also the report id.
type TaskHandler struct {
	engine *Engine
}

var _ orchestrator.Handler = (*TaskHandler)(nil)

func NewTaskHandler(engine *Engine) *TaskHandler {
	return &TaskHandler{engine: engine}
}

func (h *TaskHandler) Handle(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
	req, err := DecodeRequest(task.Payload)
	if err != nil {
		return nil, core.Permanent(err)
	}

	// A retry after the report was saved must not run the providers again.
	if h.engine.reports != nil {
		_, err := h.engine.reports.GetReport(ctx, req.RequestID)
		switch {
		case err == nil:
			return []byte(req.RequestID), nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%w: %w", core.ErrTransientIndex, err)
		}
	}

	if _, err := h.engine.Run(ctx, req); err != nil {
		return nil, err
	}
	return []byte(req.RequestID), nil
}
