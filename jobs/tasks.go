package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/scopeguard/scopeguard/internal/authz"
	jobmetrics "github.com/scopeguard/scopeguard/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeInvalidate flushes cached authorization state after an
	// assignment change made outside the HTTP API.
	TaskTypeInvalidate = "authz:invalidate"
)

// Invalidation targets.
const (
	InvalidateSubject = "subject"
	InvalidateRole    = "role"
)

// InvalidatePayload names what to flush. Kind selects the target: a subject
// whose assignments changed, or a role whose own permission set changed.
type InvalidatePayload struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// NewInvalidateTask constructs an Asynq task.
func NewInvalidateTask(payload InvalidatePayload) (*asynq.Task, error) {
	if payload.Kind != InvalidateSubject && payload.Kind != InvalidateRole {
		return nil, fmt.Errorf("jobs: unknown invalidation kind %q", payload.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvalidate, data), nil
}

// InvalidateHandler processes TaskTypeInvalidate tasks through the gate's
// invalidation hooks.
type InvalidateHandler struct {
	gate    *authz.Gate
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewInvalidateHandler constructs the handler.
func NewInvalidateHandler(gate *authz.Gate, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidateHandler{gate: gate, logger: logger, metrics: metrics}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *InvalidateHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskTypeInvalidate)

	var payload InvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Warn("invalidate task payload", slog.Any("error", err))
		return tracker.End(asynq.SkipRetry)
	}

	ctx = authz.NewOperation(ctx)
	var err error
	switch payload.Kind {
	case InvalidateSubject:
		err = h.gate.InvalidateSubject(ctx, payload.ID)
	case InvalidateRole:
		err = h.gate.OnRoleChanged(ctx, payload.ID)
	default:
		h.logger.Warn("invalidate task kind", slog.String("kind", payload.Kind))
		return tracker.End(asynq.SkipRetry)
	}
	if err != nil {
		h.logger.Error("invalidate task",
			slog.String("kind", payload.Kind),
			slog.Int64("id", payload.ID),
			slog.Any("error", err))
	}
	return tracker.End(err)
}
