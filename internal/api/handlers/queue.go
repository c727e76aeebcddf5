package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/supportpay/internal/api/httpx"
	"github.com/baharkarakas/supportpay/internal/queue"
)

type BatchRunner interface {
	ProcessBatch(ctx context.Context) (queue.BatchStats, error)
}

type QueueHandler struct {
	Queue BatchRunner
	Log   *slog.Logger
}

func NewQueueHandler(q BatchRunner, log *slog.Logger) *QueueHandler {
	return &QueueHandler{Queue: q, Log: log}
}

// POST /api/v1/queue/process
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.ProcessBatch(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	h.Log.Info("queue batch", "processed", stats.Processed, "sent", stats.Sent, "failed", stats.Failed, "duration_ms", stats.DurationMs)
	httpx.WriteJSON(w, http.StatusOK, stats)
}
