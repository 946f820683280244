package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/ratelimit"
	"github.com/kiranshivaraju/inboxpilot/internal/worker"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// QueueStats reports per-status job counts.
type QueueStats interface {
	Stats(ctx context.Context) (models.QueueStats, error)
}

// WorkerStatus exposes worker liveness. *worker.Worker satisfies it.
type WorkerStatus interface {
	Status() worker.Status
}

type debugStatus struct {
	OK        bool              `json:"ok"`
	Worker    worker.Status     `json:"worker"`
	Queue     models.QueueStats `json:"queue"`
	RateLimit ratelimit.State   `json:"rate_limit"`
}

// NewDebugStatusHandler returns an http.HandlerFunc for GET /api/v1/llm/debug/status.
func NewDebugStatusHandler(stats QueueStats, ws WorkerStatus, limiter ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queue, err := stats.Stats(r.Context())
		if err != nil {
			slog.Error("queue stats", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read queue stats", nil)
			return
		}
		metrics.SetQueueDepth(queue.Queued, queue.Processing, queue.Done, queue.Error)

		rl, err := limiter.Status(r.Context(), models.DefaultUserID)
		if err != nil {
			slog.Warn("rate limit status", "error", err)
			rl = ratelimit.State{UserID: models.DefaultUserID}
		}

		response.JSON(w, debugStatus{
			OK:        true,
			Worker:    ws.Status(),
			Queue:     queue,
			RateLimit: rl,
		})
	}
}

// Pinger is anything whose connectivity the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler checks database and cache connectivity.
func NewHealthHandler(db, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
