package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/internal/worker"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// JobQueue is the slice of the job store the HTTP layer needs.
type JobQueue interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
}

type createJobRequest struct {
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
}

type jobCreated struct {
	OK     bool             `json:"ok"`
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/llm/job.
func NewCreateJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		jobType, err := models.ParseJobType(req.JobType)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_TYPE",
				"Invalid job_type: "+req.JobType, map[string]any{"allowed": models.JobTypes()})
			return
		}

		payload := bytes.TrimSpace(req.Payload)
		if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
			payload = []byte("{}")
		}
		if payload[0] != '{' {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "payload must be a JSON object", nil)
			return
		}

		job, err := enqueue(r.Context(), q, jobType, req.UserID, req.SessionID, payload)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		response.Created(w, jobCreated{OK: true, JobID: job.ID, Status: job.Status})
	}
}

type jobView struct {
	OK           bool             `json:"ok"`
	JobID        string           `json:"job_id"`
	Status       models.JobStatus `json:"status"`
	JobType      models.JobType   `json:"job_type"`
	Attempts     int              `json:"attempts"`
	ErrorCode    *string          `json:"error_code"`
	ErrorMessage *string          `json:"error_message"`
	Result       json.RawMessage  `json:"result,omitempty"`
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/llm/job/{jobID}.
// The result is only exposed once the job is done.
func NewGetJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		job, err := q.Get(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job "+jobID+" not found", nil)
			return
		}
		if err != nil {
			slog.Error("get job", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		view := jobView{
			OK:           true,
			JobID:        job.ID,
			Status:       job.Status,
			JobType:      job.Type,
			Attempts:     job.Attempts,
			ErrorCode:    job.ErrorCode,
			ErrorMessage: job.ErrorMessage,
		}
		if job.Status == models.JobStatusDone {
			view.Result = job.Result
		}
		response.JSON(w, view)
	}
}

func enqueue(ctx context.Context, q JobQueue, jobType models.JobType, userID, sessionID string, payload json.RawMessage) (*models.Job, error) {
	job := &models.Job{
		ID:        worker.NewJobID(),
		UserID:    userID,
		SessionID: sessionID,
		Type:      jobType,
		Payload:   payload,
	}
	if err := q.Create(ctx, job); err != nil {
		slog.Error("create job", "job_type", jobType, "error", err)
		return nil, err
	}
	metrics.JobEnqueued(string(jobType))
	slog.Info("job enqueued", "job_id", job.ID, "job_type", jobType, "user_id", job.UserID)
	return job, nil
}
