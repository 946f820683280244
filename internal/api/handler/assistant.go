package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
	"github.com/kiranshivaraju/inboxpilot/internal/assistant"
	"github.com/kiranshivaraju/inboxpilot/internal/mailbox"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/ratelimit"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const queuedMessage = "Assistant is busy. Processing in the background."

// Assistant is the synchronous surface of the job handlers.
type Assistant interface {
	SuggestReply(ctx context.Context, req assistant.ReplyRequest) (*assistant.ReplyResult, error)
	Triage(ctx context.Context, req assistant.TriageRequest) (*assistant.TriageResult, error)
	Chat(ctx context.Context, req assistant.ChatRequest) (*assistant.ChatResult, error)
}

// ChatResetter clears a chat session.
type ChatResetter interface {
	ClearChatHistory(ctx context.Context, sessionID string) error
}

// Limits are the per-user admission settings applied on the synchronous path.
type Limits struct {
	PerMinute   int
	MinInterval time.Duration
}

// Sync runs assistant operations inline and falls back to the job queue when
// the call is rate limited.
type Sync struct {
	assistant Assistant
	limiter   ratelimit.Limiter
	queue     JobQueue
	limits    Limits
}

func NewSync(a Assistant, limiter ratelimit.Limiter, q JobQueue, limits Limits) *Sync {
	return &Sync{assistant: a, limiter: limiter, queue: q, limits: limits}
}

type queuedResponse struct {
	OK      bool             `json:"ok"`
	Queued  bool             `json:"queued"`
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// envelope fields shared by every synchronous request.
type syncMeta struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SuggestReply handles POST /api/v1/llm/suggest-reply.
func (s *Sync) SuggestReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		syncMeta
		assistant.ReplyRequest
	}
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	req := body.ReplyRequest
	req.SessionID = body.syncMeta.SessionID
	req.Admit = s.admission(body.syncMeta.UserID)

	res, err := s.assistant.SuggestReply(r.Context(), req)
	s.respond(w, r, models.JobTypeSuggestReply, body.syncMeta, req, res, err)
}

// Triage handles POST /api/v1/llm/triage.
func (s *Sync) Triage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		syncMeta
		assistant.TriageRequest
	}
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	req := body.TriageRequest
	req.SessionID = body.syncMeta.SessionID
	req.Admit = s.admission(body.syncMeta.UserID)

	res, err := s.assistant.Triage(r.Context(), req)
	s.respond(w, r, models.JobTypeTriage, body.syncMeta, req, res, err)
}

// Chat handles POST /api/v1/llm/chat.
func (s *Sync) Chat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		syncMeta
		assistant.ChatRequest
	}
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if body.syncMeta.SessionID == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "session_id is required", nil)
		return
	}
	req := body.ChatRequest
	req.SessionID = body.syncMeta.SessionID
	req.Admit = s.admission(body.syncMeta.UserID)

	res, err := s.assistant.Chat(r.Context(), req)
	s.respond(w, r, models.JobTypeChat, body.syncMeta, req, res, err)
}

// NewChatResetHandler returns an http.HandlerFunc for POST /api/v1/llm/chat/reset.
func NewChatResetHandler(chats ChatResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.SessionID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "session_id is required", nil)
			return
		}
		if err := chats.ClearChatHistory(r.Context(), req.SessionID); err != nil {
			slog.Error("clear chat history", "session_id", req.SessionID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear chat history", nil)
			return
		}
		response.JSON(w, map[string]any{"ok": true, "message": "Chat history cleared."})
	}
}

// admission checks the per-user limiter. A rejection surfaces as a
// rate_limited call error so it takes the same enqueue path as a 429.
func (s *Sync) admission(userID string) assistant.AdmitFunc {
	if userID == "" {
		userID = models.DefaultUserID
	}
	return func(ctx context.Context) error {
		d, err := s.limiter.Check(ctx, userID, s.limits.PerMinute, s.limits.MinInterval)
		if err != nil {
			return &ai.CallError{Code: models.ErrorCodeRateLimited, Message: "rate limiter unavailable", Err: err}
		}
		if !d.Allowed {
			metrics.LimiterRejected(string(d.Reason))
			return &ai.CallError{Code: models.ErrorCodeRateLimited, Message: "rate limit: " + string(d.Reason)}
		}
		return nil
	}
}

func (s *Sync) respond(w http.ResponseWriter, r *http.Request, jobType models.JobType, meta syncMeta, payload, result any, err error) {
	if err == nil {
		response.JSON(w, result)
		return
	}

	var ce *ai.CallError
	switch {
	case errors.Is(err, assistant.ErrInvalidPayload):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, mailbox.ErrMessageNotFound), errors.Is(err, mailbox.ErrUnknownProvider):
		response.Error(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", err.Error(), nil)
	case errors.As(err, &ce) && ce.Code == models.ErrorCodeRateLimited:
		s.deferToQueue(w, r, jobType, meta, payload, ce)
	case errors.As(err, &ce):
		response.Error(w, http.StatusBadGateway, "LLM_ERROR", ce.Message, map[string]string{"error_code": ce.Code})
	default:
		slog.Error("assistant call failed", "job_type", jobType, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func (s *Sync) deferToQueue(w http.ResponseWriter, r *http.Request, jobType models.JobType, meta syncMeta, payload any, ce *ai.CallError) {
	data, err := json.Marshal(payload)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to encode job payload", nil)
		return
	}
	job, err := enqueue(r.Context(), s.queue, jobType, meta.UserID, meta.SessionID, data)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
		return
	}
	slog.Info("synchronous call deferred to queue", "job_id", job.ID, "job_type", jobType, "reason", ce.Message)
	response.Accepted(w, queuedResponse{Queued: true, JobID: job.ID, Status: job.Status, Message: queuedMessage})
}
