package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/inboxpilot/internal/assistant"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// Handlers binds every job type to its assistant operation. The job's session
// id overrides anything carried in the payload.
func Handlers(a *assistant.Assistant) map[models.JobType]HandlerFunc {
	return map[models.JobType]HandlerFunc{
		models.JobTypeSuggestReply: func(ctx context.Context, job *models.Job) (any, error) {
			var req assistant.ReplyRequest
			if err := decode(job, &req); err != nil {
				return nil, err
			}
			req.SessionID = job.SessionID
			return a.SuggestReply(ctx, req)
		},
		models.JobTypeTriage: func(ctx context.Context, job *models.Job) (any, error) {
			var req assistant.TriageRequest
			if err := decode(job, &req); err != nil {
				return nil, err
			}
			req.SessionID = job.SessionID
			return a.Triage(ctx, req)
		},
		models.JobTypeChat: func(ctx context.Context, job *models.Job) (any, error) {
			var req assistant.ChatRequest
			if err := decode(job, &req); err != nil {
				return nil, err
			}
			req.SessionID = job.SessionID
			return a.Chat(ctx, req)
		},
	}
}

func decode(job *models.Job, v any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", assistant.ErrInvalidPayload, err)
	}
	return nil
}
