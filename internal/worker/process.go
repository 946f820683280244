package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/assistant"
	"github.com/kiranshivaraju/inboxpilot/internal/mailbox"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const maxInternalMessage = 500

// Process runs one claimed job to a terminal or retry state. It never panics
// and never leaves the job in processing unless the store write itself fails.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	w.beat()
	log := w.logger.With("job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts)

	defer func() {
		if r := recover(); r != nil {
			msg := truncate(fmt.Sprintf("panic: %v", r), maxInternalMessage)
			log.Error("job handler panicked", "panic", r, "stack", string(debug.Stack()))
			w.fail(ctx, job, models.ErrorCodeInternal, msg)
		}
	}()

	handler, ok := w.handlers[job.Type]
	if !ok {
		log.Warn("no handler for job type")
		w.fail(ctx, job, models.ErrorCodeInvalidType, fmt.Sprintf("unknown job type %q", job.Type))
		return
	}

	decision, err := w.limiter.Check(ctx, job.UserID, w.cfg.RateLimitPerMinute, w.cfg.MinCallInterval)
	if err != nil {
		log.Error("rate limiter check failed", "error", err)
		w.retry(ctx, job, models.ErrorCodeInternal, "rate limiter unavailable: "+err.Error())
		return
	}
	if !decision.Allowed {
		wait := max(decision.RetryAfter, minDeferSeconds)
		metrics.LimiterRejected(string(decision.Reason))
		log.Info("job deferred by rate limiter", "reason", decision.Reason, "retry_after", wait)
		reason := fmt.Sprintf("rate limited (%s), retrying in %ds", decision.Reason, wait)
		if err := w.jobs.Defer(ctx, job.ID, w.now().Unix()+wait, reason); err != nil {
			log.Error("deferring job", "error", err)
		}
		metrics.JobProcessed(string(job.Type), "deferred")
		return
	}

	result, err := handler(ctx, job)
	if err != nil {
		w.handleFailure(ctx, job, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, job, models.ErrorCodeInternal, truncate("encode result: "+err.Error(), maxInternalMessage))
		return
	}
	if err := w.jobs.Update(ctx, job.ID, store.JobUpdate{Status: models.JobStatusDone, Result: data}); err != nil {
		log.Error("writing job result", "error", err)
		return
	}
	metrics.JobProcessed(string(job.Type), string(models.JobStatusDone))
	log.Info("job completed")
}

// handleFailure applies the retry policy. failures counts the current attempt.
func (w *Worker) handleFailure(ctx context.Context, job *models.Job, err error) {
	log := w.logger.With("job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts)

	switch {
	case errors.Is(err, assistant.ErrInvalidPayload):
		w.fail(ctx, job, models.ErrorCodeInvalidPayload, err.Error())
		return
	case errors.Is(err, mailbox.ErrMessageNotFound), errors.Is(err, mailbox.ErrUnknownProvider):
		w.fail(ctx, job, models.ErrorCodeNotFound, err.Error())
		return
	}

	ce := ai.Classify(err)
	failures := job.Attempts + 1
	log.Warn("job failed", "error_code", ce.Code, "error", ce.Message, "failures", failures)

	switch {
	case ce.Code == models.ErrorCodeAuthOrBilling:
		w.fail(ctx, job, ce.Code, ce.Message)
	case failures >= w.cfg.MaxRetries:
		w.fail(ctx, job, ce.Code, "max retries exceeded: "+ce.Message)
	default:
		w.retry(ctx, job, ce.Code, ce.Message)
	}
}

func (w *Worker) retry(ctx context.Context, job *models.Job, code, message string) {
	backoff := int64(w.cfg.RetryBase.Seconds() * float64(job.Attempts+1))
	err := w.jobs.Update(ctx, job.ID, store.JobUpdate{
		Status:       models.JobStatusRetryWait,
		ErrorCode:    &code,
		ErrorMessage: &message,
		NextRunAt:    w.now().Unix() + backoff,
	})
	if err != nil {
		w.logger.Error("scheduling job retry", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobProcessed(string(job.Type), string(models.JobStatusRetryWait))
}

func (w *Worker) fail(ctx context.Context, job *models.Job, code, message string) {
	err := w.jobs.Update(ctx, job.ID, store.JobUpdate{
		Status:       models.JobStatusError,
		ErrorCode:    &code,
		ErrorMessage: &message,
	})
	if err != nil {
		w.logger.Error("marking job failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobProcessed(string(job.Type), string(models.JobStatusError))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
