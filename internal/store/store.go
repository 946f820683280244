package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrEmpty is returned by ClaimNext when no job is eligible to run.
var ErrEmpty = errors.New("no eligible job")

// ErrNotProcessing is returned by Update and Defer when the job exists but is
// no longer claimed, for example because it already reached done or error.
var ErrNotProcessing = errors.New("job is not processing")

// JobStore persists LLM jobs. ClaimNext must hand each eligible job to exactly one caller.
// Update and Defer only apply to a job in processing.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	ClaimNext(ctx context.Context, now int64) (*models.Job, error)
	Update(ctx context.Context, jobID string, upd JobUpdate) error
	Defer(ctx context.Context, jobID string, nextRunAt int64, reason string) error
	Stats(ctx context.Context) (models.QueueStats, error)
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
}

// ChatStore keeps per-session conversation turns.
type ChatStore interface {
	AppendChatMessage(ctx context.Context, sessionID, role, content string) error
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	ClearChatHistory(ctx context.Context, sessionID string) error
}

// CallLogStore receives one row per LLM call attempt.
type CallLogStore interface {
	InsertCallLog(ctx context.Context, entry models.CallLogEntry) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	JobStore
	ChatStore
	CallLogStore
	Ping(ctx context.Context) error
}

// JobUpdate is the post-execution state written by Update.
type JobUpdate struct {
	Status       models.JobStatus
	Result       json.RawMessage
	ErrorCode    *string
	ErrorMessage *string
	NextRunAt    int64
}

// incrementsAttempts reports whether writing status counts as a failed attempt.
func incrementsAttempts(status models.JobStatus) bool {
	return status == models.JobStatusRetryWait || status == models.JobStatusError
}

func defaultUser(userID string) string {
	if userID == "" {
		return models.DefaultUserID
	}
	return userID
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func strPtr(s string) *string { return &s }
