package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultUserID is the rate-limit bucket used when a caller does not name a user.
const DefaultUserID = "default"

// JobStatus is the lifecycle state of an LLM job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetryWait  JobStatus = "retry_wait"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether the status is final. Terminal jobs are never claimed again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// JobType selects the handler that processes a job and the payload shape it expects.
type JobType string

const (
	JobTypeSuggestReply JobType = "suggest_reply"
	JobTypeTriage       JobType = "triage"
	JobTypeChat         JobType = "chat"
)

var jobTypes = []JobType{JobTypeSuggestReply, JobTypeTriage, JobTypeChat}

// JobTypes returns every supported job type.
func JobTypes() []JobType {
	out := make([]JobType, len(jobTypes))
	copy(out, jobTypes)
	return out
}

// ParseJobType maps a wire value onto the closed set of job types.
func ParseJobType(s string) (JobType, error) {
	for _, t := range jobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Error codes persisted on failed or retrying jobs.
const (
	ErrorCodeRateLimited    = "rate_limited"
	ErrorCodeAuthOrBilling  = "auth_or_billing"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeUnknown        = "unknown"
	ErrorCodeInvalidType    = "invalid_type"
	ErrorCodeInvalidPayload = "invalid_payload"
	ErrorCodeInternal       = "internal"
	ErrorCodeNotFound       = "not_found"
)

// Job is a unit of asynchronous LLM work. Request handlers create it, the worker
// mutates it, and clients poll it by ID until it reaches done or error.
type Job struct {
	ID           string          `json:"job_id"`
	UserID       string          `json:"user_id"`
	SessionID    string          `json:"session_id"`
	Type         JobType         `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	Attempts     int             `json:"attempts"`
	NextRunAt    int64           `json:"next_run_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// QueueStats aggregates job counts for the debug endpoint. RetryWait jobs count as queued.
type QueueStats struct {
	Queued           int     `json:"queued"`
	Processing       int     `json:"processing"`
	Done             int     `json:"done"`
	Error            int     `json:"error"`
	LastErrorCode    *string `json:"last_error_code"`
	LastErrorMessage *string `json:"last_error_message"`
}
