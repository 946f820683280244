package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgJobColumns = `job_id, user_id, session_id, job_type, payload, status, attempts, next_run_at,
	result, error_code, error_message, created_at, updated_at`

func scanPgJob(row pgx.Row) (*models.Job, error) {
	var (
		j         models.Job
		sessionID *string
		payload   []byte
		result    []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &sessionID, &j.Type, &payload, &j.Status, &j.Attempts, &j.NextRunAt,
		&result, &j.ErrorCode, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		j.SessionID = *sessionID
	}
	j.Payload = payload
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.UserID = defaultUser(job.UserID)
	job.Status = models.JobStatusQueued
	job.Attempts = 0
	job.NextRunAt = 0

	var sessionID *string
	if job.SessionID != "" {
		sessionID = &job.SessionID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_jobs (job_id, user_id, session_id, job_type, payload, status, attempts, next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8)`,
		job.ID, job.UserID, sessionID, string(job.Type), []byte(job.Payload), string(job.Status),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM llm_jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimNext moves the oldest eligible job to processing. SKIP LOCKED lets concurrent
// claimers pass over a row another transaction is already taking.
func (s *PostgresStore) ClaimNext(ctx context.Context, now int64) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	j, err := scanPgJob(tx.QueryRow(ctx,
		`UPDATE llm_jobs SET status = 'processing', updated_at = NOW()
		 WHERE job_id = (
		   SELECT job_id FROM llm_jobs
		   WHERE status IN ('queued', 'retry_wait') AND next_run_at <= $1
		   ORDER BY created_at, job_id
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 ) AND status IN ('queued', 'retry_wait')
		 RETURNING `+pgJobColumns, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Update(ctx context.Context, jobID string, upd JobUpdate) error {
	inc := 0
	if incrementsAttempts(upd.Status) {
		inc = 1
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE llm_jobs
		 SET status = $2, result = $3, error_code = $4, error_message = $5, next_run_at = $6,
		     attempts = attempts + $7, updated_at = NOW()
		 WHERE job_id = $1 AND status = 'processing'`,
		jobID, string(upd.Status), nullableJSON(upd.Result), upd.ErrorCode, upd.ErrorMessage, upd.NextRunAt, inc)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrSettled(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) Defer(ctx context.Context, jobID string, nextRunAt int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE llm_jobs
		 SET status = 'retry_wait', next_run_at = $2, error_code = $3, error_message = $4, updated_at = NOW()
		 WHERE job_id = $1 AND status = 'processing'`,
		jobID, nextRunAt, models.ErrorCodeRateLimited, reason)
	if err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrSettled(ctx, jobID)
	}
	return nil
}

// missingOrSettled explains a guarded update that touched no rows.
func (s *PostgresStore) missingOrSettled(ctx context.Context, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM llm_jobs WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotProcessing
}

func (s *PostgresStore) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM llm_jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan job count: %w", err)
		}
		addStatusCount(&stats, models.JobStatus(status), n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT error_code, error_message FROM llm_jobs
		 WHERE status = 'error' ORDER BY updated_at DESC, job_id DESC LIMIT 1`,
	).Scan(&stats.LastErrorCode, &stats.LastErrorMessage)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return stats, fmt.Errorf("last job error: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE llm_jobs SET status = 'queued', updated_at = NOW()
		 WHERE status = 'processing' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Chat history ---

func (s *PostgresStore) AppendChatMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChatHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = $1 ORDER BY id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var (
			m  models.ChatMessage
			id int64
		)
		if err := rows.Scan(&id, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.ID = strconv.FormatInt(id, 10)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *PostgresStore) ClearChatHistory(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

// --- Call log ---

func (s *PostgresStore) InsertCallLog(ctx context.Context, e models.CallLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var errorCode *string
	if e.ErrorCode != "" {
		errorCode = strPtr(e.ErrorCode)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_calls (session_id, action, target_key, model, input_chars, output_chars, cached, error_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.SessionID, e.Action, e.TargetKey, e.Model, e.InputChars, e.OutputChars, e.Cached, errorCode, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func addStatusCount(stats *models.QueueStats, status models.JobStatus, n int) {
	switch status {
	case models.JobStatusQueued, models.JobStatusRetryWait:
		stats.Queued += n
	case models.JobStatusProcessing:
		stats.Processing += n
	case models.JobStatusDone:
		stats.Done += n
	case models.JobStatusError:
		stats.Error += n
	}
}
