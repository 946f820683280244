package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// SQLiteStore implements the Store interface on a local SQLite file. The pool is
// pinned to one connection so every write, including ClaimNext, is serialized.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type sqliteMigration struct {
	version int
	sql     string
}

var sqliteMigrations = []sqliteMigration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS llm_jobs (
	job_id        TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT 'default',
	session_id    TEXT,
	job_type      TEXT NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	attempts      INTEGER NOT NULL DEFAULT 0,
	next_run_at   INTEGER NOT NULL DEFAULT 0,
	result        TEXT,
	error_code    TEXT,
	error_message TEXT,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_jobs_claim ON llm_jobs (status, next_run_at, created_at);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, id);

CREATE TABLE IF NOT EXISTS llm_calls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT,
	action       TEXT NOT NULL,
	target_key   TEXT,
	model        TEXT NOT NULL,
	input_chars  INTEGER NOT NULL DEFAULT 0,
	output_chars INTEGER NOT NULL DEFAULT 0,
	cached       INTEGER NOT NULL DEFAULT 0,
	error_code   TEXT,
	created_at   INTEGER NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// jobRow mirrors llm_jobs; times are unix milliseconds and JSON columns are text.
type jobRow struct {
	ID           string         `db:"job_id"`
	UserID       string         `db:"user_id"`
	SessionID    sql.NullString `db:"session_id"`
	Type         string         `db:"job_type"`
	Payload      string         `db:"payload"`
	Status       string         `db:"status"`
	Attempts     int            `db:"attempts"`
	NextRunAt    int64          `db:"next_run_at"`
	Result       sql.NullString `db:"result"`
	ErrorCode    sql.NullString `db:"error_code"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r jobRow) toModel() *models.Job {
	j := &models.Job{
		ID:        r.ID,
		UserID:    r.UserID,
		SessionID: r.SessionID.String,
		Type:      models.JobType(r.Type),
		Payload:   []byte(r.Payload),
		Status:    models.JobStatus(r.Status),
		Attempts:  r.Attempts,
		NextRunAt: r.NextRunAt,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Result.Valid && r.Result.String != "" {
		j.Result = []byte(r.Result.String)
	}
	if r.ErrorCode.Valid {
		j.ErrorCode = strPtr(r.ErrorCode.String)
	}
	if r.ErrorMessage.Valid {
		j.ErrorMessage = strPtr(r.ErrorMessage.String)
	}
	return j
}

const sqliteJobColumns = `job_id, user_id, session_id, job_type, payload, status, attempts, next_run_at,
	result, error_code, error_message, created_at, updated_at`

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullJSONString(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// --- Jobs ---

func (s *SQLiteStore) Create(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	job.UserID = defaultUser(job.UserID)
	job.Status = models.JobStatusQueued
	job.Attempts = 0
	job.NextRunAt = 0

	sessionID := sql.NullString{String: job.SessionID, Valid: job.SessionID != ""}
	created := job.CreatedAt.UnixMilli()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_jobs (job_id, user_id, session_id, job_type, payload, status, attempts, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		job.ID, job.UserID, sessionID, string(job.Type), string(job.Payload), string(job.Status), created, created)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var r jobRow
	err := s.db.GetContext(ctx, &r, `SELECT `+sqliteJobColumns+` FROM llm_jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return r.toModel(), nil
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, now int64) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var r jobRow
	err = tx.GetContext(ctx, &r,
		`UPDATE llm_jobs SET status = 'processing', updated_at = ?
		 WHERE job_id = (
		   SELECT job_id FROM llm_jobs
		   WHERE status IN ('queued', 'retry_wait') AND next_run_at <= ?
		   ORDER BY created_at, job_id
		   LIMIT 1
		 ) AND status IN ('queued', 'retry_wait')
		 RETURNING `+sqliteJobColumns, s.nowMillis(), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return r.toModel(), nil
}

func (s *SQLiteStore) Update(ctx context.Context, jobID string, upd JobUpdate) error {
	inc := 0
	if incrementsAttempts(upd.Status) {
		inc = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE llm_jobs
		 SET status = ?, result = ?, error_code = ?, error_message = ?, next_run_at = ?,
		     attempts = attempts + ?, updated_at = ?
		 WHERE job_id = ? AND status = 'processing'`,
		string(upd.Status), nullJSONString(upd.Result), nullString(upd.ErrorCode), nullString(upd.ErrorMessage),
		upd.NextRunAt, inc, s.nowMillis(), jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return s.requireTransition(ctx, res, jobID)
}

func (s *SQLiteStore) Defer(ctx context.Context, jobID string, nextRunAt int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE llm_jobs
		 SET status = 'retry_wait', next_run_at = ?, error_code = ?, error_message = ?, updated_at = ?
		 WHERE job_id = ? AND status = 'processing'`,
		nextRunAt, models.ErrorCodeRateLimited, reason, s.nowMillis(), jobID)
	if err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	return s.requireTransition(ctx, res, jobID)
}

func (s *SQLiteStore) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats

	var counts []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS n FROM llm_jobs GROUP BY status`); err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	for _, c := range counts {
		addStatusCount(&stats, models.JobStatus(c.Status), c.N)
	}

	var last struct {
		Code    sql.NullString `db:"error_code"`
		Message sql.NullString `db:"error_message"`
	}
	err := s.db.GetContext(ctx, &last,
		`SELECT error_code, error_message FROM llm_jobs
		 WHERE status = 'error' ORDER BY updated_at DESC, job_id DESC LIMIT 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("last job error: %w", err)
	}
	if last.Code.Valid {
		stats.LastErrorCode = strPtr(last.Code.String)
	}
	if last.Message.Valid {
		stats.LastErrorMessage = strPtr(last.Message.String)
	}
	return stats, nil
}

func (s *SQLiteStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE llm_jobs SET status = 'queued', updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`, s.nowMillis(), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(n), nil
}

// --- Chat history ---

type chatRow struct {
	ID        int64  `db:"id"`
	SessionID string `db:"session_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	CreatedAt int64  `db:"created_at"`
}

func (s *SQLiteStore) AppendChatMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, s.nowMillis())
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ChatHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	var rows []chatRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}

	msgs := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, models.ChatMessage{
			ID:        strconv.FormatInt(r.ID, 10),
			SessionID: r.SessionID,
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		})
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) ClearChatHistory(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

// --- Call log ---

func (s *SQLiteStore) InsertCallLog(ctx context.Context, e models.CallLogEntry) error {
	created := s.nowMillis()
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (session_id, action, target_key, model, input_chars, output_chars, cached, error_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Action, e.TargetKey, e.Model, e.InputChars, e.OutputChars, e.Cached,
		sql.NullString{String: e.ErrorCode, Valid: e.ErrorCode != ""}, created)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

// CallLogCount returns the number of logged calls, optionally only cached ones.
func (s *SQLiteStore) CallLogCount(ctx context.Context, cachedOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM llm_calls`
	if cachedOnly {
		query += ` WHERE cached = 1`
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("count call log: %w", err)
	}
	return n, nil
}

// requireTransition tells a missing job apart from one that is no longer processing.
func (s *SQLiteStore) requireTransition(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(1) FROM llm_jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrNotProcessing
}
