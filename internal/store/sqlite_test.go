package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "inboxpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newJob(id string, offset time.Duration) *models.Job {
	return &models.Job{
		ID:        id,
		Type:      models.JobTypeSuggestReply,
		Payload:   json.RawMessage(`{"key":"apple:1"}`),
		CreatedAt: baseTime.Add(offset),
	}
}

// --- shared behaviour, run against every Store implementation ---

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("job_a", 0)
	job.SessionID = "s1"
	job.Status = models.JobStatusDone
	job.Attempts = 7

	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUserID, got.UserID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, models.JobTypeSuggestReply, got.Type)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, int64(0), got.NextRunAt)
	assert.JSONEq(t, `{"key":"apple:1"}`, string(got.Payload))
	assert.Nil(t, got.Result)
	assert.Nil(t, got.ErrorCode)
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "job_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testClaimFIFO(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job_b", 2*time.Second)))
	require.NoError(t, s.Create(ctx, newJob("job_a", time.Second)))
	require.NoError(t, s.Create(ctx, newJob("job_c", 3*time.Second)))

	for _, want := range []string{"job_a", "job_b", "job_c"} {
		j, err := s.ClaimNext(ctx, time.Now().Unix())
		require.NoError(t, err)
		assert.Equal(t, want, j.ID)
		assert.Equal(t, models.JobStatusProcessing, j.Status)
	}

	_, err := s.ClaimNext(ctx, time.Now().Unix())
	assert.ErrorIs(t, err, store.ErrEmpty)
}

func claimOne(t *testing.T, s store.Store, now int64, want string) {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, want, j.ID)
}

func testClaimRespectsNextRunAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job_a", 0)))
	claimOne(t, s, 1, "job_a")
	require.NoError(t, s.Defer(ctx, "job_a", 1000, "rate limited (rpm), retrying in 999s"))

	_, err := s.ClaimNext(ctx, 999)
	assert.ErrorIs(t, err, store.ErrEmpty)

	j, err := s.ClaimNext(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, "job_a", j.ID)
}

func testConcurrentClaimIsExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	const jobs = 10
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.Create(ctx, newJob("job_"+string(rune('a'+i)), time.Duration(i)*time.Second)))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(ctx, time.Now().Unix())
				if err != nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func testUpdateAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job_a", 0)))
	claimOne(t, s, 1, "job_a")

	code := models.ErrorCodeRateLimited
	msg := "429 too many requests"
	require.NoError(t, s.Update(ctx, "job_a", store.JobUpdate{
		Status: models.JobStatusRetryWait, ErrorCode: &code, ErrorMessage: &msg, NextRunAt: 42,
	}))
	j, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, int64(42), j.NextRunAt)
	require.NotNil(t, j.ErrorCode)
	assert.Equal(t, models.ErrorCodeRateLimited, *j.ErrorCode)

	claimOne(t, s, 42, "job_a")
	require.NoError(t, s.Defer(ctx, "job_a", 50, "rate limited (cooldown), retrying in 8s"))
	j, err = s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts, "defer must not count an attempt")
	assert.Equal(t, models.JobStatusRetryWait, j.Status)
	require.NotNil(t, j.ErrorMessage)
	assert.Equal(t, "rate limited (cooldown), retrying in 8s", *j.ErrorMessage)

	claimOne(t, s, 50, "job_a")
	require.NoError(t, s.Update(ctx, "job_a", store.JobUpdate{
		Status: models.JobStatusDone, Result: json.RawMessage(`{"draft_body":"ok"}`),
	}))
	j, err = s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, models.JobStatusDone, j.Status)
	assert.JSONEq(t, `{"draft_body":"ok"}`, string(j.Result))
	assert.Nil(t, j.ErrorCode)
}

func testUpdateNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.Update(ctx, "job_missing", store.JobUpdate{Status: models.JobStatusDone}), store.ErrNotFound)
	assert.ErrorIs(t, s.Defer(ctx, "job_missing", 1, "rpm"), store.ErrNotFound)
}

func testTerminalStatesAreFinal(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job_a", 0)))
	require.NoError(t, s.Create(ctx, newJob("job_b", time.Second)))
	require.NoError(t, s.Create(ctx, newJob("job_c", 2*time.Second)))

	// Not yet claimed.
	assert.ErrorIs(t, s.Update(ctx, "job_a", store.JobUpdate{Status: models.JobStatusDone}), store.ErrNotProcessing)
	assert.ErrorIs(t, s.Defer(ctx, "job_a", 10, "rpm"), store.ErrNotProcessing)

	claimOne(t, s, 1, "job_a")
	claimOne(t, s, 1, "job_b")
	require.NoError(t, s.Update(ctx, "job_a", store.JobUpdate{Status: models.JobStatusDone, Result: json.RawMessage(`{"ok":true}`)}))
	code := models.ErrorCodeAuthOrBilling
	msg := "invalid_api_key"
	require.NoError(t, s.Update(ctx, "job_b", store.JobUpdate{Status: models.JobStatusError, ErrorCode: &code, ErrorMessage: &msg}))

	retry := models.ErrorCodeRateLimited
	for _, id := range []string{"job_a", "job_b"} {
		assert.ErrorIs(t, s.Update(ctx, id, store.JobUpdate{Status: models.JobStatusRetryWait, ErrorCode: &retry, NextRunAt: 5}), store.ErrNotProcessing)
		assert.ErrorIs(t, s.Defer(ctx, id, 5, "rpm"), store.ErrNotProcessing)
	}

	done, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, done.Status)
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))
	assert.Equal(t, 0, done.Attempts)

	failed, err := s.Get(ctx, "job_b")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, failed.Status)
	assert.Equal(t, 1, failed.Attempts)

	// Neither terminal job is handed out again.
	claimOne(t, s, 100, "job_c")
	_, err = s.ClaimNext(ctx, 100)
	assert.ErrorIs(t, err, store.ErrEmpty)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{}, stats)

	for i, id := range []string{"job_a", "job_b", "job_c", "job_d", "job_e"} {
		require.NoError(t, s.Create(ctx, newJob(id, time.Duration(i)*time.Second)))
	}
	for _, id := range []string{"job_a", "job_b", "job_c", "job_d"} {
		claimOne(t, s, time.Now().Unix(), id)
	}
	require.NoError(t, s.Update(ctx, "job_b", store.JobUpdate{Status: models.JobStatusDone, Result: json.RawMessage(`{}`)}))
	code := models.ErrorCodeAuthOrBilling
	msg := "invalid_api_key"
	require.NoError(t, s.Update(ctx, "job_c", store.JobUpdate{Status: models.JobStatusError, ErrorCode: &code, ErrorMessage: &msg}))
	require.NoError(t, s.Defer(ctx, "job_d", 10, "rate limited (rpm), retrying in 10s"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 1, stats.Error)
	require.NotNil(t, stats.LastErrorCode)
	assert.Equal(t, models.ErrorCodeAuthOrBilling, *stats.LastErrorCode)
	require.NotNil(t, stats.LastErrorMessage)
	assert.Equal(t, "invalid_api_key", *stats.LastErrorMessage)
}

func testRequeueStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job_a", 0)))
	_, err := s.ClaimNext(ctx, time.Now().Unix())
	require.NoError(t, err)

	n, err := s.RequeueStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.RequeueStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, j.Status)
}

func testChatHistory(t *testing.T, s store.Store) {
	ctx := context.Background()

	msgs, err := s.ChatHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, c := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.AppendChatMessage(ctx, "s1", models.RoleUser, c))
	}
	require.NoError(t, s.AppendChatMessage(ctx, "s2", models.RoleUser, "other"))

	msgs, err = s.ChatHistory(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "four", msgs[2].Content)

	require.NoError(t, s.ClearChatHistory(ctx, "s1"))
	msgs, err = s.ChatHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.ChatHistory(ctx, "s2", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testInsertCallLog(t *testing.T, s store.Store) {
	err := s.InsertCallLog(context.Background(), models.CallLogEntry{
		SessionID: "s1", Action: "suggest_reply", TargetKey: "apple:1", Model: "gpt-4.1-mini",
		InputChars: 120, OutputChars: 40, Cached: true,
	})
	assert.NoError(t, err)
}

var storeCases = []struct {
	name string
	fn   func(*testing.T, store.Store)
}{
	{"CreateAndGet", testCreateAndGet},
	{"GetNotFound", testGetNotFound},
	{"ClaimFIFO", testClaimFIFO},
	{"ClaimRespectsNextRunAt", testClaimRespectsNextRunAt},
	{"ConcurrentClaimIsExclusive", testConcurrentClaimIsExclusive},
	{"UpdateAttempts", testUpdateAttempts},
	{"UpdateNotFound", testUpdateNotFound},
	{"TerminalStatesAreFinal", testTerminalStatesAreFinal},
	{"Stats", testStats},
	{"RequeueStale", testRequeueStale},
	{"ChatHistory", testChatHistory},
	{"InsertCallLog", testInsertCallLog},
}

func TestSQLiteStore(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, setupSQLite(t))
		})
	}
}

func TestSQLiteStore_CallLogCount(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertCallLog(ctx, models.CallLogEntry{Action: "triage", Model: "m"}))
	require.NoError(t, s.InsertCallLog(ctx, models.CallLogEntry{Action: "triage", Model: "m", Cached: true}))

	n, err := s.CallLogCount(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CallLogCount(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inboxpilot.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newJob("job_a", 0)))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	j, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, "job_a", j.ID)
}
