package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestEvaluate_FirstCallCreatesRecord(t *testing.T) {
	st, d, changed := evaluate(State{UserID: "u"}, false, 100, 20, 3)
	assert.True(t, d.Allowed)
	assert.True(t, changed)
	assert.Equal(t, State{UserID: "u", WindowStart: 100, WindowCount: 1, LastCallAt: 100}, st)
}

func TestEvaluate_RPMRejection(t *testing.T) {
	st := State{UserID: "u", WindowStart: 100, WindowCount: 20, LastCallAt: 100}

	_, d, changed := evaluate(st, true, 159, 20, 3)
	assert.False(t, d.Allowed)
	assert.False(t, changed)
	assert.Equal(t, ReasonRPM, d.Reason)
	assert.Equal(t, int64(1), d.RetryAfter)
}

func TestEvaluate_WindowResetAfterSixtySeconds(t *testing.T) {
	st := State{UserID: "u", WindowStart: 100, WindowCount: 20, LastCallAt: 100}

	next, d, changed := evaluate(st, true, 161, 20, 3)
	assert.True(t, d.Allowed)
	assert.True(t, changed)
	assert.Equal(t, int64(161), next.WindowStart)
	assert.Equal(t, 1, next.WindowCount)
	assert.Equal(t, int64(161), next.LastCallAt)
}

func TestEvaluate_ExactlySixtySecondsIsSameWindow(t *testing.T) {
	st := State{UserID: "u", WindowStart: 100, WindowCount: 20, LastCallAt: 100}

	_, d, _ := evaluate(st, true, 160, 20, 3)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRPM, d.Reason)
	assert.Equal(t, int64(0), d.RetryAfter)
}

func TestEvaluate_Cooldown(t *testing.T) {
	st := State{UserID: "u", WindowStart: 100, WindowCount: 1, LastCallAt: 100}

	_, d, changed := evaluate(st, true, 101, 20, 3)
	assert.False(t, d.Allowed)
	assert.False(t, changed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, int64(2), d.RetryAfter)

	_, d, _ = evaluate(st, true, 103, 20, 3)
	assert.True(t, d.Allowed)
}

func TestEvaluate_ZeroIntervalDisablesCooldown(t *testing.T) {
	st := State{UserID: "u", WindowStart: 100, WindowCount: 1, LastCallAt: 100}

	_, d, _ := evaluate(st, true, 100, 20, 0)
	assert.True(t, d.Allowed)
}

func TestEvaluate_RejectionDoesNotPersistReset(t *testing.T) {
	// Window expired but cooldown still applies: the reset must not be reported as a change.
	st := State{UserID: "u", WindowStart: 100, WindowCount: 5, LastCallAt: 160}

	_, d, changed := evaluate(st, true, 161, 20, 3)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.False(t, changed)
}

func TestMemoryLimiter_StatusUnknownUser(t *testing.T) {
	l := NewMemoryLimiter()

	st, err := l.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, State{UserID: "nobody"}, st)
}

func TestMemoryLimiter_TwentyFirstCallRejected(t *testing.T) {
	clock := newTestClock()
	l := NewMemoryLimiter(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		d, err := l.Check(ctx, "default", 20, 0)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d should be admitted", i+1)
		clock.Advance(time.Second)
	}

	d, err := l.Check(ctx, "default", 20, 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRPM, d.Reason)
	assert.Equal(t, int64(40), d.RetryAfter)

	st, err := l.Status(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 20, st.WindowCount)
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	clock := newTestClock()
	l := NewMemoryLimiter(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := l.Check(ctx, "default", 20, 0)
		require.NoError(t, err)
	}

	clock.Advance(59 * time.Second)
	d, err := l.Check(ctx, "default", 20, 3*time.Second)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRPM, d.Reason)

	clock.Advance(2 * time.Second)
	d, err = l.Check(ctx, "default", 20, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Cooldown(t *testing.T) {
	clock := newTestClock()
	l := NewMemoryLimiter(WithClock(clock.Now))
	ctx := context.Background()

	d, err := l.Check(ctx, "default", 20, 3*time.Second)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(time.Second)
	d, err = l.Check(ctx, "default", 20, 3*time.Second)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, int64(2), d.RetryAfter)

	clock.Advance(2 * time.Second)
	d, err = l.Check(ctx, "default", 20, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_UsersAreIndependent(t *testing.T) {
	clock := newTestClock()
	l := NewMemoryLimiter(WithClock(clock.Now))
	ctx := context.Background()

	d, _ := l.Check(ctx, "a", 1, 0)
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "a", 1, 0)
	require.False(t, d.Allowed)

	d, _ = l.Check(ctx, "b", 1, 0)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	clock := newTestClock()
	l := NewMemoryLimiter(WithClock(clock.Now))
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "default", 20, 0)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), admitted.Load())
}
