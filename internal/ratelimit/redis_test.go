package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLimiter_StatusUnknownUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	l := NewRedisLimiter(setupRedisClient(t))

	st, err := l.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, State{UserID: "nobody"}, st)
}

func TestRedisLimiter_WindowAndCooldown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	clock := newTestClock()
	l := NewRedisLimiter(setupRedisClient(t), WithClock(clock.Now))
	ctx := context.Background()

	d, err := l.Check(ctx, "default", 2, 3*time.Second)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(time.Second)
	d, err = l.Check(ctx, "default", 2, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, d.Reason)

	clock.Advance(3 * time.Second)
	d, err = l.Check(ctx, "default", 2, 3*time.Second)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(3 * time.Second)
	d, err = l.Check(ctx, "default", 2, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReasonRPM, d.Reason)

	st, err := l.Status(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, st.WindowCount)
	assert.Equal(t, int64(1_700_000_004), st.LastCallAt)
}

func TestRedisLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	clock := newTestClock()
	l := NewRedisLimiter(setupRedisClient(t), WithClock(clock.Now))
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "default", 5, 0)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admitted.Load(), int32(5))
	assert.Positive(t, admitted.Load())
}
