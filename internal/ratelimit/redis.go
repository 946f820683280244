package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/cache"
	"github.com/redis/go-redis/v9"
)

const (
	maxTxRetries = 10
	stateTTL     = 24 * time.Hour
)

// RedisLimiter stores admission state in a Redis hash per user. Check runs as an
// optimistic WATCH/MULTI transaction so concurrent processes cannot double-admit.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, opts ...Option) *RedisLimiter {
	o := buildOptions(opts)
	return &RedisLimiter{client: client, now: o.now}
}

func (l *RedisLimiter) Check(ctx context.Context, userID string, maxPerMinute int, minInterval time.Duration) (Decision, error) {
	key := cache.LimiterStateKey(userID)

	var decision Decision
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		st, exists := parseState(userID, fields)

		next, d, changed := evaluate(st, exists, l.now().Unix(), maxPerMinute, intervalSeconds(minInterval))
		decision = d
		if !changed {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"window_start", next.WindowStart,
				"window_count", next.WindowCount,
				"last_call_at", next.LastCallAt,
			)
			pipe.Expire(ctx, key, stateTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			return decision, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	return Decision{}, fmt.Errorf("rate limit check: too much contention on %s", key)
}

func (l *RedisLimiter) Status(ctx context.Context, userID string) (State, error) {
	fields, err := l.client.HGetAll(ctx, cache.LimiterStateKey(userID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("rate limit status: %w", err)
	}
	st, _ := parseState(userID, fields)
	return st, nil
}

func parseState(userID string, fields map[string]string) (State, bool) {
	st := State{UserID: userID}
	if len(fields) == 0 {
		return st, false
	}
	st.WindowStart, _ = strconv.ParseInt(fields["window_start"], 10, 64)
	count, _ := strconv.Atoi(fields["window_count"])
	st.WindowCount = count
	st.LastCallAt, _ = strconv.ParseInt(fields["last_call_at"], 10, 64)
	return st, true
}
