// Package ratelimit admits LLM calls per user with a 60s window counter and a
// minimum interval between consecutive calls.
package ratelimit

import (
	"context"
	"time"
)

// WindowSeconds is the length of the counting window.
const WindowSeconds = 60

// Reason explains a rejection.
type Reason string

const (
	ReasonRPM      Reason = "rpm"
	ReasonCooldown Reason = "cooldown"
)

// Decision is the outcome of a Check. RetryAfter is in seconds and only set on rejection.
type Decision struct {
	Allowed    bool   `json:"ok"`
	Reason     Reason `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// State is the per-user admission record. Timestamps are unix seconds.
type State struct {
	UserID      string `json:"user_id"`
	WindowStart int64  `json:"window_start"`
	WindowCount int    `json:"window_count"`
	LastCallAt  int64  `json:"last_call_at"`
}

// Limiter checks and records LLM call admissions. Check must be atomic per user.
type Limiter interface {
	Check(ctx context.Context, userID string, maxPerMinute int, minInterval time.Duration) (Decision, error)
	Status(ctx context.Context, userID string) (State, error)
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// evaluate applies the admission rules to the stored state. It returns the state to
// persist and whether it changed; rejected checks leave the stored record untouched.
func evaluate(st State, exists bool, now int64, maxPerMinute int, minInterval int64) (State, Decision, bool) {
	if !exists {
		return State{UserID: st.UserID, WindowStart: now, WindowCount: 1, LastCallAt: now}, Decision{Allowed: true}, true
	}

	if now-st.WindowStart > WindowSeconds {
		st.WindowStart = now
		st.WindowCount = 0
	}

	if st.WindowCount >= maxPerMinute {
		return st, Decision{Reason: ReasonRPM, RetryAfter: WindowSeconds - (now - st.WindowStart)}, false
	}

	if minInterval > 0 && st.LastCallAt > 0 && now-st.LastCallAt < minInterval {
		return st, Decision{Reason: ReasonCooldown, RetryAfter: minInterval - (now - st.LastCallAt)}, false
	}

	st.WindowCount++
	st.LastCallAt = now
	return st, Decision{Allowed: true}, true
}

func intervalSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
