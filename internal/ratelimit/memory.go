package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps admission state in process. One mutex serializes every check.
type MemoryLimiter struct {
	mu     sync.Mutex
	states map[string]State
	now    func() time.Time
}

func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	o := buildOptions(opts)
	return &MemoryLimiter{states: make(map[string]State), now: o.now}
}

func (l *MemoryLimiter) Check(_ context.Context, userID string, maxPerMinute int, minInterval time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, exists := l.states[userID]
	if !exists {
		st.UserID = userID
	}
	next, d, changed := evaluate(st, exists, l.now().Unix(), maxPerMinute, intervalSeconds(minInterval))
	if changed {
		l.states[userID] = next
	}
	return d, nil
}

func (l *MemoryLimiter) Status(_ context.Context, userID string) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[userID]
	if !ok {
		return State{UserID: userID}, nil
	}
	return st, nil
}
