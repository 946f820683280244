package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultResponseTTL keeps LLM responses for seven days.
const DefaultResponseTTL = 7 * 24 * time.Hour

// Entry is a cached LLM response.
type Entry struct {
	Response   string `json:"response"`
	CreatedAt  int64  `json:"created_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// ResponseCache stores LLM outputs in a Cache and enforces TTL on read, deleting
// entries that have outlived it.
type ResponseCache struct {
	cache Cache
	now   func() time.Time
}

// ResponseCacheOption configures a ResponseCache.
type ResponseCacheOption func(*ResponseCache)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) ResponseCacheOption {
	return func(rc *ResponseCache) { rc.now = now }
}

func NewResponseCache(c Cache, opts ...ResponseCacheOption) *ResponseCache {
	rc := &ResponseCache{cache: c, now: time.Now}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Get returns the entry for key. An entry older than its TTL is a miss and is removed.
func (rc *ResponseCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := rc.cache.Get(ctx, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cached response: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = rc.cache.Delete(ctx, key)
		return Entry{}, false, nil
	}

	if rc.now().Unix()-e.CreatedAt > e.TTLSeconds {
		if err := rc.cache.Delete(ctx, key); err != nil {
			return Entry{}, false, fmt.Errorf("purge expired response: %w", err)
		}
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores response under key. A non-positive ttl selects DefaultResponseTTL.
func (rc *ResponseCache) Set(ctx context.Context, key, response string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	e := Entry{
		Response:   response,
		CreatedAt:  rc.now().Unix(),
		TTLSeconds: int64(ttl / time.Second),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	// Backing expiry trails the logical TTL; Get enforces the exact one.
	if err := rc.cache.Set(ctx, key, raw, ttl+24*time.Hour); err != nil {
		return fmt.Errorf("set cached response: %w", err)
	}
	return nil
}
