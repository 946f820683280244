package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/api"
	mw "github.com/kiranshivaraju/inboxpilot/internal/api/middleware"
	"github.com/kiranshivaraju/inboxpilot/internal/cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *stubCache) Ping(_ context.Context) error                                     { return nil }
func (c *stubCache) Close() error                                                     { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

const testKey = "ip_router_test_key"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{}}`))
	}
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(string(hash)),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		MetricsHandler:      promhttp.Handler(),
		CreateJobHandler:    ok,
		GetJobHandler:       ok,
		DebugStatusHandler:  ok,
		SuggestReplyHandler: ok,
		ChatResetHandler:    ok,
	})
}

var protected = []struct {
	method string
	path   string
}{
	{"POST", "/api/v1/llm/job"},
	{"GET", "/api/v1/llm/job/job_0123456789ab"},
	{"GET", "/api/v1/llm/debug/status"},
	{"POST", "/api/v1/llm/suggest-reply"},
	{"POST", "/api/v1/llm/chat/reset"},
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/v1/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t)

	for _, ep := range protected {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_ProtectedEndpoints_WithKey(t *testing.T) {
	router := newTestRouter(t)

	for _, ep := range protected {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, strings.NewReader(`{}`))
			req.Header.Set("X-API-Key", testKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/llm/triage", nil)
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

var _ cache.Cache = (*stubCache)(nil)
