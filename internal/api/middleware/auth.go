package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// Auth checks the X-API-Key header against a bcrypt hash.
type Auth struct {
	keyHash []byte
}

// NewAuth creates a new Auth middleware. An empty hash disables authentication.
func NewAuth(keyHash string) *Auth {
	return &Auth{keyHash: []byte(strings.TrimSpace(keyHash))}
}

// Enabled reports whether requests must carry a key.
func (a *Auth) Enabled() bool {
	return len(a.keyHash) > 0
}

// Authenticate rejects requests whose X-API-Key does not match the configured
// hash and stores the client identity for the rate limiter.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing X-API-Key header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.keyHash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		ctx := setClientID(r.Context(), keyFingerprint(rawKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// keyFingerprint identifies a caller without keeping the key itself.
func keyFingerprint(rawKey string) string {
	const n = 8
	if len(rawKey) <= n {
		return "key:" + rawKey[:len(rawKey)/2]
	}
	return "key:" + rawKey[:n]
}
