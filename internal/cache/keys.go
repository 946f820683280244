package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// PromptHash fingerprints every input that changes an LLM response.
func PromptHash(system, user, model string, temperature float64, maxTokens int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", system, user, model,
		strconv.FormatFloat(temperature, 'f', -1, 64), maxTokens)
	return sha256Hex(raw)
}

// ResponseKey addresses a cached LLM response. The user is deliberately not part of the key.
func ResponseKey(action, targetKey, promptHash string) string {
	return "llm:cache:" + sha256Hex(action+"|"+targetKey+"|"+promptHash)
}

// RateLimitKey is the fixed-window request counter for an HTTP client.
func RateLimitKey(scope string) string {
	return fmt.Sprintf("ratelimit:%s", scope)
}

// LimiterStateKey holds a user's LLM admission window.
func LimiterStateKey(userID string) string {
	return fmt.Sprintf("llm:limit:%s", userID)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
