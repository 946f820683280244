package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"status 429", &models.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}, models.ErrorCodeRateLimited},
		{"status 401", &models.ProviderError{Provider: "openai", StatusCode: 401, Message: "nope"}, models.ErrorCodeAuthOrBilling},
		{"status 403", &models.ProviderError{Provider: "openai", StatusCode: 403, Message: "nope"}, models.ErrorCodeAuthOrBilling},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), models.ErrorCodeTimeout},
		{"rate text", errors.New("Rate limit reached for requests"), models.ErrorCodeRateLimited},
		{"limite text", errors.New("Limite de requisicoes atingido"), models.ErrorCodeRateLimited},
		{"billing text", errors.New("billing hard limit"), models.ErrorCodeAuthOrBilling},
		{"invalid key text", errors.New("invalid_api_key: Incorrect API key provided"), models.ErrorCodeAuthOrBilling},
		{"timeout text", errors.New("read tcp: i/o timeout"), models.ErrorCodeTimeout},
		{"other", errors.New("connection refused"), models.ErrorCodeUnknown},
		{"status 500 falls back to text", &models.ProviderError{Provider: "openai", StatusCode: 500, Message: "server exploded"}, models.ErrorCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ai.Classify(tt.err)
			assert.Equal(t, tt.want, ce.Code)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, ai.Classify(nil))
}

func TestClassify_PassesThroughCallError(t *testing.T) {
	orig := &ai.CallError{Code: models.ErrorCodeTimeout, Message: "slow"}
	assert.Same(t, orig, ai.Classify(fmt.Errorf("wrapped: %w", orig)))
}

func TestCallError_Error(t *testing.T) {
	e := &ai.CallError{Code: models.ErrorCodeRateLimited, Message: "429"}
	assert.Equal(t, "rate_limited: 429", e.Error())
}

func TestSentinelErrors(t *testing.T) {
	assert.NotEqual(t, ai.ErrProviderUnavailable, ai.ErrInvalidResponse)
}
