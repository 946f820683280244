package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	ErrInvalidResponse     = errors.New("llm provider returned invalid response")
)

// CallError is the classified failure of an LLM call. Code is one of the
// models.ErrorCode* values the worker uses to pick a retry strategy.
type CallError struct {
	Code    string
	Message string
	Err     error
}

func (e *CallError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *CallError) Unwrap() error { return e.Err }

// Classify maps a provider failure onto a CallError. The HTTP status wins when the
// provider reported one; otherwise the message text decides.
func Classify(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}

	out := &CallError{Code: models.ErrorCodeUnknown, Message: err.Error(), Err: err}

	var pe *models.ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusTooManyRequests:
			out.Code = models.ErrorCodeRateLimited
			return out
		case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden:
			out.Code = models.ErrorCodeAuthOrBilling
			return out
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		out.Code = models.ErrorCodeTimeout
		return out
	}

	out.Code = ClassifyText(err.Error())
	return out
}

// ClassifyText applies the keyword rules to a bare failure message.
func ClassifyText(reason string) string {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "429") || strings.Contains(r, "rate") || strings.Contains(r, "limite"):
		return models.ErrorCodeRateLimited
	case strings.Contains(r, "auth") || strings.Contains(r, "billing") ||
		strings.Contains(r, "invalid_api_key") || strings.Contains(r, "401") || strings.Contains(r, "403"):
		return models.ErrorCodeAuthOrBilling
	case strings.Contains(r, "timeout") || strings.Contains(r, "timed out") || strings.Contains(r, "deadline exceeded"):
		return models.ErrorCodeTimeout
	default:
		return models.ErrorCodeUnknown
	}
}
