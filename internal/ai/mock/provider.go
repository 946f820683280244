package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// DefaultResponse is a JSON object every job handler can parse.
const DefaultResponse = `{"classification":"human","suggested_action":"send","draft_body":"Thanks for your message. I will get back to you shortly.","notes":[],"items":[],"proposed_actions":[]}`

// MockProvider satisfies models.LLMProvider for testing and offline runs.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error)

	mu       sync.Mutex
	requests []models.CompletionRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return models.CompletionResponse{}, nil
}

// Calls returns how many times Complete ran.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []models.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewMockProvider returns a MockProvider answering every request with DefaultResponse.
func NewMockProvider() *MockProvider {
	return NewTextProvider(DefaultResponse)
}

// NewTextProvider returns a MockProvider that always answers with text.
func NewTextProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
			return models.CompletionResponse{Text: text, Model: req.Model}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (models.CompletionResponse, error) {
			return models.CompletionResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is done.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (models.CompletionResponse, error) {
			<-ctx.Done()
			return models.CompletionResponse{}, ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements LLMProvider.
var _ models.LLMProvider = (*MockProvider)(nil)
