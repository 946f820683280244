// Package models contains shared data models used across the InboxPilot codebase.
package models

import (
	"context"
	"fmt"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMProvider is the core interface that all LLM integrations must implement.
// Never call specific providers directly, always inject this interface.
type LLMProvider interface {
	// Complete sends one chat completion request and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string
}

// Message is one role/content turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral input to a chat completion.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// CompletionResponse is the provider-neutral output of a chat completion.
type CompletionResponse struct {
	Text         string
	Model        string
	OutputTokens int
}

// ProviderError is returned by providers when the upstream API rejects a call.
// StatusCode is zero when the failure happened before an HTTP response was read.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// CallLogEntry is one row of the append-only LLM call audit log.
type CallLogEntry struct {
	SessionID   string    `json:"session_id"`
	Action      string    `json:"action"`
	TargetKey   string    `json:"target_key"`
	Model       string    `json:"model"`
	InputChars  int       `json:"input_chars"`
	OutputChars int       `json:"output_chars"`
	Cached      bool      `json:"cached"`
	ErrorCode   string    `json:"error_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is a stored turn of an assistant chat session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
