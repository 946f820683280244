// Package openai talks to any OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const maxErrorBody = 200

// Provider implements models.LLMProvider using the chat completions API.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return NewCompatible("openai", cfg.BaseURL, cfg.APIKey, nil)
}

// NewCompatible builds a provider for any server speaking the same wire format.
// An empty apiKey omits the Authorization header.
func NewCompatible(name, baseURL, apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Provider{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (p *Provider) Name() string { return p.name }

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []models.Message `json:"messages"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("%s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("%s read response: %w", p.name, err)
	}

	if resp.StatusCode >= 300 {
		return models.CompletionResponse{}, &models.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.CompletionResponse{}, fmt.Errorf("%s decode response: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return models.CompletionResponse{}, &models.ProviderError{Provider: p.name, Message: "response has no choices"}
	}

	return models.CompletionResponse{
		Text:         out.Choices[0].Message.Content,
		Model:        out.Model,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func errorMessage(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		msg := e.Error.Message
		if code, ok := e.Error.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
		return msg
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

var _ models.LLMProvider = (*Provider)(nil)
