// Package langchain adapts any langchaingo llms.Model to models.LLMProvider.
package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"github.com/tmc/langchaingo/llms"
)

type Provider struct {
	name string
	llm  llms.Model
}

func New(name string, llm llms.Model) *Provider {
	return &Provider{name: name, llm: llm}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	opts := []llms.CallOption{
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := p.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		return models.CompletionResponse{}, &models.ProviderError{
			Provider:   p.name,
			StatusCode: statusFromError(err),
			Message:    err.Error(),
		}
	}
	if len(resp.Choices) == 0 {
		return models.CompletionResponse{}, &models.ProviderError{Provider: p.name, Message: "no response choices"}
	}

	return models.CompletionResponse{Text: resp.Choices[0].Content, Model: req.Model}, nil
}

func toMessageContent(msgs []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// statusFromError recovers an HTTP status from langchaingo error text, which
// embeds it rather than exposing a typed error.
func statusFromError(err error) int {
	msg := err.Error()
	for _, code := range []int{429, 401, 402, 403, 500, 502, 503} {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}

var _ models.LLMProvider = (*Provider)(nil)
