package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"google.golang.org/genai"
)

// Provider implements models.LLMProvider on the Gemini API.
type Provider struct {
	client *genai.Client
}

func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: c}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	system, contents := toContents(req.Messages)

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     genai.Ptr(float32(req.Temperature)),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return models.CompletionResponse{}, &models.ProviderError{
				Provider:   "gemini",
				StatusCode: apiErr.Code,
				Message:    apiErr.Message,
			}
		}
		return models.CompletionResponse{}, fmt.Errorf("gemini generate: %w", err)
	}

	out := models.CompletionResponse{Text: resp.Text(), Model: req.Model}
	if resp.UsageMetadata != nil {
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// toContents lifts system turns into a single system instruction; Gemini has no
// system role in the conversation itself.
func toContents(msgs []models.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
			continue
		case models.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}

var _ models.LLMProvider = (*Provider)(nil)
