package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/inboxpilot/internal/ai/anthropic"
	"github.com/kiranshivaraju/inboxpilot/internal/ai/gemini"
	"github.com/kiranshivaraju/inboxpilot/internal/ai/mock"
	"github.com/kiranshivaraju/inboxpilot/internal/ai/ollama"
	"github.com/kiranshivaraju/inboxpilot/internal/ai/openai"
	"github.com/kiranshivaraju/inboxpilot/internal/ai/vllm"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// NewProvider constructs the appropriate LLM provider based on config.
// Called once at server startup.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (models.LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.Model)
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.Model)
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini)
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: must be one of openai, vllm, ollama, anthropic, gemini, mock", cfg.Provider)
	}
}
