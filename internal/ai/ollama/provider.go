package ollama

import (
	"fmt"

	"github.com/kiranshivaraju/inboxpilot/internal/ai/langchain"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/tmc/langchaingo/llms/ollama"
)

func NewProvider(cfg config.OllamaConfig, model string) (*langchain.Provider, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return langchain.New("ollama", llm), nil
}
