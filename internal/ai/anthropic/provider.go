package anthropic

import (
	"fmt"

	"github.com/kiranshivaraju/inboxpilot/internal/ai/langchain"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/tmc/langchaingo/llms/anthropic"
)

// NewProvider builds an Anthropic provider. The model passed per request wins over model.
func NewProvider(cfg config.AnthropicConfig, model string) (*langchain.Provider, error) {
	llm, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return langchain.New("anthropic", llm), nil
}
