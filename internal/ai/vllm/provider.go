// Package vllm serves completions from a self-hosted vLLM OpenAI-compatible server.
package vllm

import (
	"github.com/kiranshivaraju/inboxpilot/internal/ai/openai"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
)

// NewProvider returns an OpenAI-wire provider pointed at the vLLM base URL. vLLM
// does not require a key.
func NewProvider(cfg config.VLLMConfig) *openai.Provider {
	return openai.NewCompatible("vllm", cfg.BaseURL, "", nil)
}
