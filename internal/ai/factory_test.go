package ai_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Ollama(t *testing.T) {
	cfg := config.LLMConfig{
		Provider: "ollama",
		Model:    "llama3",
		Ollama:   config.OllamaConfig{BaseURL: "http://localhost:11434"},
	}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestNewProvider_VLLM(t *testing.T) {
	cfg := config.LLMConfig{
		Provider: "vllm",
		VLLM:     config.VLLMConfig{BaseURL: "http://localhost:8000/v1"},
	}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "vllm", p.Name())
}

func TestNewProvider_OpenAI(t *testing.T) {
	cfg := config.LLMConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", BaseURL: "https://api.openai.com/v1"},
	}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProvider_Anthropic(t *testing.T) {
	cfg := config.LLMConfig{
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5-20250929",
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant-test"},
	}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestNewProvider_Gemini(t *testing.T) {
	cfg := config.LLMConfig{
		Provider: "gemini",
		Gemini:   config.GeminiConfig{APIKey: "gm-test"},
	}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestNewProvider_GeminiRequiresKey(t *testing.T) {
	_, err := ai.NewProvider(context.Background(), config.LLMConfig{Provider: "gemini"})
	require.Error(t, err)
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := ai.NewProvider(context.Background(), config.LLMConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "unknown-provider"}
	_, err := ai.NewProvider(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProvider_Empty(t *testing.T) {
	_, err := ai.NewProvider(context.Background(), config.LLMConfig{Provider: ""})
	require.Error(t, err)
}
