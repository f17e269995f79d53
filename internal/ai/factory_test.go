package ai_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ai"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		InferenceTimeout: 30 * time.Second,
		Ollama:           config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
		VLLM:             config.VLLMConfig{BaseURL: "http://localhost:8000", Model: "mistral-7b"},
		OpenAI:           config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
		Anthropic:        config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929"},
		Gemini:           config.GeminiConfig{APIKey: "g-test", Model: "gemini-2.0-flash", BaseURL: "http://localhost:9"},
	}
}

func TestNewProvider_AllKnown(t *testing.T) {
	tests := []struct {
		name       string
		multimodal bool
	}{
		{"ollama", false},
		{"vllm", false},
		{"openai", false},
		{"anthropic", false},
		{"gemini", true},
		{"mock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ai.NewProvider(tt.name, testAIConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
			assert.Equal(t, tt.multimodal, p.SupportsMultiModal())
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := ai.NewProvider("unknown-provider", testAIConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProvider_Empty(t *testing.T) {
	_, err := ai.NewProvider("", testAIConfig())
	require.Error(t, err)
}

func TestNewChains_OrderAndSharing(t *testing.T) {
	cfg := testAIConfig()
	cfg.TextProviders = []string{"openai", "mock", "ollama"}
	cfg.MultiModalProviders = []string{"gemini", "mock"}

	text, mm, err := ai.NewChains(cfg)
	require.NoError(t, err)

	require.Len(t, text, 3)
	assert.Equal(t, "openai", text[0].Name())
	assert.Equal(t, "ollama", text[2].Name())
	require.Len(t, mm, 2)
	assert.Equal(t, "gemini", mm[0].Name())
	assert.Same(t, text[1], mm[1], "a provider in both chains is built once")
}

func TestNewChains_RejectsTextOnlyInMultimodalChain(t *testing.T) {
	cfg := testAIConfig()
	cfg.TextProviders = []string{"ollama"}
	cfg.MultiModalProviders = []string{"openai"}

	_, _, err := ai.NewChains(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestNewChains_RequiresTextProvider(t *testing.T) {
	cfg := testAIConfig()
	cfg.MultiModalProviders = []string{"gemini"}

	_, _, err := ai.NewChains(cfg)
	assert.ErrorIs(t, err, ai.ErrNoProviders)
}
