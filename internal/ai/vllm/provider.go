package vllm

import (
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kiranshivaraju/riskscan/internal/ai/openai"
	"github.com/kiranshivaraju/riskscan/internal/config"
)

// NewProvider returns a provider for a vLLM server's OpenAI-compatible API.
func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *openai.Provider {
	clientCfg := goopenai.DefaultConfig("")
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1"
	return openai.NewCompatible("vllm", cfg.Model, clientCfg, timeout)
}
