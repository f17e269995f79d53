package ai

import (
	"fmt"

	"github.com/kiranshivaraju/riskscan/internal/ai/anthropic"
	"github.com/kiranshivaraju/riskscan/internal/ai/gemini"
	"github.com/kiranshivaraju/riskscan/internal/ai/mock"
	"github.com/kiranshivaraju/riskscan/internal/ai/ollama"
	"github.com/kiranshivaraju/riskscan/internal/ai/openai"
	"github.com/kiranshivaraju/riskscan/internal/ai/vllm"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// NewProvider constructs the named AI provider from config.
func NewProvider(name string, cfg config.AIConfig) (models.AIProvider, error) {
	switch name {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, gemini, mock", name)
	}
}

// NewChains builds the ordered text and multimodal provider chains. A
// provider named in both chains is constructed once and shared.
// Called once at server startup.
func NewChains(cfg config.AIConfig) (text, multimodal []models.AIProvider, err error) {
	built := make(map[string]models.AIProvider)
	get := func(name string) (models.AIProvider, error) {
		if p, ok := built[name]; ok {
			return p, nil
		}
		p, err := NewProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		built[name] = p
		return p, nil
	}

	for _, name := range cfg.TextProviders {
		p, err := get(name)
		if err != nil {
			return nil, nil, err
		}
		text = append(text, p)
	}
	for _, name := range cfg.MultiModalProviders {
		p, err := get(name)
		if err != nil {
			return nil, nil, err
		}
		if !p.SupportsMultiModal() {
			return nil, nil, fmt.Errorf("provider %q cannot serve the multimodal chain", name)
		}
		multimodal = append(multimodal, p)
	}
	if len(text) == 0 {
		return nil, nil, fmt.Errorf("%w: text", ErrNoProviders)
	}
	return text, multimodal, nil
}
