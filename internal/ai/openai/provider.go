package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

const systemPrompt = "You are a content policy analyst. Respond only with the JSON object requested."

// Provider implements models.AIProvider using the OpenAI chat completions API
// or any server that speaks it.
type Provider struct {
	name   string
	model  string
	client *goopenai.Client
}

// NewProvider creates an OpenAI provider. timeout bounds a single call.
func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return NewCompatible("openai", cfg.Model, clientCfg, timeout)
}

// NewCompatible creates a provider for an OpenAI-compatible endpoint.
func NewCompatible(name, model string, clientCfg goopenai.ClientConfig, timeout time.Duration) *Provider {
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	slog.Info("initializing openai-compatible provider", "provider", name, "model", model)
	return &Provider{
		name:   name,
		model:  model,
		client: goopenai.NewClientWithConfig(clientCfg),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsMultiModal() bool { return false }

func (p *Provider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", p.classifyError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", aierr.DecodeError(p.name, fmt.Errorf("no choices in response"))
	}
	slog.Debug("received response", "provider", p.name, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) GenerateMultiModalContent(_ context.Context, _ models.MultiModalRequest) (string, error) {
	return "", aierr.NewCapabilityError(p.name)
}

func (p *Provider) classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return aierr.StatusError(p.name, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return aierr.StatusError(p.name, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return aierr.TransportError(p.name, err)
}

var _ models.AIProvider = (*Provider)(nil)
