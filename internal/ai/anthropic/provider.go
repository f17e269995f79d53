package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 4096
	system     = "You are a content policy analyst. Respond only with the JSON object requested."
)

type messagesRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) SupportsMultiModal() bool { return false }

func (p *Provider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", aierr.TransportError(p.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", aierr.TransportError(p.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Debug("anthropic returned an error", "status_code", resp.StatusCode, "body_length", len(respBody))
		return "", aierr.StatusError(p.Name(), resp.StatusCode, string(respBody))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", aierr.DecodeError(p.Name(), err)
	}
	if parsed.Error != nil {
		return "", aierr.StatusError(p.Name(), resp.StatusCode, parsed.Error.Type+": "+parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", aierr.DecodeError(p.Name(), fmt.Errorf("no text block in response"))
	}
	return text.String(), nil
}

func (p *Provider) GenerateMultiModalContent(_ context.Context, _ models.MultiModalRequest) (string, error) {
	return "", aierr.NewCapabilityError(p.Name())
}

var _ models.AIProvider = (*Provider)(nil)
