package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Provider implements models.AIProvider using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) SupportsMultiModal() bool { return false }

func (p *Provider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   p.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		if resp.StatusCode == http.StatusNotFound {
			return "", aierr.StatusError(p.Name(), resp.StatusCode,
				fmt.Sprintf("model %q not found, pull it first: %s", p.cfg.Model, respBody))
		}
		return "", aierr.StatusError(p.Name(), resp.StatusCode, string(respBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", aierr.DecodeError(p.Name(), err)
	}
	if parsed.Error != "" {
		return "", aierr.StatusError(p.Name(), resp.StatusCode, parsed.Error)
	}
	return parsed.Response, nil
}

func (p *Provider) GenerateMultiModalContent(_ context.Context, _ models.MultiModalRequest) (string, error) {
	return "", aierr.NewCapabilityError(p.Name())
}

var _ models.AIProvider = (*Provider)(nil)
