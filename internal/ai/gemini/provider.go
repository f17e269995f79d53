package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// maxInlineBytes is the largest media file sent inline with a request.
const maxInlineBytes = 20 << 20

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *blobData `json:"inline_data,omitempty"`
	FileData   *fileData `json:"file_data,omitempty"`
}

type blobData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Provider implements models.AIProvider using the Gemini generateContent API.
// It is the only adapter that accepts video input.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) SupportsMultiModal() bool { return true }

func (p *Provider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, []part{{Text: prompt}})
}

// GenerateMultiModalContent sends the media alongside the prompt. Remote
// references (http, https, gs) are passed by URI; local files are inlined.
func (p *Provider) GenerateMultiModalContent(ctx context.Context, req models.MultiModalRequest) (string, error) {
	media, err := mediaPart(req.MediaRef)
	if err != nil {
		return "", &aierr.ProviderError{Kind: aierr.KindFatal, Provider: p.Name(), Err: err}
	}

	parts := []part{media, {Text: req.Prompt}}
	if req.AuxText != "" {
		parts = append(parts, part{Text: "Transcript:\n" + req.AuxText})
	}
	if len(req.Metadata) > 0 {
		parts = append(parts, part{Text: "Metadata:\n" + formatMetadata(req.Metadata)})
	}
	return p.generate(ctx, parts)
}

func (p *Provider) generate(ctx context.Context, parts []part) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))
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
		return "", aierr.StatusError(p.Name(), resp.StatusCode, string(respBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", aierr.DecodeError(p.Name(), err)
	}
	if parsed.Error != nil {
		return "", aierr.StatusError(p.Name(), parsed.Error.Code, parsed.Error.Status+": "+parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", aierr.DecodeError(p.Name(), fmt.Errorf("no candidates in response"))
	}

	var text strings.Builder
	for _, pt := range parsed.Candidates[0].Content.Parts {
		text.WriteString(pt.Text)
	}
	if text.Len() == 0 {
		return "", aierr.DecodeError(p.Name(), fmt.Errorf("empty candidate (finish reason %q)", parsed.Candidates[0].FinishReason))
	}
	return text.String(), nil
}

func mediaPart(ref string) (part, error) {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "gs://") {
		return part{FileData: &fileData{MimeType: mimeType, FileURI: ref}}, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return part{}, fmt.Errorf("reading media %q: %w", ref, err)
	}
	if info.Size() > maxInlineBytes {
		return part{}, fmt.Errorf("media %q is %d bytes, larger than the %d byte inline limit", ref, info.Size(), maxInlineBytes)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return part{}, fmt.Errorf("reading media %q: %w", ref, err)
	}
	return part{InlineData: &blobData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}}, nil
}

func formatMetadata(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, md[k])
	}
	return b.String()
}

var _ models.AIProvider = (*Provider)(nil)
