package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/ai/gemini"
	"github.com/kiranshivaraju/riskscan/internal/config"
	"github.com/kiranshivaraju/riskscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"inline_data"`
	FileData *struct {
		MimeType string `json:"mime_type"`
		FileURI  string `json:"file_uri"`
	} `json:"file_data"`
}

const okBody = `{"candidates":[{"content":{"parts":[{"text":"{\"primary_category\":\"gaming\"}"}]},"finishReason":"STOP"}]}`

func capture(t *testing.T, parts *[]capturedPart) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))

		var body struct {
			Contents []struct {
				Parts []capturedPart `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		*parts = body.Contents[0].Parts

		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(url string) *gemini.Provider {
	return gemini.NewProvider(config.GeminiConfig{APIKey: "g-key", Model: "gemini-2.0-flash", BaseURL: url}, 5*time.Second)
}

func TestProvider_RemoteMediaByURI(t *testing.T) {
	var parts []capturedPart
	srv := capture(t, &parts)

	out, err := newProvider(srv.URL).GenerateMultiModalContent(context.Background(), models.MultiModalRequest{
		Prompt:   "classify",
		MediaRef: "gs://bucket/clip.mp4",
		AuxText:  "hello world",
		Metadata: map[string]string{"title": "Speedrun", "channel": "Gamer"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"primary_category":"gaming"}`, out)

	require.Len(t, parts, 4)
	require.NotNil(t, parts[0].FileData)
	assert.Equal(t, "gs://bucket/clip.mp4", parts[0].FileData.FileURI)
	assert.Equal(t, "video/mp4", parts[0].FileData.MimeType)
	assert.Equal(t, "classify", parts[1].Text)
	assert.Equal(t, "Transcript:\nhello world", parts[2].Text)
	assert.Equal(t, "Metadata:\n- channel: Gamer\n- title: Speedrun\n", parts[3].Text)
}

func TestProvider_LocalMediaInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake-video"), 0o600))

	var parts []capturedPart
	srv := capture(t, &parts)

	_, err := newProvider(srv.URL).GenerateMultiModalContent(context.Background(), models.MultiModalRequest{
		Prompt:   "classify",
		MediaRef: path,
	})
	require.NoError(t, err)

	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-video")), parts[0].InlineData.Data)
}

func TestProvider_MissingLocalMediaIsFatal(t *testing.T) {
	_, err := newProvider("http://unused").GenerateMultiModalContent(context.Background(), models.MultiModalRequest{
		MediaRef: filepath.Join(t.TempDir(), "missing.mp4"),
	})
	require.Error(t, err)
	assert.Equal(t, aierr.KindFatal, aierr.KindOf(err))
}

func TestProvider_TextOnlyRequest(t *testing.T) {
	var parts []capturedPart
	srv := capture(t, &parts)

	_, err := newProvider(srv.URL).GenerateContent(context.Background(), "plain prompt")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "plain prompt", parts[0].Text)
}

func TestProvider_ResourceExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).GenerateContent(context.Background(), "x")
	assert.Equal(t, aierr.KindRateLimited, aierr.KindOf(err))
}

func TestProvider_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).GenerateContent(context.Background(), "x")
	assert.ErrorIs(t, err, aierr.ErrInvalidResponse)
}
