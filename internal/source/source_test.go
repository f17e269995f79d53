package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/riskscan/internal/source"
)

const page = `<!doctype html>
<html>
<head>
  <title>Fallback title</title>
  <meta property="og:title" content="Weeknight Pasta">
  <meta name="description" content="A quick carbonara.">
  <meta name="author" content="Home Kitchen">
  <meta property="og:video" content="https://cdn.example.com/v/1.mp4">
  <script>var tracking = "ignore me";</script>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <main>
    <h1>Weeknight   Pasta</h1>
    <p>Boil the pasta in salted water.</p>
    <p>Whisk eggs with cheese.</p>
  </main>
  <footer>copyright</footer>
</body>
</html>`

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "riskscan/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAcquirer_HTML(t *testing.T) {
	srv := serve(t, "text/html; charset=utf-8", page)

	doc, err := source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Weeknight Pasta\nBoil the pasta in salted water.\nWhisk eggs with cheese.", doc.Text)
	assert.False(t, doc.Partial)
	assert.Equal(t, "Weeknight Pasta", doc.Metadata["title"])
	assert.Equal(t, "A quick carbonara.", doc.Metadata["description"])
	assert.Equal(t, "Home Kitchen", doc.Metadata["channel"])
	assert.Equal(t, "https://cdn.example.com/v/1.mp4", doc.Metadata["video_url"])
	assert.Equal(t, srv.URL, doc.Metadata["source_url"])
	assert.NotContains(t, doc.Text, "ignore me")
	assert.NotContains(t, doc.Text, "copyright")
}

func TestHTTPAcquirer_MetadataOnly(t *testing.T) {
	srv := serve(t, "text/html", `<html><head><title>Clip 42</title><meta name="description" content="Short clip"></head><body></body></html>`)

	doc, err := source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, doc.Partial)
	assert.Equal(t, "description: Short clip\ntitle: Clip 42", doc.Text)
}

func TestHTTPAcquirer_PlainText(t *testing.T) {
	srv := serve(t, "text/plain", "  a transcript\n\nwith   gaps ")

	doc, err := source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "a transcript with gaps", doc.Text)
}

func TestHTTPAcquirer_BodyLimit(t *testing.T) {
	srv := serve(t, "text/plain", strings.Repeat("a", 100))

	doc, err := source.NewHTTPAcquirer(nil, 10).Acquire(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, doc.Text, 10)
}

func TestHTTPAcquirer_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	_, err := source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), notFound.URL)
	assert.ErrorIs(t, err, source.ErrFetch)

	binary := serve(t, "application/octet-stream", "\x00\x01")
	_, err = source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), binary.URL)
	assert.ErrorIs(t, err, source.ErrNoContent)

	empty := serve(t, "text/plain", "   ")
	_, err = source.NewHTTPAcquirer(nil, 0).Acquire(context.Background(), empty.URL)
	assert.ErrorIs(t, err, source.ErrNoContent)
}

type stubRemote struct{ calls []string }

func (s *stubRemote) Acquire(_ context.Context, ref string) (source.Document, error) {
	s.calls = append(s.calls, ref)
	return source.Document{Text: "remote"}, nil
}

func TestResolver(t *testing.T) {
	remote := &stubRemote{}
	r := source.NewResolver(remote)

	doc, err := r.Acquire(context.Background(), "This video is about cooking pasta")
	require.NoError(t, err)
	assert.Equal(t, "This video is about cooking pasta", doc.Text)
	assert.Empty(t, remote.calls)

	doc, err = r.Acquire(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, "remote", doc.Text)
	assert.Equal(t, []string{"https://example.com/watch?v=1"}, remote.calls)

	_, err = r.Acquire(context.Background(), "  ")
	assert.ErrorIs(t, err, source.ErrNoContent)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, source.IsRemote("http://example.com/x"))
	assert.True(t, source.IsRemote("https://example.com"))
	assert.False(t, source.IsRemote("ftp://example.com"))
	assert.False(t, source.IsRemote("cooking pasta"))
	assert.False(t, source.IsRemote("https://"))
}
