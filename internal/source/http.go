package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultFetchTimeout = 20 * time.Second
	defaultMaxBytes     = 2 << 20
	userAgent           = "riskscan/1.0"
)

// textBlocks are the elements whose text is collected, in document order.
const textBlocks = "h1, h2, h3, p, li, blockquote, figcaption"

var reSpaces = regexp.MustCompile(`\s+`)

// HTTPAcquirer fetches a page and extracts its readable text and metadata.
type HTTPAcquirer struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPAcquirer wires an HTTP client. A nil client gets a 20s timeout and
// maxBytes <= 0 means 2MB.
func NewHTTPAcquirer(client *http.Client, maxBytes int64) *HTTPAcquirer {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPAcquirer{client: client, maxBytes: maxBytes}
}

func (h *HTTPAcquirer) Acquire(ctx context.Context, ref string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("%w: %s returned %s", ErrFetch, ref, resp.Status)
	}

	body := io.LimitReader(resp.Body, h.maxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	var doc Document
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
		parsed, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return Document{}, fmt.Errorf("%w: parse document: %v", ErrFetch, err)
		}
		doc = extractHTML(parsed)
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		raw, err := io.ReadAll(body)
		if err != nil {
			return Document{}, fmt.Errorf("%w: read body: %v", ErrFetch, err)
		}
		doc = Document{Text: collapse(string(raw)), Metadata: map[string]string{}}
	default:
		return Document{}, fmt.Errorf("%w: unsupported content type %q", ErrNoContent, mediaType)
	}

	doc.Metadata["source_url"] = ref
	if doc.Text == "" {
		doc.Text = metadataText(doc.Metadata)
		doc.Partial = true
	}
	if doc.Text == "" {
		return Document{}, ErrNoContent
	}
	return doc, nil
}

func extractHTML(doc *goquery.Document) Document {
	md := map[string]string{}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og := metaContent(doc, `meta[property="og:title"]`); og != "" {
		title = og
	}
	setIf(md, "title", title)
	setIf(md, "description", firstNonEmpty(
		metaContent(doc, `meta[property="og:description"]`),
		metaContent(doc, `meta[name="description"]`),
	))
	setIf(md, "keywords", metaContent(doc, `meta[name="keywords"]`))
	setIf(md, "channel", firstNonEmpty(
		metaContent(doc, `meta[name="author"]`),
		metaContent(doc, `meta[property="og:site_name"]`),
	))
	setIf(md, "video_url", firstNonEmpty(
		metaContent(doc, `meta[property="og:video:url"]`),
		metaContent(doc, `meta[property="og:video"]`),
	))

	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var parts []string
	root := doc.Find("article, main").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	root.Find("*").Each(func(_ int, s *goquery.Selection) {
		if !s.Is(textBlocks) {
			return
		}
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := collapse(root.Text()); t != "" {
			parts = append(parts, t)
		}
	}

	return Document{Text: strings.Join(parts, "\n"), Metadata: md}
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func metadataText(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		if k == "source_url" || k == "video_url" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+md[k])
	}
	return strings.Join(lines, "\n")
}

func setIf(md map[string]string, key, value string) {
	if value != "" {
		md[key] = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}
