package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/taxonomy"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// Content markers the analysis prompts wrap the analysed text in.
const (
	contentOpen  = "<content>"
	contentClose = "</content>"
)

// MockProvider satisfies models.AIProvider for testing and local runs.
type MockProvider struct {
	Name_          string
	MultiModal     bool
	GenerateFunc   func(ctx context.Context, prompt string) (string, error)
	MultiModalFunc func(ctx context.Context, req models.MultiModalRequest) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) SupportsMultiModal() bool { return m.MultiModal }

func (m *MockProvider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	m.record(prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockProvider) GenerateMultiModalContent(ctx context.Context, req models.MultiModalRequest) (string, error) {
	m.record(req.Prompt)
	if !m.MultiModal {
		return "", aierr.NewCapabilityError(m.Name_)
	}
	if m.MultiModalFunc != nil {
		return m.MultiModalFunc(ctx, req)
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req.Prompt+"\n"+req.AuxText)
	}
	return "", nil
}

func (m *MockProvider) record(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
}

// Calls returns how many generate calls the provider received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt the provider received, in order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// NewMockProvider returns a multimodal MockProvider that answers analysis
// prompts from taxonomy keywords: context classification picks the context
// with the most keyword hits, and category scoring raises a category's risk
// only when its keywords appear in the content.
func NewMockProvider() *MockProvider {
	return NewKeywordProvider("mock", taxonomy.Default())
}

// NewKeywordProvider is NewMockProvider with an explicit name and taxonomy.
func NewKeywordProvider(name string, tx *taxonomy.Taxonomy) *MockProvider {
	respond := func(_ context.Context, prompt string) (string, error) {
		return keywordResponse(tx, prompt), nil
	}
	return &MockProvider{
		Name_:        name,
		MultiModal:   true,
		GenerateFunc: respond,
		MultiModalFunc: func(ctx context.Context, req models.MultiModalRequest) (string, error) {
			return respond(ctx, req.Prompt)
		},
	}
}

func keywordResponse(tx *taxonomy.Taxonomy, prompt string) string {
	content := between(prompt, contentOpen, contentClose)

	if strings.Contains(prompt, `"primary_category"`) {
		out, _ := json.Marshal(map[string]any{
			"primary_category":     tx.MatchContext(content),
			"secondary_categories": []string{},
			"audience":             "general",
			"confidence":           0.8,
			"summary":              "Keyword classification from the mock provider.",
		})
		return string(out)
	}

	categories := make(map[string]any)
	for _, c := range tx.Categories {
		if !strings.Contains(prompt, c.Key) {
			continue
		}
		flagged := c.FlaggedTerms(content)
		risk := 30 * len(flagged)
		if risk > 95 {
			risk = 95
		}
		explanation := "No flagged terms found."
		if len(flagged) > 0 {
			explanation = "Flagged terms: " + strings.Join(flagged, ", ")
		}
		categories[c.Key] = map[string]any{
			"risk_score":  risk,
			"confidence":  80,
			"violations":  flaggedViolations(flagged),
			"explanation": explanation,
		}
	}
	out, _ := json.Marshal(map[string]any{"categories": categories})
	return string(out)
}

func flaggedViolations(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, "mentions "+t)
	}
	return out
}

func between(s, open, close string) string {
	i := strings.Index(s, open)
	if i < 0 {
		return s
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return rest
	}
	return rest[:j]
}

// NewStaticProvider returns a text-only MockProvider that always answers with text.
func NewStaticProvider(name, text string) *MockProvider {
	return &MockProvider{
		Name_: name,
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return text, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	fail := func(_ context.Context, _ string) (string, error) { return "", err }
	return &MockProvider{
		Name_:        "mock-failing",
		MultiModal:   true,
		GenerateFunc: fail,
		MultiModalFunc: func(ctx context.Context, req models.MultiModalRequest) (string, error) {
			return fail(ctx, req.Prompt)
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	block := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", aierr.ErrInferenceTimeout
	}
	return &MockProvider{
		Name_:        "mock-timeout",
		MultiModal:   true,
		GenerateFunc: block,
		MultiModalFunc: func(ctx context.Context, req models.MultiModalRequest) (string, error) {
			return block(ctx, req.Prompt)
		},
	}
}

// Step is one scripted reply.
type Step struct {
	Text string
	Err  error
}

// NewSequenceProvider returns a text-only MockProvider that replays steps in
// order and repeats the last one once they run out.
func NewSequenceProvider(name string, steps ...Step) *MockProvider {
	var mu sync.Mutex
	next := 0
	return &MockProvider{
		Name_: name,
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(steps) == 0 {
				return "", nil
			}
			s := steps[next]
			if next < len(steps)-1 {
				next++
			}
			return s.Text, s.Err
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
