package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/riskscan/internal/taxonomy"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// ContextClassifier decides what kind of content a job carries so category
// scoring can judge risk in context.
type ContextClassifier struct {
	runner Runner
	parser Parser
	tx     *taxonomy.Taxonomy
}

func NewContextClassifier(runner Runner, parser Parser, tx *taxonomy.Taxonomy) *ContextClassifier {
	return &ContextClassifier{runner: runner, parser: parser, tx: tx}
}

// Classification is a context result and the provider that produced it.
type Classification struct {
	Context  models.ContextResult
	Provider string
	Degraded bool
}

// Classify uses the multimodal chain when the input has a video. A provider
// chain failure is returned as an error. An unparseable answer is not: the
// result falls back to the general context with zero confidence.
func (c *ContextClassifier) Classify(ctx context.Context, in Input) (Classification, error) {
	capability := models.CapabilityText
	req := models.GenerateRequest{Prompt: contextPrompt(c.tx, in.Text, in.Metadata)}
	if in.VideoPath != "" {
		capability = models.CapabilityMultiModal
		req = models.GenerateRequest{
			Prompt:   contextPrompt(c.tx, in.Text, nil),
			MediaRef: in.VideoPath,
			Metadata: in.Metadata,
		}
	}

	res, err := c.runner.Run(ctx, capability, req)
	if err != nil {
		return Classification{}, fmt.Errorf("classifying context: %w", err)
	}

	var parsed models.ContextResult
	outcome := c.parser.Parse(ctx, res.Text, &parsed)
	if !outcome.Success {
		slog.WarnContext(ctx, "context classification unparseable, using general",
			"provider", res.Provider,
			"error", outcome.Err,
			"raw", outcome.Raw,
		)
		return Classification{Context: c.fallback(), Provider: res.Provider, Degraded: res.Degraded}, nil
	}

	return Classification{Context: c.clean(parsed), Provider: res.Provider, Degraded: res.Degraded}, nil
}

func (c *ContextClassifier) fallback() models.ContextResult {
	return models.ContextResult{
		PrimaryCategory:     taxonomy.GeneralContext,
		SecondaryCategories: []string{},
		Confidence:          0,
	}
}

func (c *ContextClassifier) clean(r models.ContextResult) models.ContextResult {
	r.PrimaryCategory = c.tx.NormalizeContext(r.PrimaryCategory)

	secondary := make([]string, 0, len(r.SecondaryCategories))
	seen := map[string]bool{r.PrimaryCategory: true, taxonomy.GeneralContext: true}
	for _, s := range r.SecondaryCategories {
		key := c.tx.NormalizeContext(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		secondary = append(secondary, key)
	}
	r.SecondaryCategories = secondary

	// Confidence is kept on a 0-1 scale.
	switch {
	case r.Confidence > 1 && r.Confidence <= 100:
		r.Confidence /= 100
	case r.Confidence > 100:
		r.Confidence = 1
	case r.Confidence < 0:
		r.Confidence = 0
	}
	r.Summary = truncateString(r.Summary, maxExplanationBytes)
	return r
}

// HintsFrom builds category-scoring hints from a classification.
func HintsFrom(r models.ContextResult) Hints {
	return Hints{
		Context:   r.PrimaryCategory,
		Secondary: r.SecondaryCategories,
		Audience:  r.Audience,
		Summary:   r.Summary,
	}
}
