package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/riskscan/internal/extract"
	"github.com/kiranshivaraju/riskscan/internal/taxonomy"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// DefaultBatchRetries is how many extra batch requests are made when a
// response yields no category at all.
const DefaultBatchRetries = 2

// CategoryAnalyzer scores every taxonomy category with one batch request.
type CategoryAnalyzer struct {
	runner  Runner
	parser  Parser
	tx      *taxonomy.Taxonomy
	retries int
	metrics Metrics
}

// AnalyzerOption configures a CategoryAnalyzer.
type AnalyzerOption func(*CategoryAnalyzer)

// WithBatchRetries sets the number of extra batch requests after a total
// parse failure. Negative values are treated as zero.
func WithBatchRetries(n int) AnalyzerOption {
	return func(a *CategoryAnalyzer) {
		if n < 0 {
			n = 0
		}
		a.retries = n
	}
}

func WithAnalyzerMetrics(m Metrics) AnalyzerOption {
	return func(a *CategoryAnalyzer) { a.metrics = m }
}

func NewCategoryAnalyzer(runner Runner, parser Parser, tx *taxonomy.Taxonomy, opts ...AnalyzerOption) *CategoryAnalyzer {
	a := &CategoryAnalyzer{runner: runner, parser: parser, tx: tx, retries: DefaultBatchRetries}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Batch is the outcome of category scoring.
type Batch struct {
	Categories map[string]models.CategoryResult
	Provider   string
	Strategy   extract.Strategy
	Attempts   int
	// Defaulted lists the keys that were backfilled with the zero-risk default.
	Defaulted []string
}

// AnalyzeCategories returns a result for every taxonomy key.
func (a *CategoryAnalyzer) AnalyzeCategories(ctx context.Context, content string, hints Hints) (map[string]models.CategoryResult, error) {
	b, err := a.Analyze(ctx, content, hints)
	if err != nil {
		return nil, err
	}
	return b.Categories, nil
}

// Analyze is AnalyzeCategories with provenance. Provider chain errors are
// returned. Malformed output never is: after the retries are spent the
// missing categories are defaulted.
func (a *CategoryAnalyzer) Analyze(ctx context.Context, content string, hints Hints) (Batch, error) {
	keys := a.tx.Keys()
	prompt := categoryPrompt(a.tx, content, hints)

	var (
		batch    Batch
		payloads map[string]models.CategoryPayload
	)
	for attempt := 1; attempt <= a.retries+1; attempt++ {
		batch.Attempts = attempt

		res, err := a.runner.Run(ctx, models.CapabilityText, models.GenerateRequest{Prompt: prompt})
		if err != nil {
			return Batch{}, fmt.Errorf("scoring categories: %w", err)
		}
		batch.Provider = res.Provider

		var outcome extract.Outcome
		payloads, outcome = a.parser.ParseCategories(ctx, res.Text, keys)
		batch.Strategy = outcome.Strategy
		if outcome.Success {
			break
		}

		slog.WarnContext(ctx, "category batch unparseable",
			"provider", res.Provider,
			"attempt", attempt,
			"max_attempts", a.retries+1,
			"error", outcome.Err,
			"raw", outcome.Raw,
		)
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
	}

	batch.Categories = normalizeBatch(payloads, keys)
	for _, k := range keys {
		if _, ok := batch.Categories[k]; ok {
			continue
		}
		batch.Categories[k] = models.DefaultCategoryResult()
		batch.Defaulted = append(batch.Defaulted, k)
	}

	if len(batch.Defaulted) > 0 {
		slog.InfoContext(ctx, "categories defaulted",
			"count", len(batch.Defaulted),
			"strategy", batch.Strategy,
		)
		if a.metrics != nil {
			a.metrics.AddCategoriesDefaulted(len(batch.Defaulted))
		}
	}
	return batch, nil
}
