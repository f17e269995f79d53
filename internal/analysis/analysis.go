// Package analysis runs the two analysis stages over acquired content:
// context classification followed by a single batch request that scores
// every taxonomy category.
package analysis

import (
	"context"

	"github.com/kiranshivaraju/riskscan/internal/ai"
	"github.com/kiranshivaraju/riskscan/internal/extract"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// Runner is the part of ai.Orchestrator the analysis stages depend on.
type Runner interface {
	Run(ctx context.Context, capability models.Capability, req models.GenerateRequest) (ai.Result, error)
}

// Parser is the part of extract.Parser the analysis stages depend on.
type Parser interface {
	Parse(ctx context.Context, raw string, dst any) extract.Outcome
	ParseCategories(ctx context.Context, raw string, keys []string) (map[string]models.CategoryPayload, extract.Outcome)
}

// Metrics is the subset of observability.Metrics the analyzer records to.
type Metrics interface {
	AddCategoriesDefaulted(n int)
}

// Input is the acquired content for one job.
type Input struct {
	Text      string
	VideoPath string
	Metadata  map[string]string
}

var (
	_ Runner = (*ai.Orchestrator)(nil)
	_ Parser = (*extract.Parser)(nil)
)
