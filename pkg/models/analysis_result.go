package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// DefaultExplanation is attached to categories the provider never reported on.
const DefaultExplanation = "No issues detected for this category."

// CategoryResult is one taxonomy category's normalized analysis.
type CategoryResult struct {
	RiskScore   int      `json:"risk_score"`
	Confidence  int      `json:"confidence"`
	Violations  []string `json:"violations"`
	Severity    string   `json:"severity"`
	Explanation string   `json:"explanation"`
}

// DefaultCategoryResult is the zero-risk entry used to backfill missing categories.
func DefaultCategoryResult() CategoryResult {
	return CategoryResult{
		RiskScore:   0,
		Confidence:  0,
		Violations:  []string{},
		Severity:    SeverityLow,
		Explanation: DefaultExplanation,
	}
}

// CategoryPayload is a category block as the provider returned it, before
// normalization. Scores are floats because providers drift between scales.
type CategoryPayload struct {
	RiskScore   *float64 `json:"risk_score"  validate:"required"`
	Confidence  *float64 `json:"confidence"  validate:"required"`
	Violations  []string `json:"violations"`
	Severity    string   `json:"severity"`
	Explanation string   `json:"explanation"`
}

// ContextResult is the content-context classification that precedes category scoring.
type ContextResult struct {
	PrimaryCategory     string   `json:"primary_category"     validate:"required"`
	SecondaryCategories []string `json:"secondary_categories"`
	Audience            string   `json:"audience"`
	Confidence          float64  `json:"confidence"`
	Summary             string   `json:"summary"`
}

// AnalysisResult is the persisted risk report for a completed job.
type AnalysisResult struct {
	ID              uuid.UUID                 `db:"id"               json:"id"`
	JobID           uuid.UUID                 `db:"job_id"           json:"job_id"`
	UserID          uuid.UUID                 `db:"user_id"          json:"user_id"`
	SourceRef       string                    `db:"source_ref"       json:"source_ref"`
	Provider        string                    `db:"provider"         json:"provider"`
	Context         ContextResult             `db:"context"          json:"context"`
	Categories      map[string]CategoryResult `db:"categories"       json:"categories"`
	OverallRisk     int                       `db:"overall_risk"     json:"overall_risk"`
	OverallSeverity string                    `db:"overall_severity" json:"overall_severity"`
	CreatedAt       time.Time                 `db:"created_at"       json:"created_at"`
}
