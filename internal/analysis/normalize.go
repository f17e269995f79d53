package analysis

import (
	"math"
	"strings"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// NormalizeScores maps a batch of provider scores onto the 0-100 integer
// scale. Scale detection looks at the batch maximum m: fractional values
// with 0.1 <= m <= 1 are treated as a 0-1 scale, and 1 < m < 10 as a 0-10
// scale. Everything is then clamped to [0,100] and rounded. The detection
// is a heuristic; it cannot tell a genuine low score from a small scale.
// Applying NormalizeScores to its own output returns the same values.
func NormalizeScores(values []float64) []int {
	out := make([]int, len(values))
	if len(values) == 0 {
		return out
	}

	clean := make([]float64, len(values))
	m, fractional := math.Inf(-1), false
	for i, v := range values {
		if math.IsNaN(v) {
			v = 0
		}
		clean[i] = v
		if v > m {
			m = v
		}
		if v != math.Trunc(v) {
			fractional = true
		}
	}

	factor := 1.0
	switch {
	case m >= 0.1 && m <= 1 && fractional:
		factor = 100
	case m > 1 && m < 10:
		factor = 10
	}

	for i, v := range clean {
		out[i] = clampScore(v * factor)
	}
	return out
}

func clampScore(v float64) int {
	switch {
	case v <= 0:
		return 0
	case v >= 100:
		return 100
	}
	return int(math.Round(v))
}

// Severity derives a severity label from a 0-100 risk score.
func Severity(score int) string {
	switch {
	case score >= 70:
		return models.SeverityHigh
	case score >= 40:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// resolveSeverity keeps a valid provider severity and derives one otherwise.
func resolveSeverity(reported string, score int) string {
	if SeverityRank(reported) > 0 {
		return strings.ToUpper(strings.TrimSpace(reported))
	}
	return Severity(score)
}

// normalizeBatch turns raw payloads into CategoryResults. Risk and
// confidence are normalized as two independent lists.
func normalizeBatch(payloads map[string]models.CategoryPayload, keys []string) map[string]models.CategoryResult {
	present := make([]string, 0, len(payloads))
	for _, k := range keys {
		if _, ok := payloads[k]; ok {
			present = append(present, k)
		}
	}

	risks := make([]float64, len(present))
	confidences := make([]float64, len(present))
	for i, k := range present {
		p := payloads[k]
		risks[i] = deref(p.RiskScore)
		confidences[i] = deref(p.Confidence)
	}
	risk := NormalizeScores(risks)
	confidence := NormalizeScores(confidences)

	out := make(map[string]models.CategoryResult, len(present))
	for i, k := range present {
		p := payloads[k]
		explanation := strings.TrimSpace(p.Explanation)
		if explanation == "" {
			explanation = models.DefaultExplanation
		}
		out[k] = models.CategoryResult{
			RiskScore:   risk[i],
			Confidence:  confidence[i],
			Violations:  CleanViolations(p.Violations),
			Severity:    resolveSeverity(p.Severity, risk[i]),
			Explanation: truncateString(explanation, maxExplanationBytes),
		}
	}
	return out
}

// Overall returns the highest category risk and its severity.
func Overall(categories map[string]models.CategoryResult) (int, string) {
	highest := 0
	for _, c := range categories {
		if c.RiskScore > highest {
			highest = c.RiskScore
		}
	}
	return highest, Severity(highest)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
