package analysis

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxViolations       = 20
	maxViolationBytes   = 300
	maxExplanationBytes = 2000
)

var (
	reWhitespace  = regexp.MustCompile(`\s+`)
	reTrailingPun = regexp.MustCompile(`[\s.;:,!]+$`)
)

// CleanViolations trims, truncates and de-duplicates provider violation
// strings. Two entries are duplicates when they differ only in case,
// whitespace or trailing punctuation. Order of first occurrence is kept.
// Returns an empty slice for empty input (never nil).
func CleanViolations(violations []string) []string {
	out := make([]string, 0, len(violations))
	seen := make(map[string]bool, len(violations))
	for _, v := range violations {
		v = strings.TrimSpace(reWhitespace.ReplaceAllString(v, " "))
		if v == "" {
			continue
		}
		v = truncateString(v, maxViolationBytes)
		fp := fingerprint(v)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, v)
		if len(out) == maxViolations {
			break
		}
	}
	return out
}

func fingerprint(v string) string {
	return strings.ToLower(reTrailingPun.ReplaceAllString(v, ""))
}

// SeverityRank orders severities. Unknown values rank 0.
func SeverityRank(severity string) int {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "HIGH":
		return 3
	case "MEDIUM":
		return 2
	case "LOW":
		return 1
	default:
		return 0
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
