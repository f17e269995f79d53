package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/riskscan/internal/taxonomy"
)

// maxPromptContentBytes bounds how much source text is sent per request.
const maxPromptContentBytes = 48 << 10

// Hints carries the context classification into category scoring.
type Hints struct {
	Context   string
	Secondary []string
	Audience  string
	Summary   string
}

func contextPrompt(tx *taxonomy.Taxonomy, content string, metadata map[string]string) string {
	var b strings.Builder
	b.WriteString("Classify the context of the following video content.\n\n")
	b.WriteString("Respond with a single JSON object and nothing else, in exactly this shape:\n")
	b.WriteString(`{"primary_category": "<key>", "secondary_categories": ["<key>"], "audience": "<who the content is for>", "confidence": <0.0-1.0>, "summary": "<one sentence>"}`)
	b.WriteString("\n\nprimary_category and secondary_categories must be keys from this list:\n")
	for _, c := range tx.Contexts {
		fmt.Fprintf(&b, "- %s: %s\n", c.Key, c.Name)
	}
	writeMetadata(&b, metadata)
	writeContent(&b, content)
	return b.String()
}

func categoryPrompt(tx *taxonomy.Taxonomy, content string, hints Hints) string {
	var b strings.Builder
	b.WriteString("You are reviewing video content for platform policy risk.\n")
	if hints.Context != "" {
		fmt.Fprintf(&b, "The content has been classified as %s", hints.Context)
		if len(hints.Secondary) > 0 {
			fmt.Fprintf(&b, " (also %s)", strings.Join(hints.Secondary, ", "))
		}
		b.WriteString(". Judge risk in that context")
		if hints.Audience != "" {
			fmt.Fprintf(&b, " for an audience of %s", hints.Audience)
		}
		b.WriteString(".\n")
	}
	if hints.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", hints.Summary)
	}

	b.WriteString("\nScore every category below. For each one give risk_score and confidence as integers from 0 to 100, ")
	b.WriteString("a list of specific violations (empty if none), a severity of LOW, MEDIUM or HIGH, and a short explanation.\n\n")
	for _, c := range tx.Categories {
		fmt.Fprintf(&b, "- %s: %s\n", c.Key, c.Description)
	}

	b.WriteString("\nRespond with a single JSON object and nothing else, in exactly this shape:\n")
	b.WriteString(`{"categories": {"<category key>": {"risk_score": 0, "confidence": 0, "violations": [], "severity": "LOW", "explanation": ""}}}`)
	b.WriteString("\nInclude every category key listed above.\n")
	writeContent(&b, content)
	return b.String()
}

func writeMetadata(b *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\nMetadata:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, metadata[k])
	}
}

func writeContent(b *strings.Builder, content string) {
	b.WriteString("\n<content>\n")
	b.WriteString(truncateString(content, maxPromptContentBytes))
	b.WriteString("\n</content>\n")
}
