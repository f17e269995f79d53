// Package taxonomy holds the fixed set of policy-risk categories every
// analysis must cover, plus the content-context categories used for
// classification.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GeneralContext is the context category used when classification fails or
// the provider names a category outside the taxonomy.
const GeneralContext = "general"

//go:embed taxonomy.yaml
var defaultYAML []byte

// Category is one policy-risk category.
type Category struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// Context is one content-context category.
type Context struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy is an ordered, validated set of categories and contexts.
type Taxonomy struct {
	Categories []Category `yaml:"categories"`
	Contexts   []Context  `yaml:"contexts"`
}

// Default returns the embedded taxonomy. It panics if the embedded file is
// invalid, which can only happen at build time.
func Default() *Taxonomy {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("taxonomy: embedded taxonomy invalid: %v", err))
	}
	return t
}

// Load reads a taxonomy from path, or returns the embedded one when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding taxonomy: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Taxonomy) validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("taxonomy has no categories")
	}
	seen := make(map[string]bool, len(t.Categories))
	for i, c := range t.Categories {
		if c.Key == "" {
			return fmt.Errorf("category %d has no key", i)
		}
		if seen[c.Key] {
			return fmt.Errorf("duplicate category key %q", c.Key)
		}
		seen[c.Key] = true
	}

	hasGeneral := false
	for _, c := range t.Contexts {
		if c.Key == GeneralContext {
			hasGeneral = true
		}
	}
	if !hasGeneral {
		t.Contexts = append(t.Contexts, Context{Key: GeneralContext, Name: "General"})
	}
	return nil
}

// Keys returns the category keys in taxonomy order.
func (t *Taxonomy) Keys() []string {
	keys := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		keys[i] = c.Key
	}
	return keys
}

// ContextKeys returns the context category keys in taxonomy order.
func (t *Taxonomy) ContextKeys() []string {
	keys := make([]string, len(t.Contexts))
	for i, c := range t.Contexts {
		keys[i] = c.Key
	}
	return keys
}

// HasContext reports whether key names a known context category.
func (t *Taxonomy) HasContext(key string) bool {
	for _, c := range t.Contexts {
		if c.Key == key {
			return true
		}
	}
	return false
}

// NormalizeContext maps a provider-supplied context label onto a known key.
// Matching ignores case and treats spaces, hyphens and slashes as underscores.
func (t *Taxonomy) NormalizeContext(label string) string {
	k := strings.ToLower(strings.TrimSpace(label))
	k = strings.NewReplacer(" ", "_", "-", "_", "/", "_", "&", "and").Replace(k)
	if t.HasContext(k) {
		return k
	}
	for _, c := range t.Contexts {
		if strings.EqualFold(c.Name, strings.TrimSpace(label)) {
			return c.Key
		}
	}
	return GeneralContext
}

// MatchContext returns the context whose keywords best match text, or
// GeneralContext when none match.
func (t *Taxonomy) MatchContext(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := GeneralContext, 0
	for _, c := range t.Contexts {
		hits := 0
		for _, kw := range c.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c.Key, hits
		}
	}
	return best
}

// FlaggedTerms returns the category's keywords that appear in text.
func (c Category) FlaggedTerms(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range c.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			out = append(out, kw)
		}
	}
	return out
}
