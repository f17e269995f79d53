// Package extract turns free-text model output into validated structured
// data. Strategies run in order: direct parse of each candidate JSON span
// (fenced blocks first), a lenient repair pass over the same spans, and for
// category batches a per-fragment scan.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

var tracer = otel.Tracer("riskscan.extract")

// Strategy names the tier that produced an Outcome.
type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyRepair  Strategy = "repair"
	StrategyPartial Strategy = "partial"
	StrategyNone    Strategy = "none"
)

// maxRawBytes bounds the raw text kept on a failed Outcome.
const maxRawBytes = 500

var (
	ErrNoJSON       = errors.New("no JSON object in response")
	ErrNoCategories = errors.New("no recognizable category in response")
)

// Outcome describes how a parse went. Raw is only set on failure.
type Outcome struct {
	Success  bool
	Strategy Strategy
	Err      error
	Raw      string
}

// Metrics is the subset of observability.Metrics the parser records to.
type Metrics interface {
	ObserveExtraction(strategy string, success bool)
}

// Parser runs the extraction strategies. It is safe for concurrent use.
type Parser struct {
	validate *validator.Validate
	metrics  Metrics
}

// Option configures a Parser.
type Option func(*Parser)

func WithMetrics(m Metrics) Option {
	return func(p *Parser) { p.metrics = m }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{validate: validator.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes raw into dst, which must be a non-nil pointer. Struct
// targets are validated against their validate tags. dst is only written
// on success.
func (p *Parser) Parse(ctx context.Context, raw string, dst any) Outcome {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return p.fail(raw, fmt.Errorf("extract: destination must be a non-nil pointer, got %T", dst))
	}

	cands := candidates(raw)
	if len(cands) == 0 {
		p.observe(ctx, StrategyDirect, ErrNoJSON)
		return p.fail(raw, ErrNoJSON)
	}

	var lastErr error
	if hasComplete(cands) {
		lastErr = p.try(ctx, StrategyDirect, func() error {
			return firstOK(cands, true, func(doc string) error { return p.decodeInto(doc, rv) })
		})
		if lastErr == nil {
			return Outcome{Success: true, Strategy: StrategyDirect}
		}
	}

	lastErr = p.try(ctx, StrategyRepair, func() error {
		return firstOK(cands, false, func(doc string) error { return p.decodeInto(repair(doc), rv) })
	})
	if lastErr == nil {
		return Outcome{Success: true, Strategy: StrategyRepair}
	}
	return p.fail(raw, lastErr)
}

// ParseCategories extracts a batch of category blocks keyed by the given
// taxonomy keys. The document may wrap the blocks in a "categories" object
// or keep them at the top level. Unknown keys are dropped. When the whole
// document cannot be recovered, blocks are recovered one at a time and the
// Outcome reports StrategyPartial.
func (p *Parser) ParseCategories(ctx context.Context, raw string, keys []string) (map[string]models.CategoryPayload, Outcome) {
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	var (
		result  map[string]models.CategoryPayload
		lastErr = ErrNoJSON
	)

	if cands := candidates(raw); len(cands) > 0 {
		if hasComplete(cands) {
			lastErr = p.try(ctx, StrategyDirect, func() error {
				return firstOK(cands, true, func(doc string) (err error) {
					result, err = p.decodeBatch(doc, known)
					return err
				})
			})
			if lastErr == nil {
				return result, Outcome{Success: true, Strategy: StrategyDirect}
			}
		}

		lastErr = p.try(ctx, StrategyRepair, func() error {
			return firstOK(cands, false, func(doc string) (err error) {
				result, err = p.decodeBatch(repair(doc), known)
				return err
			})
		})
		if lastErr == nil {
			return result, Outcome{Success: true, Strategy: StrategyRepair}
		}
	} else {
		p.observe(ctx, StrategyDirect, ErrNoJSON)
	}

	partialErr := p.try(ctx, StrategyPartial, func() error {
		result = p.scanFragments(raw, keys)
		if len(result) == 0 {
			return ErrNoCategories
		}
		return nil
	})
	if partialErr == nil {
		return result, Outcome{Success: true, Strategy: StrategyPartial}
	}
	return nil, p.fail(raw, errors.Join(lastErr, partialErr))
}

func hasComplete(cands []candidate) bool {
	for _, c := range cands {
		if c.complete {
			return true
		}
	}
	return false
}

// firstOK runs fn over the candidates in order and stops at the first
// success. With completeOnly set, unbalanced spans are skipped. The error
// of the first attempted candidate is returned when all fail.
func firstOK(cands []candidate, completeOnly bool, fn func(doc string) error) error {
	var first error
	for _, c := range cands {
		if completeOnly && !c.complete {
			continue
		}
		err := fn(c.span)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

func (p *Parser) try(ctx context.Context, strategy Strategy, fn func() error) error {
	err := fn()
	p.observe(ctx, strategy, err)
	return err
}

// observe records one strategy attempt to logs, traces and metrics.
func (p *Parser) observe(ctx context.Context, strategy Strategy, err error) {
	_, span := tracer.Start(ctx, "extract."+string(strategy))
	span.SetAttributes(attribute.String("extract.strategy", string(strategy)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "extraction strategy failed", "strategy", strategy, "error", err)
	} else {
		slog.DebugContext(ctx, "extraction strategy succeeded", "strategy", strategy)
	}
	span.End()

	if p.metrics != nil {
		p.metrics.ObserveExtraction(string(strategy), err == nil)
	}
}

func (p *Parser) fail(raw string, err error) Outcome {
	return Outcome{Success: false, Strategy: StrategyNone, Err: err, Raw: truncate(raw, maxRawBytes)}
}

// decodeInto decodes into a fresh value and copies it to dst only if it
// decodes and validates.
func (p *Parser) decodeInto(doc string, dst reflect.Value) error {
	tmp := reflect.New(dst.Elem().Type())
	if err := json.Unmarshal([]byte(doc), tmp.Interface()); err != nil {
		return err
	}
	if tmp.Elem().Kind() == reflect.Struct {
		if err := p.validate.Struct(tmp.Interface()); err != nil {
			return err
		}
	}
	dst.Elem().Set(tmp.Elem())
	return nil
}

func (p *Parser) decodeBatch(doc string, known map[string]bool) (map[string]models.CategoryPayload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &top); err != nil {
		return nil, err
	}
	blocks := top
	if wrapped, ok := top["categories"]; ok {
		blocks = nil
		if err := json.Unmarshal(wrapped, &blocks); err != nil {
			return nil, fmt.Errorf("categories: %w", err)
		}
	}

	out := make(map[string]models.CategoryPayload, len(blocks))
	for key, block := range blocks {
		key = normalizeKey(key)
		if !known[key] {
			continue
		}
		payload, err := p.decodeCategory(block)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", key, err)
		}
		out[key] = payload
	}
	if len(out) == 0 {
		return nil, ErrNoCategories
	}
	return out, nil
}

func (p *Parser) decodeCategory(block []byte) (models.CategoryPayload, error) {
	var payload models.CategoryPayload
	if err := json.Unmarshal(block, &payload); err != nil {
		return models.CategoryPayload{}, err
	}
	if err := p.validate.Struct(&payload); err != nil {
		return models.CategoryPayload{}, err
	}
	return payload, nil
}

// scanFragments looks for `"key": {` anywhere in raw, ignoring case, and
// decodes each balanced block on its own, strictly first and then repaired.
func (p *Parser) scanFragments(raw string, keys []string) map[string]models.CategoryPayload {
	out := make(map[string]models.CategoryPayload)
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	for _, key := range sorted {
		re := regexp.MustCompile(`(?i)"\s*` + regexp.QuoteMeta(key) + `\s*"\s*:\s*\{`)
		for _, loc := range re.FindAllStringIndex(raw, -1) {
			start := loc[1] - 1
			fragment := raw[start:]
			if end := balancedEnd(raw, start); end > 0 {
				fragment = raw[start:end]
			}

			payload, err := p.decodeCategory([]byte(fragment))
			if err != nil {
				payload, err = p.decodeCategory([]byte(repair(fragment)))
			}
			if err == nil {
				out[key] = payload
				break
			}
		}
	}
	return out
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
