package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/riskscan/internal/ai/aierr"
	"github.com/kiranshivaraju/riskscan/internal/ratelimit"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

var tracer = otel.Tracer("riskscan.ai")

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

// Metrics is the subset of observability.Metrics the orchestrator records to.
type Metrics interface {
	ObserveProviderCall(provider, outcome string, latency time.Duration)
	IncDegraded()
}

// Result is the text a provider produced plus how it was obtained.
type Result struct {
	Text     string
	Provider string
	Attempts int
	// Degraded is set when a multimodal request was served by the text chain.
	Degraded bool
}

// Orchestrator runs a request through an ordered chain of providers. It
// retries transient failures on the same provider with exponential backoff,
// then advances to the next provider. Fatal errors stop the chain.
type Orchestrator struct {
	text        []models.AIProvider
	multimodal  []models.AIProvider
	governor    ratelimit.Governor
	clock       ratelimit.Clock
	metrics     Metrics
	maxAttempts int
	backoffBase time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock used for backoff waits.
func WithClock(c ratelimit.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics records provider outcomes.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetry overrides the per-provider attempt ceiling and the backoff base.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if base > 0 {
			o.backoffBase = base
		}
	}
}

// NewOrchestrator creates an orchestrator over the given chains, primary first.
func NewOrchestrator(text, multimodal []models.AIProvider, governor ratelimit.Governor, opts ...Option) *Orchestrator {
	if governor == nil {
		governor = ratelimit.Unlimited{}
	}
	o := &Orchestrator{
		text:        text,
		multimodal:  multimodal,
		governor:    governor,
		clock:       ratelimit.SystemClock{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run sends req to the chain for capability and returns the first successful
// response. A multimodal request without media, or whose multimodal chain is
// exhausted, is flattened into a text prompt and served by the text chain.
func (o *Orchestrator) Run(ctx context.Context, capability models.Capability, req models.GenerateRequest) (Result, error) {
	switch capability {
	case models.CapabilityText:
		return o.runChain(ctx, models.CapabilityText, o.text, ratelimit.EstimateTokens(req.Prompt),
			func(ctx context.Context, p models.AIProvider) (string, error) {
				return p.GenerateContent(ctx, req.Prompt)
			})

	case models.CapabilityMultiModal:
		if req.MediaRef == "" {
			slog.Info("multimodal request has no media, using text chain")
			return o.degrade(ctx, req, 0)
		}

		mmReq := models.MultiModalRequest{
			Prompt:   req.Prompt,
			MediaRef: req.MediaRef,
			AuxText:  req.AuxText,
			Metadata: req.Metadata,
		}
		res, err := o.runChain(ctx, models.CapabilityMultiModal, o.multimodal,
			ratelimit.EstimateTokens(req.Prompt+req.AuxText),
			func(ctx context.Context, p models.AIProvider) (string, error) {
				if !p.SupportsMultiModal() {
					return "", aierr.NewCapabilityError(p.Name())
				}
				return p.GenerateMultiModalContent(ctx, mmReq)
			})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrProvidersExhausted) || errors.Is(err, ErrNoProviders) {
			slog.Warn("multimodal providers exhausted, degrading to text", "attempts", res.Attempts, "error", err)
			return o.degrade(ctx, req, res.Attempts)
		}
		return res, err

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
}

func (o *Orchestrator) degrade(ctx context.Context, req models.GenerateRequest, priorAttempts int) (Result, error) {
	if o.metrics != nil {
		o.metrics.IncDegraded()
	}
	prompt := FlattenMultiModal(req)
	res, err := o.runChain(ctx, models.CapabilityText, o.text, ratelimit.EstimateTokens(prompt),
		func(ctx context.Context, p models.AIProvider) (string, error) {
			return p.GenerateContent(ctx, prompt)
		})
	res.Attempts += priorAttempts
	res.Degraded = true
	return res, err
}

type callFunc func(ctx context.Context, p models.AIProvider) (string, error)

func (o *Orchestrator) runChain(ctx context.Context, capability models.Capability, chain []models.AIProvider, tokens int, call callFunc) (Result, error) {
	if len(chain) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoProviders, capability)
	}

	var lastErr error
	attempts := 0

	for i, p := range chain {
		lastProvider := i == len(chain)-1

	attemptLoop:
		for attempt := 1; attempt <= o.maxAttempts; attempt++ {
			if err := o.governor.Acquire(ctx, p.Name(), tokens); err != nil {
				return Result{Attempts: attempts}, err
			}
			attempts++

			text, err := o.attempt(ctx, capability, p, attempt, call)
			if err == nil {
				return Result{Text: text, Provider: p.Name(), Attempts: attempts}, nil
			}
			lastErr = err

			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{Attempts: attempts}, ctxErr
			}

			kind := aierr.KindOf(err)
			switch {
			case kind == aierr.KindCapabilityMismatch && capability == models.CapabilityMultiModal:
				slog.Info("provider lacks multimodal capability, skipping", "provider", p.Name())
				break attemptLoop

			case kind.Transient():
				if lastProvider && attempt == o.maxAttempts {
					break attemptLoop
				}
				wait := o.backoff(attempt)
				slog.Warn("provider call failed, backing off",
					"provider", p.Name(), "attempt", attempt, "kind", kind.String(),
					"wait_ms", wait.Milliseconds(), "error", err)
				if err := o.clock.Sleep(ctx, wait); err != nil {
					return Result{Attempts: attempts}, err
				}

			default:
				slog.Error("provider call failed with fatal error",
					"provider", p.Name(), "attempt", attempt, "error", err)
				return Result{Provider: p.Name(), Attempts: attempts}, err
			}
		}

		if !lastProvider {
			slog.Warn("advancing to next provider", "from", p.Name(), "to", chain[i+1].Name())
		}
	}

	return Result{Attempts: attempts}, fmt.Errorf("%w (%s): %w", ErrProvidersExhausted, capability, lastErr)
}

func (o *Orchestrator) attempt(ctx context.Context, capability models.Capability, p models.AIProvider, attempt int, call callFunc) (string, error) {
	ctx, span := tracer.Start(ctx, "ai.provider.attempt",
		trace.WithAttributes(
			attribute.String("ai.provider", p.Name()),
			attribute.String("ai.capability", string(capability)),
			attribute.Int("ai.attempt", attempt),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := call(ctx, p)
	outcome := "success"
	if err != nil {
		outcome = aierr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("ai.outcome", outcome))
	if o.metrics != nil {
		o.metrics.ObserveProviderCall(p.Name(), outcome, time.Since(start))
	}
	return text, err
}

// backoff returns base * 2^(attempt-1): 1s, 2s, 4s with the default base.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.backoffBase * time.Duration(1<<(attempt-1))
}

// FlattenMultiModal folds transcript and metadata into a single text prompt
// for providers that cannot see the media.
func FlattenMultiModal(req models.GenerateRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)

	if req.AuxText != "" {
		b.WriteString("\n\nTranscript:\n")
		b.WriteString(req.AuxText)
	}

	if len(req.Metadata) > 0 {
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nMetadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Metadata[k])
		}
	}

	b.WriteString("\n\nThe video itself is not available. Base your answer on the text above.")
	return b.String()
}
