// Package observability holds the Prometheus collectors shared by the
// pipeline. Every method is safe to call on a nil *Metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskscan"

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	// governorWait measures time callers spent blocked in the rate governor.
	// Labels: provider
	governorWait *prometheus.HistogramVec

	// providerCalls counts provider attempts by outcome.
	// Labels: provider, outcome (success, rate_limited, overloaded, capability_mismatch, fatal)
	providerCalls *prometheus.CounterVec

	// providerLatency measures provider call latency.
	// Labels: provider
	providerLatency *prometheus.HistogramVec

	// degradations counts multimodal requests served by the text chain.
	degradations prometheus.Counter

	// extractionAttempts counts extraction strategy attempts.
	// Labels: strategy (direct, repair, partial), result (success, failure)
	extractionAttempts *prometheus.CounterVec

	// categoriesDefaulted counts taxonomy categories filled with the zero-risk default.
	categoriesDefaulted prometheus.Counter

	// jobs counts jobs reaching a terminal state.
	// Labels: status, error_kind
	jobs *prometheus.CounterVec

	// jobDuration measures wall-clock time from claim to terminal state.
	// Labels: status
	jobDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on reg. Passing nil creates a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		governorWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate or token budget",
			Buckets:   []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"provider"}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider call attempts by outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		degradations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "multimodal_degradations_total",
			Help:      "Multimodal requests served by a text-only provider",
		}),
		extractionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "attempts_total",
			Help:      "Extraction strategy attempts by result",
		}, []string{"strategy", "result"}),
		categoriesDefaulted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "categories_defaulted_total",
			Help:      "Taxonomy categories filled with the zero-risk default",
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal state",
		}, []string{"status", "error_kind"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Time from claim to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveGovernorWait(provider string, wait time.Duration) {
	if m == nil {
		return
	}
	m.governorWait.WithLabelValues(provider).Observe(wait.Seconds())
}

func (m *Metrics) ObserveProviderCall(provider, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *Metrics) IncDegraded() {
	if m == nil {
		return
	}
	m.degradations.Inc()
}

func (m *Metrics) ObserveExtraction(strategy string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.extractionAttempts.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) AddCategoriesDefaulted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.categoriesDefaulted.Add(float64(n))
}

func (m *Metrics) ObserveJob(status, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status, errorKind).Inc()
	m.jobDuration.WithLabelValues(status).Observe(d.Seconds())
}
