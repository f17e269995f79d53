// Package aierr is the error taxonomy shared by provider adapters and the
// fallback orchestrator.
package aierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	ErrCapabilityMismatch  = errors.New("ai provider does not support multimodal input")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrProviderUnavailable = errors.New("ai provider unavailable")
)

// Kind is the coarse category the orchestrator branches on.
type Kind int

const (
	KindFatal Kind = iota
	KindRateLimited
	KindOverloaded
	KindCapabilityMismatch
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindCapabilityMismatch:
		return "capability_mismatch"
	default:
		return "fatal"
	}
}

// Transient reports whether the kind is retried on the same provider.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindOverloaded
}

// ProviderError is the only error shape adapters return to the orchestrator.
type ProviderError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err. Errors that are not a
// *ProviderError are fatal, except a capability mismatch sentinel.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrCapabilityMismatch) {
		return KindCapabilityMismatch
	}
	return KindFatal
}

// NewCapabilityError is what text-only adapters return from the multimodal call.
func NewCapabilityError(provider string) *ProviderError {
	return &ProviderError{Kind: KindCapabilityMismatch, Provider: provider, Err: ErrCapabilityMismatch}
}

// ClassifyStatus maps an HTTP status and response body to a Kind.
func ClassifyStatus(status int, body string) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return KindOverloaded
	}
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "resource_exhausted"):
		return KindRateLimited
	case strings.Contains(lower, "overloaded"), strings.Contains(lower, "temporarily unavailable"):
		return KindOverloaded
	}
	return KindFatal
}

// StatusError builds a ProviderError from a non-2xx HTTP response.
func StatusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Kind:       ClassifyStatus(status, body),
		Provider:   provider,
		StatusCode: status,
		Err:        fmt.Errorf("%w: %s", ErrInvalidResponse, truncateString(body, 512)),
	}
}

// TransportError wraps a failure to reach the provider. Network failures
// and per-call timeouts count as the provider being overloaded; the
// orchestrator checks the caller's own context separately.
func TransportError(provider string, err error) *ProviderError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Kind: KindOverloaded, Provider: provider, Err: fmt.Errorf("%w: %v", ErrInferenceTimeout, err)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindOverloaded, Provider: provider, Err: fmt.Errorf("%w: %v", ErrInferenceTimeout, err)}
	}
	return &ProviderError{Kind: KindOverloaded, Provider: provider, Err: fmt.Errorf("%w: %v", ErrProviderUnavailable, err)}
}

// DecodeError reports a 2xx response whose body could not be understood.
func DecodeError(provider string, err error) *ProviderError {
	return &ProviderError{Kind: KindFatal, Provider: provider, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
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
