package aierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   Kind
	}{
		{http.StatusTooManyRequests, "", KindRateLimited},
		{http.StatusInternalServerError, "", KindOverloaded},
		{http.StatusBadGateway, "", KindOverloaded},
		{http.StatusServiceUnavailable, "", KindOverloaded},
		{http.StatusGatewayTimeout, "", KindOverloaded},
		{529, "", KindOverloaded},
		{http.StatusBadRequest, "Rate limit reached for requests", KindRateLimited},
		{http.StatusForbidden, "RESOURCE_EXHAUSTED", KindRateLimited},
		{http.StatusOK, "model is overloaded", KindOverloaded},
		{http.StatusBadRequest, "invalid prompt", KindFatal},
		{http.StatusUnauthorized, "", KindFatal},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.body), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status, tt.body))
		})
	}
}

func TestKindTransient(t *testing.T) {
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindOverloaded.Transient())
	assert.False(t, KindFatal.Transient())
	assert.False(t, KindCapabilityMismatch.Transient())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("attempt 2: %w", StatusError("openai", 429, "slow down"))
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindCapabilityMismatch, KindOf(fmt.Errorf("x: %w", ErrCapabilityMismatch)))
	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
}

func TestTransportError(t *testing.T) {
	timeout := TransportError("ollama", context.DeadlineExceeded)
	assert.Equal(t, KindOverloaded, timeout.Kind)
	assert.ErrorIs(t, timeout, ErrInferenceTimeout)

	refused := TransportError("ollama", errors.New("connection refused"))
	assert.Equal(t, KindOverloaded, refused.Kind)
	assert.ErrorIs(t, refused, ErrProviderUnavailable)
}

func TestStatusError_TruncatesBody(t *testing.T) {
	err := StatusError("anthropic", 400, strings.Repeat("é", 600))
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, 400, err.StatusCode)
	assert.Contains(t, err.Error(), "status 400")
	assert.Less(t, len(err.Err.Error()), 600)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "ab", truncateString("abc", 2))
	// "é" is two bytes; a cut inside it backs up to the rune start.
	assert.Equal(t, "a", truncateString("aé", 2))
}
