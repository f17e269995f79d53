package ai

import "errors"

var (
	ErrProvidersExhausted = errors.New("all ai providers exhausted")
	ErrNoProviders        = errors.New("no ai providers configured for capability")
	ErrUnknownCapability  = errors.New("unknown capability")
)
