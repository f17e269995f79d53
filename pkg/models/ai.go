// Package models contains shared data models used across the riskscan codebase.
package models

import "context"

// Capability is the input modality a request needs from a provider.
type Capability string

const (
	CapabilityText       Capability = "text"
	CapabilityMultiModal Capability = "multimodal"
)

// AIProvider is the core interface that all AI integrations must implement.
// Callers go through the fallback orchestrator, never a concrete provider.
type AIProvider interface {
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
	// SupportsMultiModal reports whether GenerateMultiModalContent can be served.
	SupportsMultiModal() bool
	// GenerateContent sends a text-only prompt and returns the raw model text.
	GenerateContent(ctx context.Context, prompt string) (string, error)
	// GenerateMultiModalContent sends a prompt together with a media reference.
	// Text-only providers return a capability-mismatch error.
	GenerateMultiModalContent(ctx context.Context, req MultiModalRequest) (string, error)
}

// MultiModalRequest is the input to a video-aware generation call.
type MultiModalRequest struct {
	Prompt   string
	MediaRef string // local path or URI of the media file
	AuxText  string // transcript or other accompanying text
	Metadata map[string]string
}

// GenerateRequest is what the orchestrator receives from the analysis layer.
// For text capability only Prompt is used.
type GenerateRequest struct {
	Prompt   string
	MediaRef string
	AuxText  string
	Metadata map[string]string
}
