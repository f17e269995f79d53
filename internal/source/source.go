// Package source turns a job's source reference into analysable text.
package source

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrNoContent means the reference yielded neither text nor metadata.
	ErrNoContent = errors.New("source has no usable content")
	// ErrFetch wraps failures to retrieve a remote reference.
	ErrFetch = errors.New("source fetch failed")
)

// Document is acquired content plus whatever metadata came with it.
type Document struct {
	Text     string
	Metadata map[string]string
	// Partial is set when Text was assembled from metadata only.
	Partial bool
}

// Acquirer resolves a source reference.
type Acquirer interface {
	Acquire(ctx context.Context, ref string) (Document, error)
}

// Resolver fetches http(s) references and treats anything else as inline text.
type Resolver struct {
	remote Acquirer
}

func NewResolver(remote Acquirer) *Resolver {
	return &Resolver{remote: remote}
}

func (r *Resolver) Acquire(ctx context.Context, ref string) (Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Document{}, ErrNoContent
	}
	if IsRemote(ref) {
		return r.remote.Acquire(ctx, ref)
	}
	return Document{Text: ref, Metadata: map[string]string{}}, nil
}

// IsRemote reports whether ref is an absolute http or https URL.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
