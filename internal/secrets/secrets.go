// Package secrets resolves opaque references such as "env://WARDEN_PIN" into
// secret material. It is used to bootstrap the PIN and the HTTP signing key
// without writing them into the config file.
package secrets

import (
	"context"
	"errors"
	"strings"
)

// Secret holds resolved material. Never log or serialize Value.
type Secret struct {
	Value    string
	Metadata map[string]string // Provider-specific, never secret.
}

// Provider resolves references of one or more schemes.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve returns ErrSecretNotFound (wrapped) when ref cannot be resolved.
	Resolve(ctx context.Context, ref string) (*Secret, error)
	// Scheme is the reference prefix handled, without "://" (e.g. "env").
	Scheme() string
}

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Scheme returns the scheme of ref ("env" for "env://X"), or "".
func Scheme(ref string) string {
	s, _, ok := strings.Cut(ref, "://")
	if !ok {
		return ""
	}
	return s
}

// IsRef reports whether s looks like a secret reference rather than a literal.
func IsRef(s string) bool {
	return Scheme(s) != ""
}
