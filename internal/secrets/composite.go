package secrets

import (
	"context"
	"fmt"
)

// CompositeProvider routes each reference to the provider registered for
// its scheme.
type CompositeProvider struct {
	providers map[string]Provider
}

// NewCompositeProvider registers providers by scheme. A later provider with
// the same scheme replaces the earlier one.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Scheme()] = p
	}
	return &CompositeProvider{providers: m}
}

// Default returns a provider for env:// and file:// references.
func Default() *CompositeProvider {
	return NewCompositeProvider(NewEnvProvider(), NewFileProvider())
}

func (p *CompositeProvider) Scheme() string { return "*" }

func (p *CompositeProvider) Resolve(ctx context.Context, ref string) (*Secret, error) {
	scheme := Scheme(ref)
	provider, ok := p.providers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for scheme %q in %q", ErrSecretNotFound, scheme, ref)
	}
	return provider.Resolve(ctx, ref)
}
