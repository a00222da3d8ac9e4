// ABOUTME: Credential provider interface, static provider, and refreshing gate.
// ABOUTME: Resolved once per connection attempt; expired tokens refresh via hook.

package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRefreshUnsupported indicates an expired credential with no refresh hook.
var ErrRefreshUnsupported = errors.New("credential refresh not supported")

// Provider resolves the current credential. The engine calls Resolve once per
// connection attempt; a resolution failure is surfaced as a terminal
// authentication fault, never retried by the stream loop.
type Provider interface {
	Resolve(ctx context.Context) (Credential, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Credential, error)

// Resolve implements Provider.
func (f ProviderFunc) Resolve(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Static returns a provider that always resolves the same credential.
func Static(cred Credential) Provider {
	return ProviderFunc(func(context.Context) (Credential, error) {
		return cred, nil
	})
}

// RefreshFunc exchanges an expired credential for a fresh one.
type RefreshFunc func(ctx context.Context, expired Credential) (Credential, error)

// Gate wraps a Provider with local expiry inspection and a refresh hook.
// A resolved token credential whose exp claim has passed is refreshed before
// being returned; the refreshed credential is cached until it too expires.
type Gate struct {
	provider Provider
	refresh  RefreshFunc
	now      func() time.Time

	mu     sync.Mutex
	cached *Credential
}

// NewGate creates a gate over provider. refresh may be nil, in which case an
// expired credential resolves to ErrRefreshUnsupported.
func NewGate(provider Provider, refresh RefreshFunc) *Gate {
	return &Gate{provider: provider, refresh: refresh, now: time.Now}
}

// Resolve implements Provider.
func (g *Gate) Resolve(ctx context.Context) (Credential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cred, err := g.current(ctx)
	if err != nil {
		return Credential{}, err
	}

	if !cred.Expired(g.now()) {
		return cred, nil
	}

	if g.refresh == nil {
		return Credential{}, fmt.Errorf("%w: %s", ErrRefreshUnsupported, cred.Kind)
	}

	fresh, err := g.refresh(ctx, cred)
	if err != nil {
		return Credential{}, fmt.Errorf("refreshing credential: %w", err)
	}
	if fresh.Expired(g.now()) {
		return Credential{}, ErrExpiredToken
	}

	g.cached = &fresh
	return fresh, nil
}

// current returns the cached refreshed credential if still valid, otherwise
// resolves from the underlying provider. Must be called with mu held.
func (g *Gate) current(ctx context.Context) (Credential, error) {
	if g.cached != nil && !g.cached.Expired(g.now()) {
		return *g.cached, nil
	}
	g.cached = nil
	return g.provider.Resolve(ctx)
}
