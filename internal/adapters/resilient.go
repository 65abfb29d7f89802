package adapters

import (
	"context"

	"github.com/archivist/engine/internal/circuit"
	"github.com/archivist/engine/pkg/retry"
)

// Resilient wraps an Adapter with a circuit breaker and a retry policy,
// covering every Remote Adapter's network calls — the adapter-call
// suspension points §5 names as retriable. Either layer may be nil to
// disable it.
type Resilient struct {
	inner   Adapter
	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
}

// WithResilience wraps adapter so its List and Download calls go through
// a circuit breaker (fails fast once a source looks unreachable) wrapping
// a retryer (absorbs single transient blips within one breaker request).
// TestConnection is deliberately left unwrapped: its entire purpose is to
// report the single-attempt, right-now reachability of a source.
func WithResilience(adapter Adapter, breaker *circuit.CircuitBreaker, retryer *retry.Retryer) Adapter {
	if breaker == nil && retryer == nil {
		return adapter
	}
	return &Resilient{inner: adapter, breaker: breaker, retryer: retryer}
}

func (r *Resilient) run(ctx context.Context, attempt func(context.Context) error) error {
	if r.retryer != nil {
		inner := attempt
		attempt = func(ctx context.Context) error { return r.retryer.DoWithContext(ctx, inner) }
	}
	if r.breaker != nil {
		return r.breaker.ExecuteWithContext(ctx, attempt)
	}
	return attempt(ctx)
}

// List implements Adapter.
func (r *Resilient) List(ctx context.Context, dirPath string) ([]Entry, error) {
	var entries []Entry
	err := r.run(ctx, func(ctx context.Context) error {
		var innerErr error
		entries, innerErr = r.inner.List(ctx, dirPath)
		return innerErr
	})
	return entries, err
}

// Download implements Adapter.
func (r *Resilient) Download(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.run(ctx, func(ctx context.Context) error {
		var innerErr error
		data, innerErr = r.inner.Download(ctx, path)
		return innerErr
	})
	return data, err
}

// TestConnection implements Adapter.
func (r *Resilient) TestConnection(ctx context.Context) ConnectionCheck {
	return r.inner.TestConnection(ctx)
}

var _ Adapter = (*Resilient)(nil)
