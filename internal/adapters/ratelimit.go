package adapters

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Adapter so List and Download each wait on a shared
// token bucket before reaching the wrapped adapter (§5, §9: rate-limiting
// of remote adapters is left to the implementer; this is the opt-in knob).
// A nil limiter makes RateLimited a pass-through, so a source configured
// without a limit pays no overhead beyond one nil check per call.
type RateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

// WithRateLimit wraps adapter with limiter. If limiter is nil, adapter is
// returned unwrapped: the core never constructs a limiter itself, only a
// caller that opts in by passing one.
func WithRateLimit(adapter Adapter, limiter *rate.Limiter) Adapter {
	if limiter == nil {
		return adapter
	}
	return &RateLimited{inner: adapter, limiter: limiter}
}

// List implements Adapter.
func (r *RateLimited) List(ctx context.Context, dirPath string) ([]Entry, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.List(ctx, dirPath)
}

// Download implements Adapter.
func (r *RateLimited) Download(ctx context.Context, path string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Download(ctx, path)
}

// TestConnection implements Adapter. Left unrated, matching Resilient's
// reasoning: it reports reachability right now, not steady-state throughput.
func (r *RateLimited) TestConnection(ctx context.Context) ConnectionCheck {
	return r.inner.TestConnection(ctx)
}

var _ Adapter = (*RateLimited)(nil)
