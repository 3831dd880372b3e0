package connector

import (
	"context"

	"golang.org/x/time/rate"

	"sirsi-hub/internal/domain"
)

// RateLimitedConnector throttles scans to a provider.
type RateLimitedConnector struct {
	inner   domain.CloudConnector
	limiter *rate.Limiter
}

// NewRateLimitedConnector allows perSecond scans with the given burst.
// A non-positive perSecond disables throttling.
func NewRateLimitedConnector(inner domain.CloudConnector, perSecond float64, burst int) *RateLimitedConnector {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedConnector{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedConnector) Provider() domain.CloudProvider { return r.inner.Provider() }

// DiscoverResources waits for a token, then scans. A wait that cannot
// complete before ctx is done reports ErrRateLimit.
func (r *RateLimitedConnector) DiscoverResources(ctx context.Context, resourceTypes []string) (domain.DiscoveryResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.DiscoveryResult{}, domain.NewSubSystemError("connector", "RateLimitedConnector.DiscoverResources",
			domain.ErrRateLimit, string(r.inner.Provider())+": "+err.Error())
	}
	return r.inner.DiscoverResources(ctx, resourceTypes)
}

var _ domain.CloudConnector = (*RateLimitedConnector)(nil)
