package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"sirsi-hub/internal/domain"
)

const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures BreakerConnector.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Interval clears failure counts while closed. Zero keeps them until the circuit opens.
	Interval time.Duration
}

// BreakerConnector fails fast once a provider keeps failing.
type BreakerConnector struct {
	inner   domain.CloudConnector
	breaker *gobreaker.CircuitBreaker[domain.DiscoveryResult]
}

// NewBreakerConnector wraps inner with a circuit breaker.
func NewBreakerConnector(inner domain.CloudConnector, cfg BreakerConfig, logger *slog.Logger) *BreakerConnector {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[domain.DiscoveryResult](gobreaker.Settings{
		Name:        "connector:" + string(inner.Provider()),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("connector breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A cancelled caller says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerConnector{inner: inner, breaker: cb}
}

func (b *BreakerConnector) Provider() domain.CloudProvider { return b.inner.Provider() }

// DiscoverResources routes the scan through the breaker.
func (b *BreakerConnector) DiscoverResources(ctx context.Context, resourceTypes []string) (domain.DiscoveryResult, error) {
	res, err := b.breaker.Execute(func() (domain.DiscoveryResult, error) {
		return b.inner.DiscoverResources(ctx, resourceTypes)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.DiscoveryResult{}, domain.NewSubSystemError("connector", "BreakerConnector.DiscoverResources",
			domain.ErrCircuitOpen, fmt.Sprintf("%s: %v", b.inner.Provider(), err))
	}
	return res, err
}

// State returns the breaker state for health reporting.
func (b *BreakerConnector) State() gobreaker.State { return b.breaker.State() }

var _ domain.CloudConnector = (*BreakerConnector)(nil)
