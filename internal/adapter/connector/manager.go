package connector

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/tracer"
)

// Manager holds one connector per provider.
type Manager struct {
	mu         sync.RWMutex
	connectors map[domain.CloudProvider]domain.CloudConnector
	logger     *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		connectors: make(map[domain.CloudProvider]domain.CloudConnector),
		logger:     logger,
	}
}

// Register adds or replaces the connector for c.Provider().
func (m *Manager) Register(c domain.CloudConnector) {
	m.mu.Lock()
	m.connectors[c.Provider()] = c
	m.mu.Unlock()
}

// Get returns the connector for provider.
func (m *Manager) Get(provider domain.CloudProvider) (domain.CloudConnector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[provider]
	if !ok {
		return nil, domain.NewSubSystemError("connector", "Manager.Get", domain.ErrNotFound, string(provider))
	}
	return c, nil
}

// Providers lists registered providers in sorted order.
func (m *Manager) Providers() []domain.CloudProvider {
	m.mu.RLock()
	out := make([]domain.CloudProvider, 0, len(m.connectors))
	for p := range m.connectors {
		out = append(out, p)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Discover scans provider for resourceTypes.
func (m *Manager) Discover(ctx context.Context, provider domain.CloudProvider, resourceTypes []string) (domain.DiscoveryResult, error) {
	ctx, span := tracer.StartSpan(ctx, "connector.discover",
		tracer.StringAttr("connector.provider", string(provider)),
		tracer.IntAttr("connector.resource_types", len(resourceTypes)),
	)
	defer span.End()

	c, err := m.Get(provider)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.DiscoveryResult{}, err
	}

	start := time.Now()
	res, err := c.DiscoverResources(ctx, resourceTypes)
	if err != nil {
		tracer.RecordError(span, err)
		m.logger.Warn("resource discovery failed", "provider", provider, "error", err, "duration", time.Since(start))
		return domain.DiscoveryResult{}, err
	}
	span.SetAttributes(tracer.IntAttr("connector.resources", len(res.Resources)))
	tracer.SetOK(span)
	m.logger.Debug("resource discovery completed", "provider", provider, "resources", len(res.Resources), "duration", time.Since(start))
	return res, nil
}
