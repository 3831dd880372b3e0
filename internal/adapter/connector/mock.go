package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

// catalogue is the fixed inventory each mock provider reports.
var catalogue = map[domain.CloudProvider][]domain.CloudResource{
	domain.ProviderAWS: {
		{ID: "i-0a1b2c3d4e5f", Name: "web-server-1", Type: "compute", Region: "us-east-1", Status: "running", CostHour: 0.096},
		{ID: "sirsi-assets-bucket", Name: "sirsi-assets", Type: "storage", Region: "us-east-1", Status: "available", CostHour: 0.012},
		{ID: "db-prod-postgres", Name: "prod-postgres", Type: "database", Region: "us-east-1", Status: "available", CostHour: 0.24},
	},
	domain.ProviderAzure: {
		{ID: "vm-sirsi-eastus-01", Name: "app-vm-1", Type: "compute", Region: "eastus", Status: "running", CostHour: 0.104},
		{ID: "stsirsiassets", Name: "sirsi-storage", Type: "storage", Region: "eastus", Status: "available", CostHour: 0.01},
	},
	domain.ProviderGCP: {
		{ID: "gce-sirsi-central-1", Name: "worker-1", Type: "compute", Region: "us-central1", Status: "running", CostHour: 0.095},
		{ID: "gs-sirsi-datalake", Name: "datalake", Type: "storage", Region: "us-central1", Status: "available", CostHour: 0.02},
		{ID: "sql-sirsi-analytics", Name: "analytics-sql", Type: "database", Region: "us-central1", Status: "available", CostHour: 0.18},
	},
	domain.ProviderDigitalOcean: {
		{ID: "droplet-312554", Name: "edge-droplet", Type: "compute", Region: "nyc3", Status: "active", CostHour: 0.036},
	},
}

// MockConnector returns a fixed inventory for one provider.
type MockConnector struct {
	provider domain.CloudProvider
	latency  time.Duration

	mu      sync.RWMutex
	failErr error
	calls   int
}

// MockOption configures a MockConnector.
type MockOption func(*MockConnector)

// WithLatency delays every scan by d (or until ctx is done).
func WithLatency(d time.Duration) MockOption {
	return func(m *MockConnector) { m.latency = d }
}

// FailWith makes every scan fail with err.
func FailWith(err error) MockOption {
	return func(m *MockConnector) { m.failErr = err }
}

// NewMockConnector creates a mock connector for provider.
func NewMockConnector(provider domain.CloudProvider, opts ...MockOption) *MockConnector {
	m := &MockConnector{provider: provider}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MockConnector) Provider() domain.CloudProvider { return m.provider }

// SetFailure switches the failure mode at runtime; nil restores success.
func (m *MockConnector) SetFailure(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Calls returns how many scans reached the connector.
func (m *MockConnector) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// DiscoverResources returns the catalogue entries whose type is in
// resourceTypes, or all of them when resourceTypes is empty.
func (m *MockConnector) DiscoverResources(ctx context.Context, resourceTypes []string) (domain.DiscoveryResult, error) {
	start := time.Now()

	m.mu.Lock()
	m.calls++
	failErr := m.failErr
	m.mu.Unlock()

	if m.latency > 0 {
		t := time.NewTimer(m.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.DiscoveryResult{}, domain.NewSubSystemError("connector", "MockConnector.DiscoverResources", domain.ErrTimeout, string(m.provider))
		case <-t.C:
		}
	}
	if failErr != nil {
		return domain.DiscoveryResult{}, domain.NewSubSystemError("connector", "MockConnector.DiscoverResources",
			domain.ErrProviderError, fmt.Sprintf("%s: %v", m.provider, failErr))
	}

	want := make(map[string]bool, len(resourceTypes))
	for _, t := range resourceTypes {
		want[t] = true
	}

	var res domain.DiscoveryResult
	var unknown []string
	for _, t := range resourceTypes {
		if !hasType(m.provider, t) {
			unknown = append(unknown, t)
		}
	}
	for _, r := range catalogue[m.provider] {
		if len(want) > 0 && !want[r.Type] {
			continue
		}
		r.Provider = m.provider
		r.Tags = map[string]string{"managed-by": "sirsi"}
		res.Resources = append(res.Resources, r)
	}
	for _, t := range unknown {
		res.Errors = append(res.Errors, fmt.Sprintf("resource type %q not supported by %s", t, m.provider))
	}
	res.ScanTimeMs = time.Since(start).Milliseconds()
	return res, nil
}

func hasType(p domain.CloudProvider, typ string) bool {
	for _, r := range catalogue[p] {
		if r.Type == typ {
			return true
		}
	}
	return false
}

var _ domain.CloudConnector = (*MockConnector)(nil)
