package domain

import (
	"context"
	"time"
)

// CloudResource is one discovered resource.
type CloudResource struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Provider CloudProvider     `json:"provider"`
	Region   string            `json:"region"`
	Status   string            `json:"status"`
	Tags     map[string]string `json:"tags,omitempty"`
	CostHour float64           `json:"cost_per_hour,omitempty"`
}

// DiscoveryResult is what a connector returns for one scan.
type DiscoveryResult struct {
	Resources  []CloudResource `json:"resources"`
	Errors     []string        `json:"errors,omitempty"`
	ScanTimeMs int64           `json:"scan_time_ms"`
}

// CloudConnector discovers resources on one provider.
type CloudConnector interface {
	Provider() CloudProvider
	DiscoverResources(ctx context.Context, resourceTypes []string) (DiscoveryResult, error)
}

// ScanDuration returns the scan time as a duration.
func (r DiscoveryResult) ScanDuration() time.Duration {
	return time.Duration(r.ScanTimeMs) * time.Millisecond
}
