package domain

import (
	"fmt"
	"strings"
	"time"
)

// CloudProvider names a cloud platform an agent can front.
type CloudProvider string

const (
	ProviderAWS          CloudProvider = "aws"
	ProviderAzure        CloudProvider = "azure"
	ProviderGCP          CloudProvider = "gcp"
	ProviderDigitalOcean CloudProvider = "digitalocean"
	ProviderKubernetes   CloudProvider = "kubernetes"
	ProviderHybrid       CloudProvider = "hybrid"
)

// ParseCloudProvider maps user-facing spellings onto a CloudProvider.
func ParseCloudProvider(s string) (CloudProvider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aws", "amazon":
		return ProviderAWS, nil
	case "azure", "microsoft":
		return ProviderAzure, nil
	case "gcp", "google", "googlecloud":
		return ProviderGCP, nil
	case "digitalocean", "do":
		return ProviderDigitalOcean, nil
	case "kubernetes", "k8s":
		return ProviderKubernetes, nil
	case "hybrid":
		return ProviderHybrid, nil
	}
	return "", NewDomainError("ParseCloudProvider", ErrInvalidInput, s)
}

// AgentID returns the static channel identity for the provider.
func (p CloudProvider) AgentID() string { return string(p) }

// AgentName is the user-facing name of the provider's agent, e.g. "aws-agent".
func (p CloudProvider) AgentName() string { return string(p) + "-agent" }

// AgentKind is the discriminator of AgentType.
type AgentKind string

const (
	AgentKindCloudProvider AgentKind = "cloud_provider"
	AgentKindSecurity      AgentKind = "security"
	AgentKindMonitoring    AgentKind = "monitoring"
	AgentKindOptimization  AgentKind = "optimization"
	AgentKindCompliance    AgentKind = "compliance"
	AgentKindIntegration   AgentKind = "integration"
)

// AgentType is a closed tagged variant. Exactly one payload field is
// meaningful, selected by Kind.
type AgentType struct {
	Kind             AgentKind     `json:"kind"`
	Provider         CloudProvider `json:"provider,omitempty"`
	Domain           string        `json:"domain,omitempty"`
	Scope            string        `json:"scope,omitempty"`
	OptimizationType string        `json:"optimization_type,omitempty"`
	Framework        string        `json:"framework,omitempty"`
	Service          string        `json:"service,omitempty"`
}

// CloudAgent returns the AgentType for a cloud provider channel.
func CloudAgent(p CloudProvider) AgentType {
	return AgentType{Kind: AgentKindCloudProvider, Provider: p}
}

func (t AgentType) String() string {
	switch t.Kind {
	case AgentKindCloudProvider:
		return fmt.Sprintf("cloud_provider(%s)", t.Provider)
	case AgentKindSecurity:
		return fmt.Sprintf("security(%s)", t.Domain)
	case AgentKindMonitoring:
		return fmt.Sprintf("monitoring(%s)", t.Scope)
	case AgentKindOptimization:
		return fmt.Sprintf("optimization(%s)", t.OptimizationType)
	case AgentKindCompliance:
		return fmt.Sprintf("compliance(%s)", t.Framework)
	case AgentKindIntegration:
		return fmt.Sprintf("integration(%s)", t.Service)
	}
	return "unknown"
}

// Validate checks that the payload matching Kind is present.
func (t AgentType) Validate() error {
	var missing bool
	switch t.Kind {
	case AgentKindCloudProvider:
		missing = t.Provider == ""
	case AgentKindSecurity:
		missing = t.Domain == ""
	case AgentKindMonitoring:
		missing = t.Scope == ""
	case AgentKindOptimization:
		missing = t.OptimizationType == ""
	case AgentKindCompliance:
		missing = t.Framework == ""
	case AgentKindIntegration:
		missing = t.Service == ""
	default:
		return NewDomainError("AgentType.Validate", ErrInvalidInput, "unknown kind "+string(t.Kind))
	}
	if missing {
		return NewDomainError("AgentType.Validate", ErrInvalidInput, "missing payload for "+string(t.Kind))
	}
	return nil
}

// HealthStatus is the last recorded health of an agent channel.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
)

// AgentHealth is the health snapshot kept per channel.
type AgentHealth struct {
	Status          HealthStatus  `json:"status"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	ResponseTimeAvg time.Duration `json:"response_time_avg"`
	ErrorRate       float64       `json:"error_rate"`
	Uptime          time.Duration `json:"uptime"`
	CurrentLoad     float64       `json:"current_load"`
}

// IsHealthy reports whether the last recorded status equals Healthy.
func (h AgentHealth) IsHealthy() bool { return h.Status == HealthHealthy }

// AgentState is the lifecycle state of an agent instance created through the API.
type AgentState string

const (
	AgentStateReady   AgentState = "ready"
	AgentStateBusy    AgentState = "busy"
	AgentStateError   AgentState = "error"
	AgentStateStopped AgentState = "stopped"
)

// AgentInstance is an agent created inside a hub session. It is bound to the
// static channel of its provider; all traffic still flows through the communicator.
type AgentInstance struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Type         AgentType         `json:"type"`
	ChannelID    string            `json:"channel_id"`
	State        AgentState        `json:"state"`
	Config       map[string]string `json:"config,omitempty"`
	Capabilities []string          `json:"capabilities"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CommunicationMetrics summarises communicator traffic.
type CommunicationMetrics struct {
	MessagesSent     uint64        `json:"messages_sent"`
	MessagesReceived uint64        `json:"messages_received"`
	Errors           uint64        `json:"errors"`
	AvgResponseTime  time.Duration `json:"avg_response_time"`
	ErrorRate        float64       `json:"error_rate"`
}
