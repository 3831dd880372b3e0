package domain

import "time"

// ServiceType groups services into default port ranges.
type ServiceType string

const (
	ServiceRestAPI        ServiceType = "rest_api"
	ServiceWebSocket      ServiceType = "websocket"
	ServiceGRPC           ServiceType = "grpc_service"
	ServiceDatabase       ServiceType = "database"
	ServiceCache          ServiceType = "cache"
	ServiceAnalytics      ServiceType = "analytics"
	ServiceSecurity       ServiceType = "security"
	ServiceMonitor        ServiceType = "monitor"
	ServiceLoadBalancer   ServiceType = "load_balancer"
	ServiceFrontend       ServiceType = "frontend"
	ServiceAI             ServiceType = "ai"
	ServiceInfrastructure ServiceType = "infrastructure"
	ServiceFinancial      ServiceType = "financial"
	ServiceCustom         ServiceType = "custom"
)

// AllocationStatus tracks a port allocation.
type AllocationStatus string

const (
	AllocationReserved AllocationStatus = "reserved"
	AllocationActive   AllocationStatus = "active"
	AllocationInactive AllocationStatus = "inactive"
	AllocationExpired  AllocationStatus = "expired"
)

// PortRange is an inclusive range of ports.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether p falls inside the range.
func (r PortRange) Contains(p int) bool { return p >= r.Start && p <= r.End }

// PortRequest asks the registry for a port.
type PortRequest struct {
	ServiceName   string            `json:"service_name"`
	ServiceType   ServiceType       `json:"service_type"`
	PreferredPort int               `json:"preferred_port,omitempty"`
	Range         *PortRange        `json:"range,omitempty"`
	Required      bool              `json:"required"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PortAllocation is a granted port.
type PortAllocation struct {
	ID            string            `json:"allocation_id"`
	Port          int               `json:"port"`
	ServiceName   string            `json:"service_name"`
	ServiceType   ServiceType       `json:"service_type"`
	Status        AllocationStatus  `json:"status"`
	AllocatedAt   time.Time         `json:"allocated_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PortStats counts allocations by status and type.
type PortStats struct {
	Total    int                 `json:"total"`
	Active   int                 `json:"active"`
	Reserved int                 `json:"reserved"`
	Inactive int                 `json:"inactive"`
	Expired  int                 `json:"expired"`
	ByType   map[ServiceType]int `json:"by_type"`
}
