package hub

import (
	"time"

	"sirsi-hub/internal/domain"
)

// SessionState is the lifecycle state of a hub session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
)

// AgentTypeInfo describes an agent type a session can create.
type AgentTypeInfo struct {
	TypeID        string            `json:"type_id"`
	DisplayName   string            `json:"display_name"`
	Description   string            `json:"description"`
	Version       string            `json:"version"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	DefaultConfig map[string]string `json:"default_config,omitempty"`
}

// Session is the user-facing hub session.
type Session struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	State     SessionState      `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type CreateSessionRequest struct {
	UserID  string            `json:"user_id"`
	Context map[string]string `json:"context,omitempty"`
}

type CreateSessionResponse struct {
	Session             Session         `json:"session"`
	AvailableAgentTypes []AgentTypeInfo `json:"available_agent_types"`
}

// Capability is one thing an agent can do.
type Capability struct {
	CapabilityID string `json:"capability_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

// Agent is the API view of an agent instance.
type Agent struct {
	AgentID   string            `json:"agent_id"`
	SessionID string            `json:"session_id"`
	AgentType string            `json:"agent_type"`
	State     domain.AgentState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Config    map[string]string `json:"config,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type CreateAgentRequest struct {
	SessionID string            `json:"session_id"`
	AgentType string            `json:"agent_type"`
	Config    map[string]string `json:"config,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

type CreateAgentResponse struct {
	Agent        Agent        `json:"agent"`
	Capabilities []Capability `json:"capabilities"`
}

// MessageType tags a Message.
type MessageType string

const (
	MessageUser     MessageType = "user"
	MessageResponse MessageType = "response"
)

// Message is one conversational turn.
type Message struct {
	MessageID string            `json:"message_id"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SuggestionAction is an optional follow-up a client can run.
type SuggestionAction struct {
	ActionType string            `json:"action_type"`
	Command    string            `json:"command,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Suggestion is a proactive hint returned alongside responses.
type Suggestion struct {
	SuggestionID string            `json:"suggestion_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Type         string            `json:"type"`
	Confidence   float64           `json:"confidence"`
	Priority     int               `json:"priority"`
	Action       *SuggestionAction `json:"action,omitempty"`
}

type SendMessageRequest struct {
	SessionID string            `json:"session_id"`
	AgentID   string            `json:"agent_id,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageMetrics reports how the orchestration behind a reply went.
type MessageMetrics struct {
	OrchestrationID  string   `json:"orchestration_id"`
	AgentsAttempted  int      `json:"agents_attempted"`
	AgentsSucceeded  int      `json:"agents_succeeded"`
	AgentsFailed     int      `json:"agents_failed"`
	FailedTargets    []string `json:"failed_targets,omitempty"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

type SendMessageResponse struct {
	MessageID      string         `json:"message_id"`
	Response       Message        `json:"response"`
	LearningPoints []string       `json:"learning_points,omitempty"`
	Suggestions    []Suggestion   `json:"suggestions"`
	Metrics        MessageMetrics `json:"metrics"`
	ReceivedAt     time.Time      `json:"received_at"`
}

type GetAgentStatusRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// AgentStatus is the live state of an agent instance.
type AgentStatus struct {
	State            domain.AgentState   `json:"state"`
	StatusMessage    string              `json:"status_message"`
	LastActivity     time.Time           `json:"last_activity"`
	ActiveOperations int                 `json:"active_operations"`
	ChannelHealth    domain.HealthStatus `json:"channel_health"`
}

// AgentMetrics counts the work done by one agent instance.
type AgentMetrics struct {
	MessagesProcessed     uint64  `json:"messages_processed"`
	OperationsCompleted   uint64  `json:"operations_completed"`
	ErrorsEncountered     uint64  `json:"errors_encountered"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

type GetAgentStatusResponse struct {
	Status             AgentStatus  `json:"status"`
	Metrics            AgentMetrics `json:"metrics"`
	ActiveCapabilities []Capability `json:"active_capabilities"`
	HealthStatus       string       `json:"health_status"`
}

type GetSuggestionsRequest struct {
	SessionID string            `json:"session_id"`
	AgentID   string            `json:"agent_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

type GetSuggestionsResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
	ContextID   string       `json:"context_id"`
}

type GetSystemHealthRequest struct{}

// OverallStatus summarises system health.
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "healthy"
	StatusDegraded  OverallStatus = "degraded"
	StatusUnhealthy OverallStatus = "unhealthy"
)

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// SystemHealth is the aggregate health snapshot.
type SystemHealth struct {
	Status    OverallStatus                 `json:"status"`
	Agents    map[string]domain.AgentHealth `json:"agents"`
	Store     ComponentHealth               `json:"store"`
	CheckedAt time.Time                     `json:"checked_at"`
}

// SystemMetrics gathers counters across subsystems.
type SystemMetrics struct {
	Communication   domain.CommunicationMetrics `json:"communication"`
	Orchestration   domain.OrchestrationMetrics `json:"orchestration"`
	ActiveDecisions int                         `json:"active_decisions"`
	AgentInstances  int                         `json:"agent_instances"`
	Knowledge       domain.KnowledgeStats       `json:"knowledge"`
	Ports           domain.PortStats            `json:"ports"`
}

type GetSystemHealthResponse struct {
	Health  SystemHealth  `json:"health"`
	Metrics SystemMetrics `json:"metrics"`
}

// DecideRequest asks the decision engine to rank options. Threshold is only
// used by ReviewDecision; zero selects the consensus default.
type DecideRequest struct {
	Context   domain.DecisionContext `json:"context"`
	Options   []domain.Option        `json:"options"`
	Threshold float64                `json:"threshold,omitempty"`
}
