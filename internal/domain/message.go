package domain

import (
	"encoding/json"
	"time"
)

// SirsiMessageType enumerates Sirsi→Agent requests.
type SirsiMessageType string

const (
	MsgInformationRequest  SirsiMessageType = "information_request"
	MsgActionRequest       SirsiMessageType = "action_request"
	MsgStatusQuery         SirsiMessageType = "status_query"
	MsgCapabilityInquiry   SirsiMessageType = "capability_inquiry"
	MsgHealthCheck         SirsiMessageType = "health_check"
	MsgConfigurationUpdate SirsiMessageType = "configuration_update"
	MsgContextSync         SirsiMessageType = "context_sync"
	MsgEmergencyAlert      SirsiMessageType = "emergency_alert"
)

// AgentMessageType enumerates Agent→Sirsi messages.
type AgentMessageType string

const (
	MsgInformationResponse AgentMessageType = "information_response"
	MsgActionResponse      AgentMessageType = "action_response"
	MsgStatusUpdate        AgentMessageType = "status_update"
	MsgCapabilityReport    AgentMessageType = "capability_report"
	MsgHealthReport        AgentMessageType = "health_report"
	MsgErrorReport         AgentMessageType = "error_report"
	MsgProactiveAlert      AgentMessageType = "proactive_alert"
	MsgContextUpdate       AgentMessageType = "context_update"
)

// MessagePriority orders messages by urgency.
type MessagePriority int

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityEmergency
)

var priorityNames = [...]string{"low", "normal", "high", "urgent", "emergency"}

func (p MessagePriority) String() string {
	if p < PriorityLow || p > PriorityEmergency {
		return "unknown"
	}
	return priorityNames[p]
}

// SirsiToAgentMessage is an immutable request envelope sent to an agent.
type SirsiToAgentMessage struct {
	MessageID     string            `json:"message_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Type          SirsiMessageType  `json:"message_type"`
	Content       string            `json:"content"`
	Context       map[string]string `json:"context,omitempty"`
	Priority      MessagePriority   `json:"priority"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// NewSirsiMessage stamps a fresh id and timestamp.
func NewSirsiMessage(typ SirsiMessageType, content string, priority MessagePriority) SirsiToAgentMessage {
	now := time.Now()
	return SirsiToAgentMessage{
		MessageID: NewULID(now),
		Timestamp: now,
		Type:      typ,
		Content:   content,
		Context:   map[string]string{},
		Priority:  priority,
	}
}

// AgentToSirsiMessage is an immutable envelope produced by an agent.
// CorrelationID carries the MessageID of the request being answered.
type AgentToSirsiMessage struct {
	MessageID        string                     `json:"message_id"`
	AgentID          string                     `json:"agent_id"`
	Timestamp        time.Time                  `json:"timestamp"`
	Type             AgentMessageType           `json:"message_type"`
	Content          string                     `json:"content"`
	Data             map[string]json.RawMessage `json:"data,omitempty"`
	Confidence       float64                    `json:"confidence"`
	ProcessingTimeMs int64                      `json:"processing_time_ms"`
	FollowUpNeeded   bool                       `json:"follow_up_needed"`
	Priority         MessagePriority            `json:"priority"`
	CorrelationID    string                     `json:"correlation_id,omitempty"`
}

// NewAgentReply builds the reply envelope for req.
func NewAgentReply(agentID string, req SirsiToAgentMessage, typ AgentMessageType, content string, confidence float64) AgentToSirsiMessage {
	now := time.Now()
	return AgentToSirsiMessage{
		MessageID:     NewULID(now),
		AgentID:       agentID,
		Timestamp:     now,
		Type:          typ,
		Content:       content,
		Data:          map[string]json.RawMessage{},
		Confidence:    clamp01(confidence),
		Priority:      req.Priority,
		CorrelationID: req.MessageID,
	}
}

// QueuedMessage is a pending outbound message with retry bookkeeping.
type QueuedMessage struct {
	Message    SirsiToAgentMessage `json:"message"`
	QueuedAt   time.Time           `json:"queued_at"`
	RetryCount int                 `json:"retry_count"`
	MaxRetries int                 `json:"max_retries"`
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
