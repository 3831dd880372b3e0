package domain

import (
	"context"
	"time"
)

// IntentType classifies what the user is asking for.
type IntentType string

const (
	IntentInfrastructureRequest IntentType = "infrastructure_request"
	IntentOptimizationQuery     IntentType = "optimization_query"
	IntentSecurityConcern       IntentType = "security_concern"
	IntentCostAnalysis          IntentType = "cost_analysis"
	IntentPerformanceIssue      IntentType = "performance_issue"
	IntentComplianceQuestion    IntentType = "compliance_question"
	IntentLearningRequest       IntentType = "learning_request"
	IntentTroubleshootingHelp   IntentType = "troubleshooting_help"
	IntentGeneralInquiry        IntentType = "general_inquiry"
	IntentProactiveAssistance   IntentType = "proactive_assistance"
)

// UrgencyLevel mirrors MessagePriority for user intents.
type UrgencyLevel int

const (
	UrgencyLow UrgencyLevel = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
	UrgencyEmergency
)

// Priority maps urgency onto message priority.
func (u UrgencyLevel) Priority() MessagePriority {
	switch u {
	case UrgencyLow:
		return PriorityLow
	case UrgencyMedium:
		return PriorityNormal
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyCritical:
		return PriorityUrgent
	default:
		return PriorityEmergency
	}
}

// UserIntent is the output of intent analysis.
type UserIntent struct {
	Description   string            `json:"description"`
	Type          IntentType        `json:"intent_type"`
	Confidence    float64           `json:"confidence"`
	Entities      []string          `json:"entities,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	Goals         []string          `json:"goals,omitempty"`
	Urgency       UrgencyLevel      `json:"urgency"`
	Complexity    float64           `json:"complexity"`
	UserExpertise string            `json:"user_expertise,omitempty"`
	Clouds        []CloudProvider   `json:"clouds,omitempty"`
}

// DominantGoal returns the first goal, falling back to the intent type.
func (i UserIntent) DominantGoal() string {
	if len(i.Goals) > 0 && i.Goals[0] != "" {
		return i.Goals[0]
	}
	return string(i.Type)
}

// IntentAnalyzer turns free text into a UserIntent.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, text string, hints map[string]string) (UserIntent, error)
}

// AgentResponse is a successful per-agent contribution to a session.
type AgentResponse struct {
	AgentID      string            `json:"agent_id"`
	ResponseType string            `json:"response_type"`
	Content      string            `json:"content"`
	Confidence   float64           `json:"confidence"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SirsiResponse is the single user-facing answer synthesised from agent output.
type SirsiResponse struct {
	ResponseID           string    `json:"response_id"`
	Content              string    `json:"content"`
	Explanation          string    `json:"explanation"`
	Confidence           float64   `json:"confidence"`
	ProactiveSuggestions []string  `json:"proactive_suggestions,omitempty"`
	FollowUpQuestions    []string  `json:"follow_up_questions,omitempty"`
	LearningPoints       []string  `json:"learning_points"`
	FailedTargets        []string  `json:"failed_targets,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
