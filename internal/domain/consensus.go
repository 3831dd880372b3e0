package domain

import (
	"context"
	"time"
)

// RiskLevel tags a decision option.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DecisionStatus is the lifecycle of one consensus decision:
// Pending → InProgress → {ConsensusReached | Failed | Timeout}.
type DecisionStatus string

const (
	DecisionPending          DecisionStatus = "pending"
	DecisionInProgress       DecisionStatus = "in_progress"
	DecisionConsensusReached DecisionStatus = "consensus_reached"
	DecisionFailed           DecisionStatus = "failed"
	DecisionTimeout          DecisionStatus = "timeout"
)

// DecisionOption is one mutually exclusive choice.
type DecisionOption struct {
	OptionID    string    `json:"option_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Cost        float64   `json:"cost,omitempty"`
}

// DecisionRequest asks a set of agents to pick one option.
type DecisionRequest struct {
	DecisionID         string            `json:"decision_id"`
	Title              string            `json:"title"`
	Description        string            `json:"description,omitempty"`
	Options            []DecisionOption  `json:"options"`
	RequiredAgents     []string          `json:"required_agents,omitempty"`
	ConsensusThreshold float64           `json:"consensus_threshold"` // 0 selects the engine default
	Timeout            time.Duration     `json:"timeout"`
	Context            map[string]string `json:"context,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// HasOption reports whether id names one of the request's options.
func (r DecisionRequest) HasOption(id string) bool {
	for _, o := range r.Options {
		if o.OptionID == id {
			return true
		}
	}
	return false
}

// OptionName returns the display name for id, or id itself.
func (r DecisionRequest) OptionName(id string) string {
	for _, o := range r.Options {
		if o.OptionID == id {
			if o.Name != "" {
				return o.Name
			}
			return id
		}
	}
	return id
}

// AgentVote binds one agent to one option.
type AgentVote struct {
	AgentID        string    `json:"agent_id"`
	DecisionID     string    `json:"decision_id"`
	SelectedOption string    `json:"selected_option"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConsensusResult is the immutable outcome of a decision.
type ConsensusResult struct {
	DecisionID        string             `json:"decision_id"`
	Status            DecisionStatus     `json:"status"`
	WinningOption     string             `json:"winning_option,omitempty"`
	SupportPercentage float64            `json:"support_percentage"`
	ConsensusReached  bool               `json:"consensus_reached"`
	VoteDistribution  map[string]int     `json:"vote_distribution"`
	WeightedScores    map[string]float64 `json:"weighted_scores"`
	Votes             []AgentVote        `json:"votes"`
	Outcome           string             `json:"decision_outcome"`
	FinalizedAt       time.Time          `json:"finalized_at"`
}

// VoteSource produces the votes for a decision. Implementations range from
// live agent channels to deterministic fakes.
type VoteSource interface {
	CollectVotes(ctx context.Context, req DecisionRequest) ([]AgentVote, error)
}

// DecisionSnapshot is the read view of an active decision.
type DecisionSnapshot struct {
	Request DecisionRequest `json:"request"`
	Status  DecisionStatus  `json:"status"`
	Votes   []AgentVote     `json:"votes"`
}
