package domain

import "time"

// UserPreferences are priorities in [0,1].
type UserPreferences struct {
	CostPriority        float64 `json:"cost_priority"`
	PerformancePriority float64 `json:"performance_priority"`
	SecurityPriority    float64 `json:"security_priority"`
	RiskTolerance       float64 `json:"risk_tolerance"`
}

// ConstraintType discriminates Constraint.
type ConstraintType string

const (
	ConstraintBudget      ConstraintType = "budget"
	ConstraintCompliance  ConstraintType = "compliance"
	ConstraintRegion      ConstraintType = "region"
	ConstraintPerformance ConstraintType = "performance"
)

// Constraint restricts acceptable options. For Budget constraints,
// Parameters["max_budget"] is the ceiling.
type Constraint struct {
	Type       ConstraintType     `json:"type"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Hard       bool               `json:"hard"`
}

// Objective is a weighted goal. Weight must be positive.
type Objective struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// DecisionContext is the input of the policy review layer.
type DecisionContext struct {
	UserID      string          `json:"user_id,omitempty"`
	Preferences UserPreferences `json:"preferences"`
	Constraints []Constraint    `json:"constraints,omitempty"`
	Objectives  []Objective     `json:"objectives,omitempty"`
}

// MaxBudget returns the tightest budget ceiling, if any.
func (c DecisionContext) MaxBudget() (float64, bool) {
	var (
		limit float64
		found bool
	)
	for _, con := range c.Constraints {
		if con.Type != ConstraintBudget {
			continue
		}
		v, ok := con.Parameters["max_budget"]
		if !ok {
			continue
		}
		if !found || v < limit {
			limit, found = v, true
		}
	}
	return limit, found
}

// RiskAssessment summarises an option's risk in [0,1].
type RiskAssessment struct {
	OverallRisk float64  `json:"overall_risk"`
	Factors     []string `json:"factors,omitempty"`
}

// Option is a candidate action scored by the policy layer.
type Option struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	EstimatedCost    float64        `json:"estimated_cost"`
	PerformanceScore float64        `json:"performance_score"`
	SecurityScore    float64        `json:"security_score"`
	Risk             RiskAssessment `json:"risk"`
}

// RiskLevel maps the numeric risk onto the consensus risk tags.
func (o Option) RiskLevel() RiskLevel {
	switch r := o.Risk.OverallRisk; {
	case r < 0.25:
		return RiskLow
	case r < 0.5:
		return RiskMedium
	case r < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// SafetyValidation is the outcome of one safety rule for one option.
type SafetyValidation struct {
	Rule     string `json:"rule"`
	OptionID string `json:"option_id"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// ScoredOption is an option with its weighted-sum score.
type ScoredOption struct {
	Option Option  `json:"option"`
	Score  float64 `json:"score"`
}

// Decision is the policy layer's recommendation.
type Decision struct {
	ID           string         `json:"id"`
	Recommended  Option         `json:"recommended"`
	Score        float64        `json:"score"`
	Confidence   float64        `json:"confidence"`
	Alternatives []ScoredOption `json:"alternatives"`
	Warnings     []string       `json:"warnings,omitempty"`
	Reasoning    string         `json:"reasoning"`
	CreatedAt    time.Time      `json:"created_at"`
}
