package domain

import (
	"time"
)

// StrategyKind discriminates OrchestrationStrategy.
type StrategyKind string

const (
	StrategyParallel   StrategyKind = "parallel"
	StrategySequential StrategyKind = "sequential"
)

// OrchestrationStrategy is a tagged variant:
// Parallel{TimeoutSeconds, RequireAllSuccess} | Sequential{StopOnFirstSuccess, MaxConcurrent}.
type OrchestrationStrategy struct {
	Kind StrategyKind `json:"kind"`

	TimeoutSeconds    int  `json:"timeout_seconds,omitempty"`
	RequireAllSuccess bool `json:"require_all_success,omitempty"`

	StopOnFirstSuccess bool `json:"stop_on_first_success,omitempty"`
	MaxConcurrent      int  `json:"max_concurrent,omitempty"`
}

// Parallel builds a parallel strategy.
func Parallel(timeoutSeconds int, requireAllSuccess bool) OrchestrationStrategy {
	return OrchestrationStrategy{Kind: StrategyParallel, TimeoutSeconds: timeoutSeconds, RequireAllSuccess: requireAllSuccess}
}

// Sequential builds a sequential strategy.
func Sequential(stopOnFirstSuccess bool, maxConcurrent int) OrchestrationStrategy {
	return OrchestrationStrategy{Kind: StrategySequential, StopOnFirstSuccess: stopOnFirstSuccess, MaxConcurrent: maxConcurrent}
}

// SessionStatus is the orchestration session state machine:
// Initializing → InProgress → {Completed | Failed}.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionInProgress   SessionStatus = "in_progress"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// TaskStatus tracks one (session, target cloud) task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskTimeout    TaskStatus = "timeout"
)

// PerformanceRequirements bound what a session is allowed to consume.
type PerformanceRequirements struct {
	MaxLatency    time.Duration `json:"max_latency,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty"`
	CostBudget    float64       `json:"cost_budget,omitempty"`
}

// AgentTask is one unit of work sent to one cloud agent.
type AgentTask struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	Provider      CloudProvider   `json:"provider"`
	OperationType string          `json:"operation_type"`
	Status        TaskStatus      `json:"status"`
	Priority      MessagePriority `json:"priority"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	CompletedAt   time.Time       `json:"completed_at,omitempty"`
}

// OrchestrationSession is one multi-cloud request end to end.
type OrchestrationSession struct {
	ID             string                  `json:"session_id"`
	Intent         UserIntent              `json:"intent"`
	TargetClouds   []CloudProvider         `json:"target_clouds"`
	Strategy       OrchestrationStrategy   `json:"orchestration_strategy"`
	Status         SessionStatus           `json:"status"`
	Performance    PerformanceRequirements `json:"performance_requirements"`
	Tasks          []AgentTask             `json:"tasks"`
	Response       *SirsiResponse          `json:"response,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	StartedAt      time.Time               `json:"started_at,omitempty"`
	CompletionTime *time.Time              `json:"completion_time,omitempty"`
}

// Clone returns a deep-enough copy for handing out of the session table.
func (s *OrchestrationSession) Clone() *OrchestrationSession {
	c := *s
	c.TargetClouds = append([]CloudProvider(nil), s.TargetClouds...)
	c.Tasks = append([]AgentTask(nil), s.Tasks...)
	if s.Response != nil {
		r := *s.Response
		r.LearningPoints = append([]string(nil), s.Response.LearningPoints...)
		r.ProactiveSuggestions = append([]string(nil), s.Response.ProactiveSuggestions...)
		r.FollowUpQuestions = append([]string(nil), s.Response.FollowUpQuestions...)
		r.FailedTargets = append([]string(nil), s.Response.FailedTargets...)
		c.Response = &r
	}
	if s.CompletionTime != nil {
		t := *s.CompletionTime
		c.CompletionTime = &t
	}
	return &c
}

// OrchestrationMetrics counts terminal session outcomes.
type OrchestrationMetrics struct {
	TotalSessions      uint64 `json:"total_sessions"`
	SuccessfulSessions uint64 `json:"successful_sessions"`
	FailedSessions     uint64 `json:"failed_sessions"`
	ActiveSessions     int    `json:"active_sessions"`
	EvictedSessions    uint64 `json:"evicted_sessions"`
}
