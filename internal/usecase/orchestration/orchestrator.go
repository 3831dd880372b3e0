package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/tracer"
	"sirsi-hub/internal/usecase/communication"
)

// Config tunes session admission and retention.
type Config struct {
	MinIntentConfidence float64
	MaxSessions         int
	SessionTTL          time.Duration
	DefaultTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinIntentConfidence <= 0 {
		c.MinIntentConfidence = 0.1
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Hour
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 300 * time.Second
	}
	return c
}

// Synthesizer folds agent responses into one answer.
type Synthesizer interface {
	EnhanceResponse(ctx context.Context, base domain.SirsiResponse, responses []domain.AgentResponse) (domain.SirsiResponse, error)
}

// Orchestrator drives multi-cloud sessions through the communicator.
type Orchestrator struct {
	cfg         Config
	comm        *communication.Communicator
	synthesizer Synthesizer
	analyzer    domain.IntentAnalyzer
	bus         domain.EventBus
	logger      *slog.Logger

	sessions *sessionTable

	total      atomic.Uint64
	successful atomic.Uint64
	failed     atomic.Uint64
}

// New creates an orchestrator. analyzer and bus may be nil.
func New(cfg Config, comm *communication.Communicator, synthesizer Synthesizer, analyzer domain.IntentAnalyzer, bus domain.EventBus, logger *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:         cfg,
		comm:        comm,
		synthesizer: synthesizer,
		analyzer:    analyzer,
		bus:         bus,
		logger:      logger,
		sessions:    newSessionTable(cfg.MaxSessions, cfg.SessionTTL),
	}
}

// Analyze classifies text with the configured analyzer.
func (o *Orchestrator) Analyze(ctx context.Context, text string, hints map[string]string) (domain.UserIntent, error) {
	if o.analyzer == nil {
		return domain.UserIntent{}, domain.NewSubSystemError("orchestration", "Orchestrator.Analyze", domain.ErrUnavailable, "no intent analyzer configured")
	}
	return o.analyzer.Analyze(ctx, text, hints)
}

// CreateOrchestrationSession validates the request and allocates a session
// in Initializing. Nothing is sent to agents here.
func (o *Orchestrator) CreateOrchestrationSession(ctx context.Context, intent domain.UserIntent, targets []domain.CloudProvider, strategy domain.OrchestrationStrategy, perf domain.PerformanceRequirements) (string, error) {
	const op = "Orchestrator.CreateOrchestrationSession"

	if strings.TrimSpace(intent.Description) == "" {
		return "", domain.NewSubSystemError("orchestration", op, domain.ErrInvalidInput, "intent description is empty")
	}
	if intent.Confidence < o.cfg.MinIntentConfidence {
		return "", domain.NewSubSystemError("orchestration", op, domain.ErrInvalidInput,
			fmt.Sprintf("intent confidence %.2f below minimum %.2f", intent.Confidence, o.cfg.MinIntentConfidence))
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		return "", domain.NewSubSystemError("orchestration", op, domain.ErrInvalidInput, "no target clouds")
	}
	if err := validateStrategy(strategy); err != nil {
		return "", domain.NewSubSystemError("orchestration", op, domain.ErrInvalidInput, err.Error())
	}

	now := time.Now()
	s := &domain.OrchestrationSession{
		ID:           domain.NewUUID(),
		Intent:       intent,
		TargetClouds: targets,
		Strategy:     strategy,
		Status:       domain.SessionInitializing,
		Performance:  perf,
		CreatedAt:    now,
	}
	if !o.sessions.insert(s, now) {
		return "", domain.NewSubSystemError("orchestration", op, domain.ErrLimitReached,
			fmt.Sprintf("all %d session slots are executing", o.cfg.MaxSessions))
	}
	o.total.Add(1)

	o.logger.Info("orchestration session created",
		"session_id", s.ID,
		"intent_type", intent.Type,
		"targets", len(targets),
		"strategy", strategy.Kind,
	)
	domain.Emit(ctx, o.bus, domain.EventSessionCreated, s.ID, map[string]any{
		"intent_type":   intent.Type,
		"target_clouds": targets,
		"strategy":      strategy.Kind,
	})
	return s.ID, nil
}

func validateStrategy(s domain.OrchestrationStrategy) error {
	switch s.Kind {
	case domain.StrategyParallel:
		if s.TimeoutSeconds < 0 {
			return errors.New("timeout_seconds must not be negative")
		}
	case domain.StrategySequential:
		if s.MaxConcurrent < 0 {
			return errors.New("max_concurrent must not be negative")
		}
	default:
		return fmt.Errorf("unknown strategy %q", s.Kind)
	}
	return nil
}

func dedupe(targets []domain.CloudProvider) []domain.CloudProvider {
	out := make([]domain.CloudProvider, 0, len(targets))
	for _, t := range targets {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// ExecuteOrchestration runs the session's strategy against every target,
// synthesizes the replies and moves the session to Completed or Failed.
// Per-agent failures are recorded on the tasks and never returned.
func (o *Orchestrator) ExecuteOrchestration(ctx context.Context, sessionID string, intent domain.UserIntent) (*domain.OrchestrationSession, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestration.execute", tracer.StringAttr("session.id", sessionID))
	defer span.End()

	start := time.Now()
	var session *domain.OrchestrationSession
	err := o.sessions.update(sessionID, start, func(ent *sessionEntry) error {
		s := ent.session
		if s.Status != domain.SessionInitializing {
			return domain.NewSubSystemError("orchestration", "Orchestrator.ExecuteOrchestration", domain.ErrInvalidInput,
				fmt.Sprintf("session %s is %s", sessionID, s.Status))
		}
		if intent.Description != "" {
			s.Intent = intent
		}
		s.Status = domain.SessionInProgress
		s.StartedAt = start
		s.Tasks = buildTasks(s)
		ent.running = true
		session = s.Clone()
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	plan := o.plan(session)
	var results []taskResult
	switch session.Strategy.Kind {
	case domain.StrategySequential:
		results = o.runSequential(ctx, session.ID, plan, session.Strategy)
	default:
		results = o.runParallel(ctx, session.ID, plan, o.parallelTimeout(session))
	}

	final := o.finish(ctx, session, plan, results)
	span.SetAttributes(
		tracer.StringAttr("session.status", string(final.Status)),
		tracer.IntAttr("session.tasks", len(final.Tasks)),
	)
	if final.Status == domain.SessionCompleted {
		tracer.SetOK(span)
	}
	o.logger.Info("orchestration session finished",
		"session_id", final.ID,
		"status", final.Status,
		"duration", time.Since(start),
	)
	return final, nil
}

func (o *Orchestrator) parallelTimeout(s *domain.OrchestrationSession) time.Duration {
	timeout := time.Duration(s.Strategy.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	if limit := s.Performance.MaxLatency; limit > 0 && limit < timeout {
		timeout = limit
	}
	return timeout
}

func buildTasks(s *domain.OrchestrationSession) []domain.AgentTask {
	op, _ := operationFor(s.Intent.Type)
	tasks := make([]domain.AgentTask, len(s.TargetClouds))
	for i, p := range s.TargetClouds {
		tasks[i] = domain.AgentTask{
			ID:            domain.NewUUID(),
			AgentID:       p.AgentName(),
			Provider:      p,
			OperationType: op,
			Status:        domain.TaskPending,
			Priority:      s.Intent.Urgency.Priority(),
		}
	}
	return tasks
}

// taskPlan pairs a task with the message that carries it.
type taskPlan struct {
	channelID string
	msg       domain.SirsiToAgentMessage
}

func (o *Orchestrator) plan(s *domain.OrchestrationSession) []taskPlan {
	op, resourceTypes := operationFor(s.Intent.Type)
	out := make([]taskPlan, len(s.Tasks))
	for i, t := range s.Tasks {
		msg := domain.NewSirsiMessage(domain.MsgInformationRequest, s.Intent.Description, t.Priority)
		msg.CorrelationID = s.Intent.DominantGoal()
		msg.Context["operation_type"] = op
		msg.Context["session_id"] = s.ID
		msg.Context["intent_type"] = string(s.Intent.Type)
		if len(resourceTypes) > 0 {
			msg.Context["resource_types"] = strings.Join(resourceTypes, ",")
		}
		out[i] = taskPlan{channelID: t.Provider.AgentID(), msg: msg}
	}
	return out
}

// operationFor maps an intent type onto the operation agents perform and the
// resource types they scan. A nil type list means every type.
func operationFor(t domain.IntentType) (string, []string) {
	switch t {
	case domain.IntentInfrastructureRequest:
		return "infrastructure_discovery", []string{"compute", "storage", "database"}
	case domain.IntentCostAnalysis, domain.IntentOptimizationQuery:
		return "cost_analysis", nil
	case domain.IntentSecurityConcern, domain.IntentComplianceQuestion:
		return "security_assessment", []string{"compute", "storage"}
	case domain.IntentPerformanceIssue:
		return "performance_analysis", []string{"compute", "database"}
	}
	return "general_query", nil
}

// setTask records a task transition on the stored session.
func (o *Orchestrator) setTask(sessionID string, idx int, fn func(t *domain.AgentTask)) {
	_ = o.sessions.update(sessionID, time.Now(), func(ent *sessionEntry) error {
		if idx < len(ent.session.Tasks) {
			fn(&ent.session.Tasks[idx])
		}
		return nil
	})
}

func (o *Orchestrator) finish(ctx context.Context, s *domain.OrchestrationSession, plan []taskPlan, results []taskResult) *domain.OrchestrationSession {
	var (
		responses   []domain.AgentResponse
		failed      []string
		confSum     float64
		attempted   int
		nonSuccess  int
		tasks       = slices.Clone(s.Tasks)
		operation   = ""
		dominantErr string
	)
	for i := range tasks {
		r := results[i]
		t := &tasks[i]
		operation = t.OperationType
		t.Status = r.status
		t.CorrelationID = plan[i].msg.MessageID
		t.StartedAt = r.started
		t.CompletedAt = r.completed
		t.Confidence = r.reply.Confidence
		if r.err != nil {
			t.Error = r.err.Error()
		}

		switch r.status {
		case domain.TaskCancelled, domain.TaskPending:
			continue
		case domain.TaskCompleted:
			attempted++
			confSum += r.reply.Confidence
			responses = append(responses, domain.AgentResponse{
				AgentID:      t.AgentID,
				ResponseType: t.OperationType,
				Content:      r.reply.Content,
				Confidence:   r.reply.Confidence,
				Metadata: map[string]string{
					"operation_type": t.OperationType,
					"provider":       string(t.Provider),
				},
			})
		default:
			attempted++
			nonSuccess++
			failed = append(failed, t.AgentID)
			if dominantErr == "" {
				dominantErr = t.Error
			}
		}
	}

	confidence := 0.0
	if n := len(responses); n > 0 && attempted > 0 {
		confidence = (confSum / float64(n)) * (float64(n) / float64(attempted))
	}

	status := domain.SessionCompleted
	if len(responses) == 0 || (s.Strategy.Kind == domain.StrategyParallel && s.Strategy.RequireAllSuccess && nonSuccess > 0) {
		status = domain.SessionFailed
	}

	base := domain.SirsiResponse{
		ResponseID:    domain.NewULID(time.Now()),
		Content:       summarize(s.Intent, operation, len(responses), len(failed)),
		Confidence:    confidence,
		FailedTargets: failed,
		CreatedAt:     time.Now(),
	}
	if floor := s.Performance.MinConfidence; floor > 0 && confidence < floor {
		base.FollowUpQuestions = append(base.FollowUpQuestions,
			fmt.Sprintf("Confidence %.2f is below the requested %.2f. Retry with fewer or different providers?", confidence, floor))
	}
	resp := base
	if o.synthesizer != nil {
		enhanced, err := o.synthesizer.EnhanceResponse(ctx, base, responses)
		if err != nil {
			o.logger.Error("response synthesis failed", "session_id", s.ID, "error", err)
			status = domain.SessionFailed
		} else {
			resp = enhanced
		}
	}

	done := time.Now()
	var final *domain.OrchestrationSession
	_ = o.sessions.update(s.ID, done, func(ent *sessionEntry) error {
		ent.running = false
		ent.session.Tasks = tasks
		ent.session.Status = status
		ent.session.Response = &resp
		ent.session.CompletionTime = &done
		final = ent.session.Clone()
		return nil
	})
	if final == nil {
		// Running sessions are pinned, so this only guards a concurrent table reset.
		s.Tasks, s.Status, s.Response, s.CompletionTime = tasks, status, &resp, &done
		final = s
	}

	event := domain.EventSessionCompleted
	if status == domain.SessionCompleted {
		o.successful.Add(1)
	} else {
		o.failed.Add(1)
		event = domain.EventSessionFailed
	}
	domain.Emit(ctx, o.bus, event, s.ID, map[string]any{
		"succeeded":      len(responses),
		"failed_targets": failed,
		"confidence":     confidence,
		"error":          dominantErr,
	})
	return final
}

func summarize(intent domain.UserIntent, operation string, succeeded, failed int) string {
	if succeeded == 0 {
		return fmt.Sprintf("No cloud agent could complete %s for %q", operation, intent.Description)
	}
	line := fmt.Sprintf("Completed %s for %q across %d cloud provider(s)", operation, intent.Description, succeeded)
	if failed > 0 {
		line += fmt.Sprintf("; %d provider(s) did not respond successfully", failed)
	}
	return line
}

// GetSession returns a copy of the session.
func (o *Orchestrator) GetSession(id string) (*domain.OrchestrationSession, error) {
	s, ok := o.sessions.get(id)
	if !ok {
		return nil, domain.NewSubSystemError("session", "Orchestrator.GetSession", domain.ErrNotFound, id)
	}
	return s, nil
}

// ListSessions returns copies of all retained sessions, newest first.
func (o *Orchestrator) ListSessions() []*domain.OrchestrationSession {
	return o.sessions.list()
}

// EvictExpired drops idle sessions past the configured TTL.
func (o *Orchestrator) EvictExpired() int {
	n := o.sessions.evictExpired(time.Now())
	if n > 0 {
		o.logger.Debug("evicted expired sessions", "count", n)
	}
	return n
}

// GetMetrics returns session counters.
func (o *Orchestrator) GetMetrics() domain.OrchestrationMetrics {
	_, running, evicted := o.sessions.counts()
	return domain.OrchestrationMetrics{
		TotalSessions:      o.total.Load(),
		SuccessfulSessions: o.successful.Load(),
		FailedSessions:     o.failed.Load(),
		ActiveSessions:     running,
		EvictedSessions:    evicted,
	}
}
