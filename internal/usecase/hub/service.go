// Package hub implements the transport-agnostic session and agent API. The
// gRPC service and the websocket gateway are thin adapters over Service.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/tracer"
	"sirsi-hub/internal/usecase/decision"
	"sirsi-hub/internal/usecase/multiagent"
	"sirsi-hub/internal/usecase/orchestration"
)

const (
	defaultSessionTTL = 24 * time.Hour
	agentTypeVersion  = "1.0.0"
	sessionKeyPrefix  = "session:"
)

// Orchestrator runs multi-cloud sessions on behalf of SendMessage.
type Orchestrator interface {
	Analyze(ctx context.Context, text string, hints map[string]string) (domain.UserIntent, error)
	CreateOrchestrationSession(ctx context.Context, intent domain.UserIntent, targets []domain.CloudProvider, strategy domain.OrchestrationStrategy, perf domain.PerformanceRequirements) (string, error)
	ExecuteOrchestration(ctx context.Context, sessionID string, intent domain.UserIntent) (*domain.OrchestrationSession, error)
	GetMetrics() domain.OrchestrationMetrics
}

// Communicator is the read side of the agent communicator.
type Communicator interface {
	AgentIDs() []string
	AgentHealth() map[string]domain.AgentHealth
	Metrics() domain.CommunicationMetrics
}

// ConsensusEngine arbitrates decisions between agents.
type ConsensusEngine interface {
	RequestConsensus(ctx context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error)
	SubmitVote(ctx context.Context, vote domain.AgentVote) (*domain.ConsensusResult, error)
	ActiveCount() int
}

// KnowledgeBase answers knowledge queries.
type KnowledgeBase interface {
	Query(q domain.KnowledgeQuery) []domain.KnowledgeNode
	Statistics() domain.KnowledgeStats
}

// DecisionMaker ranks options under the policy safety rules.
type DecisionMaker interface {
	MakeDecision(ctx context.Context, dc domain.DecisionContext, options []domain.Option) (domain.Decision, error)
	ReviewWithConsensus(ctx context.Context, dc domain.DecisionContext, options []domain.Option, arbiter decision.Arbiter, threshold float64) (decision.Review, error)
}

// PortDirectory exposes the port registry's read side.
type PortDirectory interface {
	ServiceDirectory() map[string]domain.PortAllocation
	Stats() domain.PortStats
}

// Deps holds the collaborators of Service. Consensus, Decision, Knowledge
// and Ports are optional.
type Deps struct {
	Store        domain.KVStore
	Agents       *multiagent.Registry
	Comm         Communicator
	Orchestrator Orchestrator
	Consensus    ConsensusEngine
	Decision     DecisionMaker
	Knowledge    KnowledgeBase
	Ports        PortDirectory
	Logger       *slog.Logger

	SessionTTL     time.Duration
	DefaultTimeout time.Duration
	Clock          func() time.Time
}

// Service implements CreateSession, CreateAgent, SendMessage,
// GetAgentStatus, GetSuggestions and GetSystemHealth.
type Service struct {
	store     domain.KVStore
	agents    *multiagent.Registry
	comm      Communicator
	orch      Orchestrator
	consensus ConsensusEngine
	decisions DecisionMaker
	knowledge KnowledgeBase
	ports     PortDirectory
	logger    *slog.Logger

	sessionTTL     time.Duration
	defaultTimeout time.Duration
	now            func() time.Time
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = defaultSessionTTL
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = 300 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		store:          deps.Store,
		agents:         deps.Agents,
		comm:           deps.Comm,
		orch:           deps.Orchestrator,
		consensus:      deps.Consensus,
		decisions:      deps.Decision,
		knowledge:      deps.Knowledge,
		ports:          deps.Ports,
		logger:         deps.Logger,
		sessionTTL:     deps.SessionTTL,
		defaultTimeout: deps.DefaultTimeout,
		now:            deps.Clock,
	}
}

// sessionRecord is what the KV store holds per session.
type sessionRecord struct {
	Session             Session           `json:"session"`
	LastIntent          domain.IntentType `json:"last_intent,omitempty"`
	LastOrchestrationID string            `json:"last_orchestration_id,omitempty"`
	LastSuggestions     []string          `json:"last_suggestions,omitempty"`
	Messages            int               `json:"messages"`
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *Service) loadSession(ctx context.Context, op, id string) (*sessionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewSubSystemError("session", op, domain.ErrInvalidInput, "session_id is required")
	}
	raw, err := s.store.Get(ctx, sessionKey(id))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewSubSystemError("session", op, domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, domain.NewSubSystemError("session", op, domain.ErrUnavailable, "corrupt session record: "+err.Error())
	}
	return &rec, nil
}

func (s *Service) saveSession(ctx context.Context, rec *sessionRecord) error {
	ttl := rec.Session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return domain.NewSubSystemError("session", "Service.saveSession", domain.ErrNotFound, "session expired")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.store.Set(ctx, sessionKey(rec.Session.SessionID), data, ttl)
}

// CreateSession opens a session for a user and lists the agent types it
// can create.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	const op = "Service.CreateSession"
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.NewSubSystemError("session", op, domain.ErrInvalidInput, "user_id is required")
	}

	now := s.now()
	rec := &sessionRecord{Session: Session{
		SessionID: domain.NewUUID(),
		UserID:    req.UserID,
		State:     SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
		Metadata:  maps.Clone(req.Context),
	}}
	if err := s.saveSession(ctx, rec); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	s.logger.Info("session created", "session_id", rec.Session.SessionID, "user_id", req.UserID)
	return &CreateSessionResponse{
		Session:             rec.Session,
		AvailableAgentTypes: s.availableAgentTypes(),
	}, nil
}

var providerDisplay = map[domain.CloudProvider][2]string{
	domain.ProviderAWS:          {"AWS Cloud Agent", "AWS"},
	domain.ProviderAzure:        {"Azure Cloud Agent", "Azure"},
	domain.ProviderGCP:          {"Google Cloud Agent", "GCP"},
	domain.ProviderDigitalOcean: {"DigitalOcean Cloud Agent", "DigitalOcean"},
	domain.ProviderKubernetes:   {"Kubernetes Agent", "Kubernetes"},
	domain.ProviderHybrid:       {"Hybrid Cloud Agent", "hybrid"},
}

func (s *Service) availableAgentTypes() []AgentTypeInfo {
	ids := s.comm.AgentIDs()
	out := make([]AgentTypeInfo, 0, len(ids))
	for _, id := range ids {
		p := domain.CloudProvider(id)
		display, ok := providerDisplay[p]
		if !ok {
			display = [2]string{id + " agent", id}
		}
		out = append(out, AgentTypeInfo{
			TypeID:       id,
			DisplayName:  display[0],
			Description:  fmt.Sprintf("Manages %s resources and operations", display[1]),
			Version:      agentTypeVersion,
			Capabilities: orchestration.Capabilities(p),
		})
	}
	return out
}

// CreateAgent registers an agent instance in a session. The instance is
// bound to its provider's channel.
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (*CreateAgentResponse, error) {
	const op = "Service.CreateAgent"
	if _, err := s.loadSession(ctx, op, req.SessionID); err != nil {
		return nil, err
	}
	p, err := domain.ParseCloudProvider(req.AgentType)
	if err != nil {
		return nil, domain.NewSubSystemError("agent", op, domain.ErrInvalidInput, fmt.Sprintf("unknown agent type %q", req.AgentType))
	}
	if !slices.Contains(s.comm.AgentIDs(), p.AgentID()) {
		return nil, domain.NewSubSystemError("agent", op, domain.ErrInvalidInput, fmt.Sprintf("no channel for agent type %q", p))
	}

	now := s.now()
	inst := domain.AgentInstance{
		ID:           domain.NewUUID(),
		SessionID:    req.SessionID,
		Type:         domain.CloudAgent(p),
		ChannelID:    p.AgentID(),
		State:        domain.AgentStateReady,
		Config:       maps.Clone(req.Config),
		Capabilities: orchestration.Capabilities(p),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.agents.Register(inst); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	return &CreateAgentResponse{
		Agent: Agent{
			AgentID:   inst.ID,
			SessionID: inst.SessionID,
			AgentType: string(p),
			State:     inst.State,
			CreatedAt: inst.CreatedAt,
			UpdatedAt: inst.UpdatedAt,
			Config:    inst.Config,
			Metadata:  maps.Clone(req.Context),
		},
		Capabilities: capabilities(string(p), inst.Capabilities),
	}, nil
}

func capabilities(agentType string, names []string) []Capability {
	out := make([]Capability, len(names))
	primary := agentType + "_agent"
	for i, n := range names {
		desc := "Agent capability: " + n
		if n == primary {
			desc = fmt.Sprintf("Live %s agent routed through the hub", agentType)
		}
		out[i] = Capability{CapabilityID: n, Name: n, Description: desc}
	}
	return out
}

// agentInSession loads an agent and checks it belongs to sessionID.
func (s *Service) agentInSession(op, sessionID, agentID string) (domain.AgentInstance, multiagent.Metrics, error) {
	inst, m, err := s.agents.Get(agentID)
	if err != nil {
		return inst, m, domain.WrapOp(op, err)
	}
	if inst.SessionID != sessionID {
		return domain.AgentInstance{}, multiagent.Metrics{}, domain.NewSubSystemError("agent", op, domain.ErrNotFound,
			fmt.Sprintf("agent %s is not part of session %s", agentID, sessionID))
	}
	return inst, m, nil
}

// SendMessage analyses the message, runs an orchestration session over the
// target clouds and returns the synthesized reply.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	const op = "Service.SendMessage"
	received := s.now()

	if strings.TrimSpace(req.Content) == "" {
		return nil, domain.NewSubSystemError("session", op, domain.ErrInvalidInput, "message content is required")
	}
	rec, err := s.loadSession(ctx, op, req.SessionID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.StartSpan(ctx, "hub.send_message", tracer.StringAttr("session.id", req.SessionID))
	defer span.End()

	var bound *domain.AgentInstance
	if req.AgentID != "" {
		inst, _, err := s.agentInSession(op, req.SessionID, req.AgentID)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		bound = &inst
	}

	hints := maps.Clone(rec.Session.Metadata)
	if hints == nil {
		hints = make(map[string]string)
	}
	maps.Copy(hints, req.Metadata)

	intent, err := s.orch.Analyze(ctx, req.Content, hints)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	targets := s.targetsFor(intent, bound)

	orchID, err := s.orch.CreateOrchestrationSession(ctx, intent, targets, s.strategyFor(req.Metadata), domain.PerformanceRequirements{})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}

	if bound != nil {
		_ = s.agents.SetState(bound.ID, domain.AgentStateBusy)
	}
	started := s.now()
	result, err := s.orch.ExecuteOrchestration(ctx, orchID, intent)
	if bound != nil {
		failed := err != nil || result.Status != domain.SessionCompleted
		s.agents.RecordOperation(bound.ID, s.now().Sub(started), failed)
		state := domain.AgentStateReady
		if failed {
			state = domain.AgentStateError
		}
		_ = s.agents.SetState(bound.ID, state)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}

	resp := result.Response
	if resp == nil {
		resp = &domain.SirsiResponse{}
	}
	metrics := messageMetrics(result, received, s.now())

	suggestions := append(toSuggestions(resp.ProactiveSuggestions, "proactive", resp.Confidence),
		toSuggestions(resp.FollowUpQuestions, "follow_up", resp.Confidence)...)

	rec.LastIntent = intent.Type
	rec.LastOrchestrationID = result.ID
	rec.LastSuggestions = append(slices.Clone(resp.ProactiveSuggestions), resp.FollowUpQuestions...)
	rec.Messages++
	rec.Session.UpdatedAt = s.now()
	if err := s.saveSession(ctx, rec); err != nil {
		s.logger.Warn("failed to update session record", "session_id", req.SessionID, "error", err)
	}

	meta := map[string]string{
		"orchestration_id": result.ID,
		"intent_type":      string(intent.Type),
		"status":           string(result.Status),
		"confidence":       fmt.Sprintf("%.2f", resp.Confidence),
	}
	if resp.Explanation != "" {
		meta["explanation"] = resp.Explanation
	}

	span.SetAttributes(tracer.IntAttr("agents.succeeded", metrics.AgentsSucceeded))
	if result.Status == domain.SessionCompleted {
		tracer.SetOK(span)
	}
	s.logger.Info("message processed",
		"session_id", req.SessionID,
		"orchestration_id", result.ID,
		"status", result.Status,
		"succeeded", metrics.AgentsSucceeded,
		"failed", metrics.AgentsFailed,
	)
	return &SendMessageResponse{
		MessageID: domain.NewULID(received),
		Response: Message{
			MessageID: domain.NewULID(s.now()),
			Type:      MessageResponse,
			Content:   resp.Content,
			Metadata:  meta,
			Timestamp: resp.CreatedAt,
		},
		LearningPoints: resp.LearningPoints,
		Suggestions:    suggestions,
		Metrics:        metrics,
		ReceivedAt:     received,
	}, nil
}

// targetsFor pins a bound agent to its provider. Otherwise the intent's
// clouds are used, falling back to every channel.
func (s *Service) targetsFor(intent domain.UserIntent, bound *domain.AgentInstance) []domain.CloudProvider {
	if bound != nil {
		return []domain.CloudProvider{bound.Type.Provider}
	}
	ids := s.comm.AgentIDs()
	var out []domain.CloudProvider
	for _, c := range intent.Clouds {
		if slices.Contains(ids, c.AgentID()) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		for _, id := range ids {
			out = append(out, domain.CloudProvider(id))
		}
	}
	return out
}

// strategyFor reads metadata["strategy"]; parallel is the default.
func (s *Service) strategyFor(meta map[string]string) domain.OrchestrationStrategy {
	if strings.EqualFold(meta["strategy"], string(domain.StrategySequential)) {
		return domain.Sequential(meta["stop_on_first_success"] != "false", 1)
	}
	return domain.Parallel(int(s.defaultTimeout/time.Second), meta["require_all_success"] == "true")
}

func messageMetrics(sess *domain.OrchestrationSession, received, done time.Time) MessageMetrics {
	m := MessageMetrics{
		OrchestrationID:  sess.ID,
		ProcessingTimeMs: done.Sub(received).Milliseconds(),
	}
	for _, t := range sess.Tasks {
		switch t.Status {
		case domain.TaskCompleted:
			m.AgentsAttempted++
			m.AgentsSucceeded++
		case domain.TaskFailed, domain.TaskTimeout:
			m.AgentsAttempted++
			m.AgentsFailed++
		}
	}
	if sess.Response != nil {
		m.Confidence = sess.Response.Confidence
		m.FailedTargets = slices.Clone(sess.Response.FailedTargets)
	}
	return m
}

func toSuggestions(texts []string, typ string, confidence float64) []Suggestion {
	out := make([]Suggestion, 0, len(texts))
	now := time.Now()
	for i, t := range texts {
		out = append(out, Suggestion{
			SuggestionID: domain.NewULID(now),
			Title:        t,
			Type:         typ,
			Confidence:   confidence,
			Priority:     i + 1,
		})
	}
	return out
}

// GetAgentStatus reports an agent's state, its channel health and metrics.
func (s *Service) GetAgentStatus(ctx context.Context, req GetAgentStatusRequest) (*GetAgentStatusResponse, error) {
	const op = "Service.GetAgentStatus"
	if _, err := s.loadSession(ctx, op, req.SessionID); err != nil {
		return nil, err
	}
	inst, m, err := s.agentInSession(op, req.SessionID, req.AgentID)
	if err != nil {
		return nil, err
	}

	channel := s.comm.AgentHealth()[inst.ChannelID]
	if channel.Status == "" {
		channel.Status = domain.HealthUnknown
	}
	active := 0
	if inst.State == domain.AgentStateBusy {
		active = 1
	}
	return &GetAgentStatusResponse{
		Status: AgentStatus{
			State:            inst.State,
			StatusMessage:    fmt.Sprintf("%s is %s", inst.Type.Provider.AgentName(), inst.State),
			LastActivity:     inst.UpdatedAt,
			ActiveOperations: active,
			ChannelHealth:    channel.Status,
		},
		Metrics: AgentMetrics{
			MessagesProcessed:     m.MessagesProcessed,
			OperationsCompleted:   m.OperationsCompleted,
			ErrorsEncountered:     m.ErrorsEncountered,
			AverageResponseTimeMs: m.AvgResponseTimeMs,
		},
		ActiveCapabilities: capabilities(string(inst.Type.Provider), inst.Capabilities),
		HealthStatus:       agentHealth(inst.State, channel.Status),
	}, nil
}

// agentHealth maps ready or busy to healthy and error to unhealthy. A
// healthy agent on a failing channel is degraded.
func agentHealth(state domain.AgentState, channel domain.HealthStatus) string {
	switch state {
	case domain.AgentStateReady, domain.AgentStateBusy:
		if channel == domain.HealthUnhealthy || channel == domain.HealthOffline {
			return string(domain.HealthDegraded)
		}
		return string(domain.HealthHealthy)
	case domain.AgentStateError:
		return string(domain.HealthUnhealthy)
	}
	return string(domain.HealthUnknown)
}

// GetSystemHealth aggregates channel, store and subsystem health.
func (s *Service) GetSystemHealth(ctx context.Context, _ GetSystemHealthRequest) (*GetSystemHealthResponse, error) {
	agents := s.comm.AgentHealth()
	store := ComponentHealth{Healthy: true}
	if err := s.store.Health(ctx); err != nil {
		store = ComponentHealth{Healthy: false, Error: err.Error()}
	}

	down := 0
	for _, h := range agents {
		if h.Status == domain.HealthUnhealthy || h.Status == domain.HealthOffline {
			down++
		}
	}
	status := StatusHealthy
	switch {
	case !store.Healthy || (len(agents) > 0 && down == len(agents)):
		status = StatusUnhealthy
	case down > 0:
		status = StatusDegraded
	}

	metrics := SystemMetrics{
		Communication:  s.comm.Metrics(),
		Orchestration:  s.orch.GetMetrics(),
		AgentInstances: s.agents.Count(),
	}
	if s.consensus != nil {
		metrics.ActiveDecisions = s.consensus.ActiveCount()
	}
	if s.knowledge != nil {
		metrics.Knowledge = s.knowledge.Statistics()
	}
	if s.ports != nil {
		metrics.Ports = s.ports.Stats()
	}

	return &GetSystemHealthResponse{
		Health: SystemHealth{
			Status:    status,
			Agents:    agents,
			Store:     store,
			CheckedAt: s.now(),
		},
		Metrics: metrics,
	}, nil
}

// RequestConsensus forwards req to the consensus engine.
func (s *Service) RequestConsensus(ctx context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error) {
	if s.consensus == nil {
		return domain.ConsensusResult{}, domain.NewSubSystemError("consensus", "Service.RequestConsensus", domain.ErrUnavailable, "consensus engine not configured")
	}
	return s.consensus.RequestConsensus(ctx, req)
}

// SubmitVote forwards vote to the consensus engine.
func (s *Service) SubmitVote(ctx context.Context, vote domain.AgentVote) (*domain.ConsensusResult, error) {
	if s.consensus == nil {
		return nil, domain.NewSubSystemError("consensus", "Service.SubmitVote", domain.ErrUnavailable, "consensus engine not configured")
	}
	return s.consensus.SubmitVote(ctx, vote)
}

// QueryKnowledge runs q against the knowledge graph.
func (s *Service) QueryKnowledge(q domain.KnowledgeQuery) ([]domain.KnowledgeNode, error) {
	if s.knowledge == nil {
		return nil, domain.NewSubSystemError("knowledge", "Service.QueryKnowledge", domain.ErrUnavailable, "knowledge graph not configured")
	}
	return s.knowledge.Query(q), nil
}

// PortDirectory lists active service allocations by name.
func (s *Service) PortDirectory() (map[string]domain.PortAllocation, error) {
	if s.ports == nil {
		return nil, domain.NewSubSystemError("ports", "Service.PortDirectory", domain.ErrUnavailable, "port registry not configured")
	}
	return s.ports.ServiceDirectory(), nil
}

// MakeDecision ranks req.Options for req.Context.
func (s *Service) MakeDecision(ctx context.Context, req DecideRequest) (*domain.Decision, error) {
	if s.decisions == nil {
		return nil, domain.NewSubSystemError("decision", "Service.MakeDecision", domain.ErrUnavailable, "decision engine not configured")
	}
	d, err := s.decisions.MakeDecision(ctx, req.Context, req.Options)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReviewDecision ranks req.Options and lets the consensus engine arbitrate
// between the viable ones.
func (s *Service) ReviewDecision(ctx context.Context, req DecideRequest) (*decision.Review, error) {
	const op = "Service.ReviewDecision"
	if s.decisions == nil {
		return nil, domain.NewSubSystemError("decision", op, domain.ErrUnavailable, "decision engine not configured")
	}
	if s.consensus == nil {
		return nil, domain.NewSubSystemError("consensus", op, domain.ErrUnavailable, "consensus engine not configured")
	}
	r, err := s.decisions.ReviewWithConsensus(ctx, req.Context, req.Options, s.consensus, req.Threshold)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
