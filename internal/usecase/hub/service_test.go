package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sirsi-hub/internal/adapter/connector"
	"sirsi-hub/internal/adapter/store"
	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/communication"
	"sirsi-hub/internal/usecase/consensus"
	"sirsi-hub/internal/usecase/decision"
	"sirsi-hub/internal/usecase/intent"
	"sirsi-hub/internal/usecase/knowledge"
	"sirsi-hub/internal/usecase/multiagent"
	"sirsi-hub/internal/usecase/orchestration"
	"sirsi-hub/internal/usecase/portregistry"
	"sirsi-hub/internal/usecase/synthesizer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type failingStore struct {
	domain.KVStore
}

func (failingStore) Health(context.Context) error {
	return errors.New("connection refused")
}

type harness struct {
	svc    *Service
	orch   *orchestration.Orchestrator
	comm   *communication.Communicator
	agents *multiagent.Registry
	graph  *knowledge.Graph
	ports  *portregistry.Registry
}

func newHarness(t *testing.T, failing ...domain.CloudProvider) *harness {
	t.Helper()
	logger := testLogger()

	comm := communication.New(communication.Config{
		AgentIDs:       communication.DefaultAgentIDs,
		RequestTimeout: time.Second,
	}, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	comm.Start(ctx)

	mgr := connector.NewManager(logger)
	for _, id := range communication.DefaultAgentIDs {
		p := domain.CloudProvider(id)
		var opts []connector.MockOption
		for _, f := range failing {
			if f == p {
				opts = append(opts, connector.FailWith(errors.New("simulated outage")))
			}
		}
		mgr.Register(connector.NewMockConnector(p, opts...))
		require.NoError(t, comm.Attach(ctx, id, orchestration.ConnectorAgentHandler(mgr)))
	}

	graph := knowledge.NewGraph(logger)
	orch := orchestration.New(orchestration.Config{}, comm, synthesizer.New(graph, logger), intent.NewKeywordAnalyzer(), nil, logger)
	engine := consensus.New(consensus.Config{}, logger, consensus.WithVoteSource(consensus.StaticVoteSource{
		{AgentID: "aws", SelectedOption: "a", Confidence: 1},
		{AgentID: "gcp", SelectedOption: "a", Confidence: 1},
		{AgentID: "azure", SelectedOption: "b", Confidence: 1},
	}))
	ports := portregistry.New(portregistry.Config{}, logger, portregistry.WithProber(func(int) bool { return true }))
	agents := multiagent.NewRegistry(logger)

	h := &harness{orch: orch, comm: comm, agents: agents, graph: graph, ports: ports}
	h.svc = New(Deps{
		Store:        store.NewMemoryStore(),
		Agents:       agents,
		Comm:         comm,
		Orchestrator: orch,
		Consensus:    engine,
		Decision:     decision.New(decision.Config{}, logger),
		Knowledge:    graph,
		Ports:        ports,
		Logger:       logger,
	})
	t.Cleanup(func() {
		cancel()
		comm.Stop()
	})
	return h
}

func (h *harness) session(t *testing.T) string {
	t.Helper()
	resp, err := h.svc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u-1", Context: map[string]string{"team": "platform"}})
	require.NoError(t, err)
	return resp.Session.SessionID
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	before := time.Now()

	resp, err := h.svc.CreateSession(context.Background(), CreateSessionRequest{UserID: "u-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Session.SessionID)
	assert.Equal(t, SessionActive, resp.Session.State)
	assert.WithinDuration(t, before.Add(24*time.Hour), resp.Session.ExpiresAt, time.Minute)

	require.Len(t, resp.AvailableAgentTypes, 4)
	aws := resp.AvailableAgentTypes[0]
	assert.Equal(t, "aws", aws.TypeID)
	assert.Equal(t, "AWS Cloud Agent", aws.DisplayName)
	assert.Equal(t, "1.0.0", aws.Version)
	assert.Contains(t, aws.Capabilities, "aws_agent")
}

func TestCreateSessionRequiresUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateSession(context.Background(), CreateSessionRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateAgent(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)

	resp, err := h.svc.CreateAgent(context.Background(), CreateAgentRequest{
		SessionID: sid,
		AgentType: "AWS",
		Config:    map[string]string{"region": "us-east-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "aws", resp.Agent.AgentType)
	assert.Equal(t, domain.AgentStateReady, resp.Agent.State)
	assert.Equal(t, "us-east-1", resp.Agent.Config["region"])
	require.NotEmpty(t, resp.Capabilities)
	assert.Equal(t, "aws_agent", resp.Capabilities[0].CapabilityID)
	assert.Equal(t, 1, h.agents.Count())
}

func TestCreateAgentErrors(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)

	_, err := h.svc.CreateAgent(context.Background(), CreateAgentRequest{SessionID: "missing", AgentType: "aws"})
	assert.Equal(t, domain.CodeSessionNotFound, domain.ErrorCodeOf(err))

	_, err = h.svc.CreateAgent(context.Background(), CreateAgentRequest{SessionID: sid, AgentType: "oracle"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// kubernetes parses but has no channel in the default set.
	_, err = h.svc.CreateAgent(context.Background(), CreateAgentRequest{SessionID: sid, AgentType: "k8s"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSendMessageEndToEnd(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)

	resp, err := h.svc.SendMessage(context.Background(), SendMessageRequest{
		SessionID: sid,
		Content:   "Deploy a multi-cloud web application on aws and azure",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, MessageResponse, resp.Response.Type)
	assert.Equal(t, "completed", resp.Response.Metadata["status"])
	assert.Equal(t, 2, resp.Metrics.AgentsSucceeded)
	assert.Zero(t, resp.Metrics.AgentsFailed)
	assert.Greater(t, resp.Metrics.Confidence, 0.0)

	require.Len(t, resp.LearningPoints, 2)
	joined := strings.Join(resp.LearningPoints, "\n")
	assert.Contains(t, joined, "aws-agent")
	assert.Contains(t, joined, "azure-agent")
	assert.NotEmpty(t, resp.Suggestions)

	stats := h.graph.Statistics()
	assert.Equal(t, 2, stats.Nodes)
}

func TestSendMessagePartialFailure(t *testing.T) {
	h := newHarness(t, domain.ProviderGCP)
	sid := h.session(t)

	resp, err := h.svc.SendMessage(context.Background(), SendMessageRequest{
		SessionID: sid,
		Content:   "show infrastructure on aws, azure and gcp",
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Response.Metadata["status"])
	assert.Equal(t, 3, resp.Metrics.AgentsAttempted)
	assert.Equal(t, 2, resp.Metrics.AgentsSucceeded)
	assert.Equal(t, []string{"gcp-agent"}, resp.Metrics.FailedTargets)
	assert.Len(t, resp.LearningPoints, 2)
}

func TestSendMessageSequentialStrategy(t *testing.T) {
	tests := []struct {
		name          string
		meta          map[string]string
		wantSucceeded int
		wantFailed    int
		wantPoints    []string
		wantCancelled int
	}{
		{
			name:          "stop on first success",
			meta:          map[string]string{"strategy": "sequential"},
			wantSucceeded: 1,
			wantFailed:    1,
			wantPoints:    []string{"azure-agent"},
			wantCancelled: 1,
		},
		{
			name:          "visit every target",
			meta:          map[string]string{"strategy": "Sequential", "stop_on_first_success": "false"},
			wantSucceeded: 2,
			wantFailed:    1,
			wantPoints:    []string{"azure-agent", "gcp-agent"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, domain.ProviderAWS)
			sid := h.session(t)

			resp, err := h.svc.SendMessage(context.Background(), SendMessageRequest{
				SessionID: sid,
				Content:   "show infrastructure on aws, azure and gcp",
				Metadata:  tt.meta,
			})
			require.NoError(t, err)

			assert.Equal(t, "completed", resp.Response.Metadata["status"])
			assert.Equal(t, tt.wantSucceeded, resp.Metrics.AgentsSucceeded)
			assert.Equal(t, tt.wantFailed, resp.Metrics.AgentsFailed)
			assert.Equal(t, []string{"aws-agent"}, resp.Metrics.FailedTargets)
			require.Len(t, resp.LearningPoints, len(tt.wantPoints))
			for i, want := range tt.wantPoints {
				assert.Contains(t, resp.LearningPoints[i], want)
			}

			sess, err := h.orch.GetSession(resp.Metrics.OrchestrationID)
			require.NoError(t, err)
			assert.Equal(t, domain.StrategySequential, sess.Strategy.Kind)
			cancelled := 0
			for _, task := range sess.Tasks {
				if task.Status == domain.TaskCancelled {
					cancelled++
				}
			}
			assert.Equal(t, tt.wantCancelled, cancelled)
		})
	}
}

func TestSendMessageBoundAgent(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)
	agent, err := h.svc.CreateAgent(context.Background(), CreateAgentRequest{SessionID: sid, AgentType: "gcp"})
	require.NoError(t, err)

	resp, err := h.svc.SendMessage(context.Background(), SendMessageRequest{
		SessionID: sid,
		AgentID:   agent.Agent.AgentID,
		Content:   "what does my cost look like on aws and azure",
	})
	require.NoError(t, err)
	require.Len(t, resp.LearningPoints, 1)
	assert.Contains(t, resp.LearningPoints[0], "gcp-agent")

	status, err := h.svc.GetAgentStatus(context.Background(), GetAgentStatusRequest{SessionID: sid, AgentID: agent.Agent.AgentID})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStateReady, status.Status.State)
	assert.Equal(t, uint64(1), status.Metrics.MessagesProcessed)
	assert.Equal(t, uint64(1), status.Metrics.OperationsCompleted)
	assert.Equal(t, "healthy", status.HealthStatus)
}

func TestSendMessageErrors(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)
	other := h.session(t)
	agent, err := h.svc.CreateAgent(context.Background(), CreateAgentRequest{SessionID: other, AgentType: "aws"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SendMessageRequest
		code domain.ErrorCode
	}{
		{"empty content", SendMessageRequest{SessionID: sid, Content: "  "}, domain.CodeInvalidInput},
		{"unknown session", SendMessageRequest{SessionID: "nope", Content: "hi"}, domain.CodeSessionNotFound},
		{"unknown agent", SendMessageRequest{SessionID: sid, AgentID: "ghost", Content: "hi"}, domain.CodeAgentNotFound},
		{"agent of another session", SendMessageRequest{SessionID: sid, AgentID: agent.Agent.AgentID, Content: "hi"}, domain.CodeAgentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SendMessage(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCodeOf(err))
		})
	}
}

func TestGetSuggestions(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)

	resp, err := h.svc.GetSuggestions(context.Background(), GetSuggestionsRequest{SessionID: sid})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 3)
	assert.Equal(t, "Try asking about cloud resources", resp.Suggestions[0].Title)
	assert.Equal(t, "default", resp.Suggestions[0].Type)
	assert.NotEmpty(t, resp.ContextID)

	_, err = h.svc.SendMessage(context.Background(), SendMessageRequest{SessionID: sid, Content: "reduce our cost on aws"})
	require.NoError(t, err)

	resp, err = h.svc.GetSuggestions(context.Background(), GetSuggestionsRequest{SessionID: sid})
	require.NoError(t, err)
	var titles []string
	for _, s := range resp.Suggestions {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Set a monthly budget alert for each provider")

	resp, err = h.svc.GetSuggestions(context.Background(), GetSuggestionsRequest{
		SessionID: sid,
		Context:   map[string]string{"intent_type": string(domain.IntentSecurityConcern)},
	})
	require.NoError(t, err)
	titles = titles[:0]
	for _, s := range resp.Suggestions {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Run a security assessment across all providers")
}

func TestGetAgentStatusNotFound(t *testing.T) {
	h := newHarness(t)
	sid := h.session(t)
	_, err := h.svc.GetAgentStatus(context.Background(), GetAgentStatusRequest{SessionID: sid, AgentID: "ghost"})
	assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))
}

func TestAgentHealthMapping(t *testing.T) {
	tests := []struct {
		state   domain.AgentState
		channel domain.HealthStatus
		want    string
	}{
		{domain.AgentStateReady, domain.HealthHealthy, "healthy"},
		{domain.AgentStateBusy, domain.HealthUnknown, "healthy"},
		{domain.AgentStateReady, domain.HealthOffline, "degraded"},
		{domain.AgentStateError, domain.HealthHealthy, "unhealthy"},
		{domain.AgentStateStopped, domain.HealthHealthy, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, agentHealth(tt.state, tt.channel), "%s/%s", tt.state, tt.channel)
	}
}

func TestGetSystemHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.comm.CheckHealth(ctx)
	_, err := h.ports.RequestPort(ctx, domain.PortRequest{ServiceName: "grpc", ServiceType: domain.ServiceGRPC})
	require.NoError(t, err)

	resp, err := h.svc.GetSystemHealth(ctx, GetSystemHealthRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, resp.Health.Status)
	assert.True(t, resp.Health.Store.Healthy)
	assert.Len(t, resp.Health.Agents, 4)
	assert.Equal(t, 1, resp.Metrics.Ports.Total)

	h.svc.store = failingStore{h.svc.store}
	resp, err = h.svc.GetSystemHealth(ctx, GetSystemHealthRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, resp.Health.Status)
	assert.Equal(t, "connection refused", resp.Health.Store.Error)
}

func TestConsensusPassThrough(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.RequestConsensus(context.Background(), domain.DecisionRequest{
		Title: "pick a region",
		Options: []domain.DecisionOption{
			{OptionID: "a", Name: "us-east-1", RiskLevel: domain.RiskLow},
			{OptionID: "b", Name: "eu-west-1", RiskLevel: domain.RiskMedium},
		},
		ConsensusThreshold: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, "a", res.WinningOption)
	assert.True(t, res.ConsensusReached)

	dir, err := h.svc.PortDirectory()
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestOptionalDepsUnavailable(t *testing.T) {
	svc := New(Deps{Logger: testLogger()})
	_, err := svc.RequestConsensus(context.Background(), domain.DecisionRequest{})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	_, err = svc.QueryKnowledge(domain.KnowledgeQuery{})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	_, err = svc.PortDirectory()
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func decideRequest() DecideRequest {
	return DecideRequest{
		Context: domain.DecisionContext{
			UserID: "u-1",
			Preferences: domain.UserPreferences{
				CostPriority:        0.4,
				PerformancePriority: 0.3,
				SecurityPriority:    0.3,
				RiskTolerance:       0.5,
			},
		},
		Options: []domain.Option{
			{ID: "cheap", Name: "Spot fleet", EstimatedCost: 1000, PerformanceScore: 0.6, SecurityScore: 0.8, Risk: domain.RiskAssessment{OverallRisk: 0.3}},
			{ID: "fast", Name: "Dedicated hosts", EstimatedCost: 4000, PerformanceScore: 0.95, SecurityScore: 0.9, Risk: domain.RiskAssessment{OverallRisk: 0.1}},
			{ID: "weak", Name: "Legacy VMs", EstimatedCost: 200, PerformanceScore: 0.5, SecurityScore: 0.4, Risk: domain.RiskAssessment{OverallRisk: 0.2}},
		},
	}
}

func TestMakeDecision(t *testing.T) {
	h := newHarness(t)
	d, err := h.svc.MakeDecision(context.Background(), decideRequest())
	require.NoError(t, err)
	assert.Equal(t, "fast", d.Recommended.ID)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "weak rejected by security_minimum")
}

func TestReviewDecisionWithoutAgreement(t *testing.T) {
	// The static voters pick options "a" and "b", which this review does
	// not offer, so no vote counts and the weighted-sum choice stands.
	h := newHarness(t)
	r, err := h.svc.ReviewDecision(context.Background(), decideRequest())
	require.NoError(t, err)
	assert.Equal(t, "fast", r.Decision.Recommended.ID)
	assert.False(t, r.Consensus.ConsensusReached)
	assert.Contains(t, r.Decision.Warnings[len(r.Decision.Warnings)-1], "consensus not reached")
}

func TestDecisionUnavailable(t *testing.T) {
	svc := New(Deps{Store: store.NewMemoryStore(), Logger: testLogger()})
	_, err := svc.MakeDecision(context.Background(), decideRequest())
	require.ErrorIs(t, err, domain.ErrUnavailable)
	_, err = svc.ReviewDecision(context.Background(), decideRequest())
	require.ErrorIs(t, err, domain.ErrUnavailable)
}
