package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/decision"
	"sirsi-hub/internal/usecase/hub"
)

type stubHub struct {
	health   hub.SystemHealth
	lastVote domain.AgentVote
	lastReq  domain.DecisionRequest
}

func (s *stubHub) CreateSession(_ context.Context, req hub.CreateSessionRequest) (*hub.CreateSessionResponse, error) {
	return &hub.CreateSessionResponse{Session: hub.Session{SessionID: "s-1", UserID: req.UserID, State: hub.SessionActive}}, nil
}

func (s *stubHub) CreateAgent(_ context.Context, req hub.CreateAgentRequest) (*hub.CreateAgentResponse, error) {
	if req.SessionID != "s-1" {
		return nil, domain.NewSubSystemError("session", "Service.CreateAgent", domain.ErrNotFound, req.SessionID)
	}
	return &hub.CreateAgentResponse{Agent: hub.Agent{AgentID: "a-1", SessionID: req.SessionID, AgentType: req.AgentType}}, nil
}

func (s *stubHub) SendMessage(_ context.Context, req hub.SendMessageRequest) (*hub.SendMessageResponse, error) {
	return &hub.SendMessageResponse{MessageID: "m-1", Response: hub.Message{Type: hub.MessageResponse, Content: "echo: " + req.Content}}, nil
}

func (s *stubHub) GetAgentStatus(context.Context, hub.GetAgentStatusRequest) (*hub.GetAgentStatusResponse, error) {
	return &hub.GetAgentStatusResponse{HealthStatus: "healthy"}, nil
}

func (s *stubHub) GetSuggestions(context.Context, hub.GetSuggestionsRequest) (*hub.GetSuggestionsResponse, error) {
	return &hub.GetSuggestionsResponse{ContextID: "c-1"}, nil
}

func (s *stubHub) GetSystemHealth(context.Context, hub.GetSystemHealthRequest) (*hub.GetSystemHealthResponse, error) {
	return &hub.GetSystemHealthResponse{Health: s.health}, nil
}

func (s *stubHub) RequestConsensus(_ context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error) {
	s.lastReq = req
	return domain.ConsensusResult{DecisionID: "d-1", Status: domain.DecisionConsensusReached, WinningOption: req.Options[0].OptionID, ConsensusReached: true}, nil
}

func (s *stubHub) SubmitVote(_ context.Context, vote domain.AgentVote) (*domain.ConsensusResult, error) {
	s.lastVote = vote
	return nil, nil
}

func (s *stubHub) MakeDecision(_ context.Context, req hub.DecideRequest) (*domain.Decision, error) {
	return &domain.Decision{ID: "dec-1", Recommended: req.Options[0]}, nil
}

func (s *stubHub) ReviewDecision(_ context.Context, req hub.DecideRequest) (*decision.Review, error) {
	return &decision.Review{
		Decision:  domain.Decision{ID: "dec-1", Recommended: req.Options[0]},
		Consensus: domain.ConsensusResult{ConsensusReached: true, WinningOption: req.Options[0].ID},
	}, nil
}

func (s *stubHub) QueryKnowledge(domain.KnowledgeQuery) ([]domain.KnowledgeNode, error) {
	return nil, nil
}

func (s *stubHub) PortDirectory() (map[string]domain.PortAllocation, error) {
	return map[string]domain.PortAllocation{"grpc": {Port: 50051, ServiceName: "grpc"}}, nil
}

func startHubServer(t *testing.T, h Hub) *Server {
	t.Helper()
	return startTestServer(t, &testBus{}, func(s *Server) {
		deps := HandlerDeps{Hub: h, Logger: testLogger()}
		if err := RegisterDefaultHandlers(s, deps); err != nil {
			t.Fatalf("RegisterDefaultHandlers: %v", err)
		}
	})
}

func TestRegisterDefaultHandlersMethods(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	got := make(map[string]bool)
	for _, m := range srv.Methods() {
		got[m] = true
	}
	for _, want := range []string{
		"session.create", "agent.create", "message.send", "agent.status", "suggestions.get",
		"health.get", "consensus.request", "consensus.vote", "decision.make", "decision.review", "knowledge.query", "ports.directory",
	} {
		if !got[want] {
			t.Errorf("method %q not registered", want)
		}
	}
}

func TestHandlerSessionFlow(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "session.create", `{"user_id":"u-1","context":{"team":"platform"}}`)
	if resp.Error != "" {
		t.Fatalf("session.create: %s", resp.Error)
	}
	var sess hub.CreateSessionResponse
	if err := json.Unmarshal(resp.Payload, &sess); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sess.Session.UserID != "u-1" {
		t.Errorf("UserID = %q", sess.Session.UserID)
	}

	resp = call(t, ws, 2, "message.send", `{"session_id":"s-1","content":"hello"}`)
	if resp.Error != "" {
		t.Fatalf("message.send: %s", resp.Error)
	}
	var msg hub.SendMessageResponse
	json.Unmarshal(resp.Payload, &msg)
	if msg.Response.Content != "echo: hello" {
		t.Errorf("content = %q", msg.Response.Content)
	}
}

func TestHandlerSchemaRejects(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	tests := []struct {
		method  string
		payload string
	}{
		{"session.create", `{}`},
		{"session.create", `{"user_id":""}`},
		{"session.create", `{"user_id":"u","context":{"n":1}}`},
		{"agent.create", `{"session_id":"s-1"}`},
		{"message.send", `{"session_id":"s-1","content":""}`},
		{"agent.status", ``},
		{"consensus.request", `{"title":"pick","options":[]}`},
		{"consensus.request", `{"title":"pick","options":[{"option_id":"a","risk_level":"extreme"}]}`},
		{"consensus.vote", `{"agent_id":"aws","decision_id":"d","selected_option":"a","confidence":2}`},
		{"knowledge.query", `{"limit":-1}`},
	}
	for i, tt := range tests {
		resp := call(t, ws, uint64(i+1), tt.method, tt.payload)
		if resp.Code != string(domain.CodeRPCInvalidPayload) {
			t.Errorf("%s %s: code = %q (error %q)", tt.method, tt.payload, resp.Code, resp.Error)
		}
	}
}

func TestHandlerDomainErrorCode(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "agent.create", `{"session_id":"missing","agent_type":"aws"}`)
	if resp.Code != string(domain.CodeSessionNotFound) {
		t.Errorf("code = %q", resp.Code)
	}
	if !strings.Contains(resp.Error, "missing") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestHandlerConsensusAndVote(t *testing.T) {
	h := &stubHub{}
	srv := startHubServer(t, h)
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "consensus.request", `{"title":"region","options":[{"option_id":"us-east-1","risk_level":"low"},{"option_id":"eu-west-1"}],"consensus_threshold":0.6}`)
	if resp.Error != "" {
		t.Fatalf("consensus.request: %s", resp.Error)
	}
	var res domain.ConsensusResult
	json.Unmarshal(resp.Payload, &res)
	if res.WinningOption != "us-east-1" || !res.ConsensusReached {
		t.Errorf("result = %+v", res)
	}
	if h.lastReq.ConsensusThreshold != 0.6 || len(h.lastReq.Options) != 2 {
		t.Errorf("request = %+v", h.lastReq)
	}

	resp = call(t, ws, 2, "consensus.vote", `{"agent_id":"aws","decision_id":"d-1","selected_option":"us-east-1","confidence":0.9}`)
	if resp.Error != "" {
		t.Fatalf("consensus.vote: %s", resp.Error)
	}
	if h.lastVote.AgentID != "aws" || h.lastVote.Confidence != 0.9 {
		t.Errorf("vote = %+v", h.lastVote)
	}
}

func TestHandlerKnowledgeAndPorts(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "knowledge.query", `{"tags":["aws"]}`)
	if string(resp.Payload) != "[]" {
		t.Errorf("knowledge.query payload = %s", resp.Payload)
	}

	resp = call(t, ws, 2, "ports.directory", "")
	var dir map[string]domain.PortAllocation
	if err := json.Unmarshal(resp.Payload, &dir); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dir["grpc"].Port != 50051 {
		t.Errorf("directory = %+v", dir)
	}
}

func TestValidatorCompilesAllSchemas(t *testing.T) {
	v, err := newValidator()
	if err != nil {
		t.Fatalf("newValidator: %v", err)
	}
	if len(v.schemas) != len(methodSchemas) {
		t.Errorf("compiled %d schemas, want %d", len(v.schemas), len(methodSchemas))
	}
	if err := v.validate("health.get", json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("method without schema rejected payload: %v", err)
	}
	if err := v.validate("session.create", json.RawMessage(`not json`)); !errors.Is(err, domain.ErrRPCInvalidPayload) {
		t.Errorf("invalid JSON err = %v", err)
	}
}

func TestHandlerDecision(t *testing.T) {
	srv := startHubServer(t, &stubHub{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	body := `{"context":{"preferences":{"cost_priority":0.5}},"options":[{"id":"spot","name":"Spot fleet"}]}`
	resp := call(t, ws, 1, "decision.make", body)
	if resp.Error != "" {
		t.Fatalf("decision.make: %s", resp.Error)
	}
	var d domain.Decision
	if err := json.Unmarshal(resp.Payload, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Recommended.ID != "spot" {
		t.Errorf("recommended = %q, want spot", d.Recommended.ID)
	}

	resp = call(t, ws, 2, "decision.review", body)
	if resp.Error != "" {
		t.Fatalf("decision.review: %s", resp.Error)
	}
	var r decision.Review
	if err := json.Unmarshal(resp.Payload, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !r.Consensus.ConsensusReached {
		t.Error("expected consensus in review")
	}

	resp = call(t, ws, 3, "decision.make", `{"context":{"preferences":{}},"options":[]}`)
	if resp.Code != string(domain.CodeRPCInvalidPayload) {
		t.Errorf("empty options code = %q, want %s", resp.Code, domain.CodeRPCInvalidPayload)
	}
}
