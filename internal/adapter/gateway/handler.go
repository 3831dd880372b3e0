package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/decision"
	"sirsi-hub/internal/usecase/hub"
)

// Hub is the API the gateway serves. *hub.Service satisfies it.
type Hub interface {
	CreateSession(ctx context.Context, req hub.CreateSessionRequest) (*hub.CreateSessionResponse, error)
	CreateAgent(ctx context.Context, req hub.CreateAgentRequest) (*hub.CreateAgentResponse, error)
	SendMessage(ctx context.Context, req hub.SendMessageRequest) (*hub.SendMessageResponse, error)
	GetAgentStatus(ctx context.Context, req hub.GetAgentStatusRequest) (*hub.GetAgentStatusResponse, error)
	GetSuggestions(ctx context.Context, req hub.GetSuggestionsRequest) (*hub.GetSuggestionsResponse, error)
	GetSystemHealth(ctx context.Context, req hub.GetSystemHealthRequest) (*hub.GetSystemHealthResponse, error)
	RequestConsensus(ctx context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error)
	SubmitVote(ctx context.Context, vote domain.AgentVote) (*domain.ConsensusResult, error)
	MakeDecision(ctx context.Context, req hub.DecideRequest) (*domain.Decision, error)
	ReviewDecision(ctx context.Context, req hub.DecideRequest) (*decision.Review, error)
	QueryKnowledge(q domain.KnowledgeQuery) ([]domain.KnowledgeNode, error)
	PortDirectory() (map[string]domain.PortAllocation, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Hub    Hub
	Bus    domain.EventBus // can be nil; only used for REST counters
	Logger *slog.Logger
}

// RegisterDefaultHandlers registers every hub RPC method on s. Payloads
// are checked against the method's JSON Schema before decoding.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	h := deps.Hub

	reg := func(method string, call func(context.Context, json.RawMessage) (any, error)) {
		s.RegisterHandler(method, func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
			if err := v.validate(method, payload); err != nil {
				return nil, err
			}
			out, err := call(ctx, payload)
			if err != nil {
				deps.Logger.Debug("gateway rpc failed", "method", method, "client", client.Name, "error", err)
				return nil, err
			}
			return json.Marshal(out)
		})
	}

	reg("session.create", typed(h.CreateSession))
	reg("agent.create", typed(h.CreateAgent))
	reg("message.send", typed(h.SendMessage))
	reg("agent.status", typed(h.GetAgentStatus))
	reg("suggestions.get", typed(h.GetSuggestions))
	reg("health.get", typed(h.GetSystemHealth))
	reg("consensus.request", typed(func(ctx context.Context, req domain.DecisionRequest) (*domain.ConsensusResult, error) {
		res, err := h.RequestConsensus(ctx, req)
		if err != nil {
			return nil, err
		}
		return &res, nil
	}))
	reg("consensus.vote", typed(h.SubmitVote))
	reg("decision.make", typed(h.MakeDecision))
	reg("decision.review", typed(h.ReviewDecision))
	reg("knowledge.query", typed(func(_ context.Context, q domain.KnowledgeQuery) ([]domain.KnowledgeNode, error) {
		nodes, err := h.QueryKnowledge(q)
		if nodes == nil && err == nil {
			nodes = []domain.KnowledgeNode{}
		}
		return nodes, err
	}))
	reg("ports.directory", func(context.Context, json.RawMessage) (any, error) {
		return h.PortDirectory()
	})
	return nil
}

// typed decodes the payload into Req before calling fn.
func typed[Req, Resp any](fn func(context.Context, Req) (Resp, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
			}
		}
		return fn(ctx, req)
	}
}
