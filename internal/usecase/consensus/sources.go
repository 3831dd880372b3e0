package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"sirsi-hub/internal/domain"
)

// SimulatedVoters are the proxy roles SimulatedVoteSource votes for.
var SimulatedVoters = []string{"agent_1", "agent_2", "agent_3", "cost_optimizer", "performance_monitor"}

// SimulatedVoteSource stands in for agents that have not reported. The cost
// optimizer picks the first Low or Medium risk option; other voters pick
// uniformly. Confidence is drawn from [0.7, 1.0).
type SimulatedVoteSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedVoteSource uses rng for every draw. Seed it for reproducible votes.
func NewSimulatedVoteSource(rng *rand.Rand) *SimulatedVoteSource {
	return &SimulatedVoteSource{rng: rng}
}

func (s *SimulatedVoteSource) CollectVotes(_ context.Context, req domain.DecisionRequest) ([]domain.AgentVote, error) {
	if len(req.Options) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	votes := make([]domain.AgentVote, 0, len(SimulatedVoters))
	for _, agent := range SimulatedVoters {
		selected := req.Options[s.rng.IntN(len(req.Options))]
		if agent == "cost_optimizer" {
			selected = req.Options[0]
			for _, o := range req.Options {
				if o.RiskLevel == domain.RiskLow || o.RiskLevel == domain.RiskMedium {
					selected = o
					break
				}
			}
		}
		votes = append(votes, domain.AgentVote{
			AgentID:        agent,
			DecisionID:     req.DecisionID,
			SelectedOption: selected.OptionID,
			Confidence:     0.7 + s.rng.Float64()*0.3,
			Reasoning:      "Automated vote by " + agent,
		})
	}
	return votes, nil
}

// StaticVoteSource returns a fixed vote list.
type StaticVoteSource []domain.AgentVote

func (s StaticVoteSource) CollectVotes(_ context.Context, req domain.DecisionRequest) ([]domain.AgentVote, error) {
	out := make([]domain.AgentVote, len(s))
	for i, v := range s {
		v.DecisionID = req.DecisionID
		out[i] = v
	}
	return out, nil
}

// Requester sends a request to an agent and waits for the correlated reply.
type Requester interface {
	Request(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error)
}

// ChannelVoteSource asks live agents for their vote through the
// communicator. Agents that fail or time out are left out of the tally.
type ChannelVoteSource struct {
	comm   Requester
	agents []string
	logger *slog.Logger
}

// NewChannelVoteSource polls agents, or the request's required agents when set.
func NewChannelVoteSource(comm Requester, agents []string, logger *slog.Logger) *ChannelVoteSource {
	return &ChannelVoteSource{comm: comm, agents: agents, logger: logger}
}

func (s *ChannelVoteSource) CollectVotes(ctx context.Context, req domain.DecisionRequest) ([]domain.AgentVote, error) {
	agents := s.agents
	if len(req.RequiredAgents) > 0 {
		agents = req.RequiredAgents
	}
	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	votes := make([]*domain.AgentVote, len(agents))
	var g errgroup.Group
	for i, agent := range agents {
		g.Go(func() error {
			msg := domain.NewSirsiMessage(domain.MsgActionRequest, req.Title, domain.PriorityHigh)
			msg.Context["action"] = "vote"
			msg.Context["decision_id"] = req.DecisionID
			msg.Context["options"] = string(options)

			reply, err := s.comm.Request(ctx, agent, msg)
			if err != nil {
				s.logger.Warn("vote request failed", "decision_id", req.DecisionID, "agent_id", agent, "error", err)
				return nil
			}
			v, err := parseVote(reply)
			if err != nil {
				s.logger.Warn("vote reply unusable", "decision_id", req.DecisionID, "agent_id", agent, "error", err)
				return nil
			}
			v.AgentID = agent
			v.DecisionID = req.DecisionID
			votes[i] = &v
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.AgentVote, 0, len(votes))
	for _, v := range votes {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

func parseVote(reply domain.AgentToSirsiMessage) (domain.AgentVote, error) {
	if reply.Type == domain.MsgErrorReport {
		return domain.AgentVote{}, fmt.Errorf("agent error: %s", reply.Content)
	}
	var v domain.AgentVote
	if err := json.Unmarshal(reply.Data["selected_option"], &v.SelectedOption); err != nil {
		return v, fmt.Errorf("selected_option: %w", err)
	}
	v.Confidence = reply.Confidence
	if raw, ok := reply.Data["confidence"]; ok {
		if err := json.Unmarshal(raw, &v.Confidence); err != nil {
			return v, fmt.Errorf("confidence: %w", err)
		}
	}
	if raw, ok := reply.Data["reasoning"]; ok {
		if err := json.Unmarshal(raw, &v.Reasoning); err != nil {
			v.Reasoning = string(raw)
		}
	} else {
		v.Reasoning = reply.Content
	}
	v.Timestamp = reply.Timestamp
	return v, nil
}
