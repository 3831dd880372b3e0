package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/communication"
)

// Discoverer is the connector capability agents answer from.
type Discoverer interface {
	Discover(ctx context.Context, provider domain.CloudProvider, resourceTypes []string) (domain.DiscoveryResult, error)
}

var providerConfidence = map[domain.CloudProvider]float64{
	domain.ProviderAWS:          0.9,
	domain.ProviderAzure:        0.85,
	domain.ProviderGCP:          0.88,
	domain.ProviderDigitalOcean: 0.8,
}

const defaultProviderConfidence = 0.75

// ConnectorAgentHandler answers hub requests for a cloud agent from its
// connector. The agent id is the provider's channel id.
func ConnectorAgentHandler(d Discoverer) communication.AgentHandler {
	return communication.AgentHandlerFunc(func(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error) {
		provider := domain.CloudProvider(agentID)
		switch msg.Type {
		case domain.MsgInformationRequest:
			return discoverReply(ctx, d, provider, agentID, msg)
		case domain.MsgActionRequest:
			if msg.Context["action"] == "vote" {
				return voteReply(agentID, msg)
			}
			return domain.NewAgentReply(agentID, msg, domain.MsgActionResponse,
				fmt.Sprintf("%s acknowledged action %q", provider.AgentName(), msg.Context["action"]), confidenceFor(provider)), nil
		case domain.MsgStatusQuery:
			return domain.NewAgentReply(agentID, msg, domain.MsgStatusUpdate, provider.AgentName()+" ready", 1), nil
		case domain.MsgCapabilityInquiry:
			reply := domain.NewAgentReply(agentID, msg, domain.MsgCapabilityReport, provider.AgentName()+" capabilities", 1)
			reply.Data["capabilities"] = mustJSON(Capabilities(provider))
			return reply, nil
		}
		return domain.NewAgentReply(agentID, msg, domain.MsgContextUpdate, "acknowledged "+string(msg.Type), 1), nil
	})
}

// Capabilities lists what a cloud agent can do.
func Capabilities(p domain.CloudProvider) []string {
	return []string{
		string(p) + "_agent",
		"infrastructure_discovery",
		"cost_analysis",
		"security_assessment",
		"performance_analysis",
	}
}

func discoverReply(ctx context.Context, d Discoverer, provider domain.CloudProvider, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error) {
	var types []string
	if raw := msg.Context["resource_types"]; raw != "" {
		types = strings.Split(raw, ",")
	}
	res, err := d.Discover(ctx, provider, types)
	if err != nil {
		return domain.AgentToSirsiMessage{}, err
	}

	conf := confidenceFor(provider)
	if len(res.Errors) > 0 {
		conf -= 0.1
	}
	reply := domain.NewAgentReply(agentID, msg, domain.MsgInformationResponse,
		fmt.Sprintf("Discovered %d resources on %s", len(res.Resources), provider), conf)
	reply.Data["resources"] = mustJSON(res.Resources)
	if len(res.Errors) > 0 {
		reply.Data["errors"] = mustJSON(res.Errors)
		reply.FollowUpNeeded = true
	}
	reply.Data["scan_time_ms"] = mustJSON(res.ScanTimeMs)
	return reply, nil
}

// voteReply picks the cheapest option that is not critical risk. Ties go to
// the smaller option id.
func voteReply(agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error) {
	var options []domain.DecisionOption
	if err := json.Unmarshal([]byte(msg.Context["options"]), &options); err != nil {
		return domain.AgentToSirsiMessage{}, fmt.Errorf("decode vote options: %w", err)
	}
	var pick *domain.DecisionOption
	for i := range options {
		o := &options[i]
		if o.RiskLevel == domain.RiskCritical {
			continue
		}
		if pick == nil || o.Cost < pick.Cost || (o.Cost == pick.Cost && o.OptionID < pick.OptionID) {
			pick = o
		}
	}
	if pick == nil {
		return domain.AgentToSirsiMessage{}, fmt.Errorf("no acceptable option among %d", len(options))
	}

	provider := domain.CloudProvider(agentID)
	conf := confidenceFor(provider)
	reasoning := fmt.Sprintf("%s prefers %s: lowest cost at %s risk", provider.AgentName(), pick.Name, pick.RiskLevel)
	reply := domain.NewAgentReply(agentID, msg, domain.MsgActionResponse, reasoning, conf)
	reply.Data["selected_option"] = mustJSON(pick.OptionID)
	reply.Data["confidence"] = mustJSON(conf)
	reply.Data["reasoning"] = mustJSON(reasoning)
	return reply, nil
}

func confidenceFor(p domain.CloudProvider) float64 {
	if c, ok := providerConfidence[p]; ok {
		return c
	}
	return defaultProviderConfidence
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
