package hub

import (
	"context"

	"sirsi-hub/internal/domain"
)

var defaultSuggestions = []string{
	"Try asking about cloud resources",
	"Ask for help with cost optimization",
	"Request system status information",
}

var intentSuggestions = map[domain.IntentType][]string{
	domain.IntentInfrastructureRequest: {"Review the discovered resources for unused capacity"},
	domain.IntentCostAnalysis:          {"Set a monthly budget alert for each provider"},
	domain.IntentOptimizationQuery:     {"Ask for right-sizing recommendations"},
	domain.IntentSecurityConcern:       {"Run a security assessment across all providers"},
	domain.IntentComplianceQuestion:    {"Generate a compliance summary for your frameworks"},
	domain.IntentPerformanceIssue:      {"Compare latency across regions"},
	domain.IntentTroubleshootingHelp:   {"Check agent health with the system status"},
	domain.IntentLearningRequest:       {"Ask for an explanation of a specific service"},
}

// GetSuggestions returns hints built from the session's latest reply and
// intent. context["intent_type"] overrides the remembered intent.
func (s *Service) GetSuggestions(ctx context.Context, req GetSuggestionsRequest) (*GetSuggestionsResponse, error) {
	const op = "Service.GetSuggestions"
	rec, err := s.loadSession(ctx, op, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.AgentID != "" {
		if _, _, err := s.agentInSession(op, req.SessionID, req.AgentID); err != nil {
			return nil, err
		}
	}

	intentType := rec.LastIntent
	if v := req.Context["intent_type"]; v != "" {
		intentType = domain.IntentType(v)
	}

	seen := make(map[string]bool)
	var texts []string
	add := func(list []string) {
		for _, t := range list {
			if t != "" && !seen[t] {
				seen[t] = true
				texts = append(texts, t)
			}
		}
	}
	add(rec.LastSuggestions)
	add(intentSuggestions[intentType])

	typ, conf := "contextual", 0.8
	if len(texts) == 0 {
		add(defaultSuggestions)
		typ, conf = "default", 0.5
	}
	return &GetSuggestionsResponse{
		Suggestions: toSuggestions(texts, typ, conf),
		ContextID:   domain.NewULID(s.now()),
	}, nil
}
