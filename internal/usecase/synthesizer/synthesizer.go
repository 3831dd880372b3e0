package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"sirsi-hub/internal/domain"
)

// KnowledgeRecorder receives one node per agent contribution.
type KnowledgeRecorder interface {
	AddNode(ctx context.Context, n domain.KnowledgeNode) (domain.KnowledgeNode, error)
}

// Synthesizer folds per-agent responses into one explainable answer. It
// keeps every contribution, in order, and does no numeric fusion.
type Synthesizer struct {
	recorder KnowledgeRecorder
	logger   *slog.Logger
}

// New creates a synthesizer. recorder may be nil.
func New(recorder KnowledgeRecorder, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{recorder: recorder, logger: logger}
}

var suggestionsByType = map[string]string{
	"infrastructure_discovery": "Review discovered resources for idle or oversized capacity",
	"cost_analysis":            "Set budget alerts on the providers with the highest hourly spend",
	"security_assessment":      "Schedule a recurring security posture review across providers",
	"performance_analysis":     "Compare latency across regions before placing new workloads",
	"general_query":            "Ask for a detailed breakdown by provider",
}

// EnhanceResponse appends one learning point per agent response to base,
// records the contributions in the knowledge graph when configured, and
// derives proactive suggestions from response types and failed targets.
func (s *Synthesizer) EnhanceResponse(ctx context.Context, base domain.SirsiResponse, responses []domain.AgentResponse) (domain.SirsiResponse, error) {
	for i, r := range responses {
		if r.AgentID == "" {
			return domain.SirsiResponse{}, domain.NewDomainError("Synthesizer.EnhanceResponse", domain.ErrInvalidInput,
				fmt.Sprintf("response %d has no agent id", i))
		}
	}

	out := base
	out.LearningPoints = slices.Clone(base.LearningPoints)
	out.ProactiveSuggestions = slices.Clone(base.ProactiveSuggestions)
	out.FailedTargets = slices.Clone(base.FailedTargets)

	header := []string{
		"Multi-cloud analysis completed",
		fmt.Sprintf("Analyzed %d cloud providers", len(responses)),
	}
	if out.Explanation != "" {
		header = append([]string{out.Explanation}, header...)
	}
	out.Explanation = strings.Join(header, "\n")

	for _, r := range responses {
		out.LearningPoints = append(out.LearningPoints, learningPoint(r))
		s.record(ctx, r)
	}

	seen := make(map[string]bool, len(out.ProactiveSuggestions))
	for _, sug := range out.ProactiveSuggestions {
		seen[sug] = true
	}
	addSuggestion := func(sug string) {
		if sug != "" && !seen[sug] {
			seen[sug] = true
			out.ProactiveSuggestions = append(out.ProactiveSuggestions, sug)
		}
	}
	for _, r := range responses {
		addSuggestion(suggestionsByType[r.ResponseType])
	}
	for _, failed := range out.FailedTargets {
		addSuggestion(fmt.Sprintf("Retry %s once its connector recovers", failed))
	}
	if len(responses) > 1 {
		addSuggestion("Compare the providers side by side to pick a primary platform")
	}
	return out, nil
}

func learningPoint(r domain.AgentResponse) string {
	line := fmt.Sprintf("Provider %s: %s (confidence %.2f) - %s", r.AgentID, r.ResponseType, r.Confidence, r.Content)
	if len(r.Metadata) == 0 {
		return line
	}
	keys := slices.Sorted(maps.Keys(r.Metadata))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r.Metadata[k]
	}
	return line + " [" + strings.Join(parts, ", ") + "]"
}

func (s *Synthesizer) record(ctx context.Context, r domain.AgentResponse) {
	if s.recorder == nil {
		return
	}
	content, err := json.Marshal(map[string]any{
		"content":  r.Content,
		"metadata": r.Metadata,
	})
	if err != nil {
		return
	}
	resource := r.Metadata["resource_id"]
	if resource == "" {
		resource = r.AgentID
	}
	tags := []string{"orchestration"}
	if op := r.Metadata["operation_type"]; op != "" {
		tags = append(tags, op)
	}
	_, err = s.recorder.AddNode(ctx, domain.KnowledgeNode{
		ResourceID:    resource,
		SourceAgent:   r.AgentID,
		KnowledgeType: r.ResponseType,
		Content:       content,
		Confidence:    r.Confidence,
		Tags:          tags,
	})
	if err != nil {
		s.logger.Warn("record agent contribution failed", "agent_id", r.AgentID, "error", err)
	}
}
