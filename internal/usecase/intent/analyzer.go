package intent

import (
	"context"
	"strings"

	"sirsi-hub/internal/domain"
)

type rule struct {
	typ      domain.IntentType
	topic    string
	keywords []string
}

// rules are checked in order; the first matching rule decides the intent type.
var rules = []rule{
	{domain.IntentInfrastructureRequest, "infrastructure", []string{"deploy", "infrastructure", "provision"}},
	{domain.IntentCostAnalysis, "cost", []string{"cost", "budget", "spend"}},
	{domain.IntentSecurityConcern, "security", []string{"security", "vulnerab", "breach"}},
	{domain.IntentPerformanceIssue, "performance", []string{"slow", "latency", "performance"}},
	{domain.IntentComplianceQuestion, "compliance", []string{"compliance", "gdpr", "soc2", "hipaa"}},
	{domain.IntentOptimizationQuery, "optimization", []string{"optimi"}},
	{domain.IntentTroubleshootingHelp, "troubleshooting", []string{"error", "fail", "broken"}},
	{domain.IntentLearningRequest, "learning", []string{"learn", "explain", "how"}},
}

var cloudKeywords = []struct {
	words    []string
	provider domain.CloudProvider
}{
	{[]string{"aws", "amazon"}, domain.ProviderAWS},
	{[]string{"azure", "microsoft"}, domain.ProviderAzure},
	{[]string{"gcp", "google"}, domain.ProviderGCP},
	{[]string{"digitalocean", "digital ocean"}, domain.ProviderDigitalOcean},
}

var urgentWords = map[string]domain.UrgencyLevel{
	"emergency": domain.UrgencyEmergency,
	"outage":    domain.UrgencyCritical,
	"critical":  domain.UrgencyCritical,
	"urgent":    domain.UrgencyHigh,
	"asap":      domain.UrgencyHigh,
}

// KeywordAnalyzer is a deterministic keyword classifier.
type KeywordAnalyzer struct {
	// DefaultClouds are targeted when the text names none and the intent
	// type has no preferred provider.
	DefaultClouds []domain.CloudProvider
}

// NewKeywordAnalyzer returns an analyzer defaulting to AWS, Azure and GCP.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{DefaultClouds: []domain.CloudProvider{domain.ProviderAWS, domain.ProviderAzure, domain.ProviderGCP}}
}

// Analyze classifies text. Confidence is 0.5 plus 0.1 per matched keyword,
// capped at 0.95.
func (a *KeywordAnalyzer) Analyze(_ context.Context, text string, hints map[string]string) (domain.UserIntent, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.UserIntent{}, domain.NewSubSystemError("orchestration", "KeywordAnalyzer.Analyze", domain.ErrInvalidInput, "empty text")
	}
	lower := strings.ToLower(trimmed)

	in := domain.UserIntent{
		Description:   trimmed,
		Type:          domain.IntentGeneralInquiry,
		Context:       hints,
		Urgency:       domain.UrgencyMedium,
		UserExpertise: hints["expertise"],
	}

	matches := 0
	for _, r := range rules {
		hit := false
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				matches++
				hit = true
				in.Entities = append(in.Entities, kw)
			}
		}
		if !hit {
			continue
		}
		if len(in.Goals) == 0 {
			in.Type = r.typ
		}
		in.Goals = append(in.Goals, r.topic)
	}
	in.Confidence = min(0.5+0.1*float64(matches), 0.95)
	in.Complexity = min(float64(len(in.Goals))*0.25+float64(len(strings.Fields(lower)))/100, 1)

	for word, level := range urgentWords {
		if strings.Contains(lower, word) && level > in.Urgency {
			in.Urgency = level
		}
	}

	for _, ck := range cloudKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				in.Clouds = append(in.Clouds, ck.provider)
				break
			}
		}
	}
	if len(in.Clouds) == 0 {
		in.Clouds = a.defaultTargets(in.Type)
	}
	return in, nil
}

func (a *KeywordAnalyzer) defaultTargets(t domain.IntentType) []domain.CloudProvider {
	switch t {
	case domain.IntentComplianceQuestion, domain.IntentSecurityConcern:
		// Narrow security questions to the primary provider.
		return []domain.CloudProvider{domain.ProviderAWS}
	default:
		return append([]domain.CloudProvider(nil), a.DefaultClouds...)
	}
}

var _ domain.IntentAnalyzer = (*KeywordAnalyzer)(nil)
