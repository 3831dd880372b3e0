package decision

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/consensus"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func balanced() domain.DecisionContext {
	return domain.DecisionContext{
		UserID: "u1",
		Preferences: domain.UserPreferences{
			CostPriority:        0.4,
			PerformancePriority: 0.3,
			SecurityPriority:    0.3,
			RiskTolerance:       0.5,
		},
		Constraints: []domain.Constraint{
			{Type: domain.ConstraintBudget, Parameters: map[string]float64{"max_budget": 5000}, Hard: true},
		},
	}
}

func options() []domain.Option {
	return []domain.Option{
		{ID: "cheap", Name: "Spot fleet", EstimatedCost: 1000, PerformanceScore: 0.6, SecurityScore: 0.8, Risk: domain.RiskAssessment{OverallRisk: 0.3}},
		{ID: "fast", Name: "Dedicated hosts", EstimatedCost: 4000, PerformanceScore: 0.95, SecurityScore: 0.9, Risk: domain.RiskAssessment{OverallRisk: 0.1}},
		{ID: "pricey", Name: "Premium cluster", EstimatedCost: 9000, PerformanceScore: 1, SecurityScore: 1, Risk: domain.RiskAssessment{OverallRisk: 0.05}},
		{ID: "weak", Name: "Legacy VMs", EstimatedCost: 200, PerformanceScore: 0.5, SecurityScore: 0.4, Risk: domain.RiskAssessment{OverallRisk: 0.2}},
		{ID: "risky", Name: "Beta region", EstimatedCost: 500, PerformanceScore: 0.9, SecurityScore: 0.9, Risk: domain.RiskAssessment{OverallRisk: 0.9}},
	}
}

func TestScoreIsWeightedSum(t *testing.T) {
	e := New(Config{}, testLogger())
	p := balanced().Preferences
	o := options()[0]
	want := 0.4*(1-0.1) + 0.3*0.6 + 0.3*0.8 + 0.2*(1-0.3)
	assert.InDelta(t, want, e.Score(p, o), 1e-12)

	o.EstimatedCost = 50000
	assert.InDelta(t, 0.3*0.6+0.3*0.8+0.2*0.7, e.Score(p, o), 1e-12)
}

func TestMakeDecisionFiltersBySafety(t *testing.T) {
	e := New(Config{}, testLogger())
	d, err := e.MakeDecision(context.Background(), balanced(), options())
	require.NoError(t, err)

	// cheap: 0.36+0.18+0.24+0.14 = 0.92; fast: 0.24+0.285+0.27+0.18 = 0.975
	assert.Equal(t, "fast", d.Recommended.ID)
	require.Len(t, d.Alternatives, 1)
	assert.Equal(t, "cheap", d.Alternatives[0].Option.ID)
	assert.Equal(t, 0.85, d.Confidence)

	require.Len(t, d.Warnings, 3)
	assert.Contains(t, d.Warnings[0], "pricey rejected by budget_limit")
	assert.Contains(t, d.Warnings[1], "weak rejected by security_minimum")
	assert.Contains(t, d.Warnings[2], "risky rejected by risk_threshold")

	assert.Len(t, e.History(0), 1)
}

func TestMakeDecisionNoViableOptions(t *testing.T) {
	e := New(Config{}, testLogger())
	opts := options()[3:]
	d, err := e.MakeDecision(context.Background(), balanced(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoViableOptions)
	assert.Equal(t, domain.CodeNoViableOptions, domain.ErrorCodeOf(err))
	assert.Len(t, d.Warnings, 2)
	assert.Empty(t, e.History(0))
}

func TestMakeDecisionValidation(t *testing.T) {
	e := New(Config{}, testLogger())

	tests := []struct {
		name    string
		mutate  func(*domain.DecisionContext)
		options []domain.Option
	}{
		{"priority above one", func(dc *domain.DecisionContext) { dc.Preferences.CostPriority = 1.5 }, options()},
		{"negative tolerance", func(dc *domain.DecisionContext) { dc.Preferences.RiskTolerance = -0.1 }, options()},
		{"zero objective weight", func(dc *domain.DecisionContext) {
			dc.Objectives = []domain.Objective{{Name: "latency", Weight: 0}}
		}, options()},
		{"no options", func(*domain.DecisionContext) {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := balanced()
			tt.mutate(&dc)
			_, err := e.MakeDecision(context.Background(), dc, tt.options)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, domain.CodeDecisionInvalid, domain.ErrorCodeOf(err))
		})
	}
}

func TestEqualScoresBreakByID(t *testing.T) {
	e := New(Config{}, testLogger())
	o := domain.Option{Name: "same", EstimatedCost: 100, PerformanceScore: 0.8, SecurityScore: 0.8, Risk: domain.RiskAssessment{OverallRisk: 0.1}}
	b, a := o, o
	b.ID, a.ID = "b", "a"
	d, err := e.MakeDecision(context.Background(), balanced(), []domain.Option{b, a})
	require.NoError(t, err)
	assert.Equal(t, "a", d.Recommended.ID)
}

func TestHistoryBounded(t *testing.T) {
	e := New(Config{HistoryLimit: 2}, testLogger())
	for range 3 {
		_, err := e.MakeDecision(context.Background(), balanced(), options())
		require.NoError(t, err)
	}
	assert.Len(t, e.History(0), 2)
	assert.Len(t, e.History(1), 1)
}

func TestReviewWithConsensusOverridesWhenReached(t *testing.T) {
	e := New(Config{}, testLogger())
	arb := consensus.New(consensus.Config{}, testLogger(), consensus.WithVoteSource(consensus.StaticVoteSource{
		{AgentID: "aws", SelectedOption: "cheap", Confidence: 0.9},
		{AgentID: "azure", SelectedOption: "cheap", Confidence: 0.8},
		{AgentID: "gcp", SelectedOption: "fast", Confidence: 0.5},
	}))

	r, err := e.ReviewWithConsensus(context.Background(), balanced(), options(), arb, 0.6)
	require.NoError(t, err)
	assert.True(t, r.Consensus.ConsensusReached)
	assert.Equal(t, "cheap", r.Decision.Recommended.ID)
	require.Len(t, r.Decision.Alternatives, 1)
	assert.Equal(t, "fast", r.Decision.Alternatives[0].Option.ID)
	assert.Contains(t, r.Decision.Reasoning, "selected by consensus")
}

func TestReviewWithConsensusKeepsScoreWithoutAgreement(t *testing.T) {
	e := New(Config{}, testLogger())
	arb := consensus.New(consensus.Config{}, testLogger(), consensus.WithVoteSource(consensus.StaticVoteSource{
		{AgentID: "aws", SelectedOption: "cheap", Confidence: 0.7},
		{AgentID: "azure", SelectedOption: "fast", Confidence: 0.7},
	}))

	r, err := e.ReviewWithConsensus(context.Background(), balanced(), options(), arb, 0.9)
	require.NoError(t, err)
	assert.False(t, r.Consensus.ConsensusReached)
	assert.Equal(t, "fast", r.Decision.Recommended.ID)
	assert.Contains(t, r.Decision.Warnings[len(r.Decision.Warnings)-1], "consensus not reached")
}
