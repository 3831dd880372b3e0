// Package decision is the policy review layer: it filters candidate options
// through safety rules and ranks the survivors with a linear weighted sum.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

// Config holds the safety floors and retention.
type Config struct {
	SecurityMinimum float64
	RiskCeiling     float64
	CostNormalizer  float64
	HistoryLimit    int
}

func (c Config) withDefaults() Config {
	if c.SecurityMinimum <= 0 {
		c.SecurityMinimum = 0.7
	}
	if c.RiskCeiling <= 0 {
		c.RiskCeiling = 0.8
	}
	if c.CostNormalizer <= 0 {
		c.CostNormalizer = 10000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	return c
}

// The scoring model is fixed, so every recommendation carries the same confidence.
const decisionConfidence = 0.85

const riskWeight = 0.2

// SafetyRule rejects an option by returning a non-empty message.
type SafetyRule struct {
	Name  string
	Check func(dc domain.DecisionContext, o domain.Option) string
}

// Engine makes and records policy decisions.
type Engine struct {
	cfg    Config
	rules  []SafetyRule
	logger *slog.Logger

	mu      sync.RWMutex
	history []domain.Decision
}

// New creates an engine with the default safety rules.
func New(cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, rules: defaultRules(cfg), logger: logger}
}

func defaultRules(cfg Config) []SafetyRule {
	return []SafetyRule{
		{Name: "budget_limit", Check: func(dc domain.DecisionContext, o domain.Option) string {
			if limit, ok := dc.MaxBudget(); ok && o.EstimatedCost > limit {
				return fmt.Sprintf("estimated cost %.2f exceeds budget %.2f", o.EstimatedCost, limit)
			}
			return ""
		}},
		{Name: "security_minimum", Check: func(_ domain.DecisionContext, o domain.Option) string {
			if o.SecurityScore < cfg.SecurityMinimum {
				return fmt.Sprintf("security score %.2f below %.2f", o.SecurityScore, cfg.SecurityMinimum)
			}
			return ""
		}},
		{Name: "risk_threshold", Check: func(_ domain.DecisionContext, o domain.Option) string {
			if o.Risk.OverallRisk > cfg.RiskCeiling {
				return fmt.Sprintf("risk %.2f above %.2f", o.Risk.OverallRisk, cfg.RiskCeiling)
			}
			return ""
		}},
	}
}

func validateContext(dc domain.DecisionContext, options []domain.Option) error {
	const op = "Engine.MakeDecision"
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }
	p := dc.Preferences
	for name, v := range map[string]float64{
		"cost_priority":        p.CostPriority,
		"performance_priority": p.PerformancePriority,
		"security_priority":    p.SecurityPriority,
		"risk_tolerance":       p.RiskTolerance,
	} {
		if !inRange(v) {
			return domain.NewSubSystemError("decision", op, domain.ErrInvalidInput, fmt.Sprintf("%s %.2f outside [0,1]", name, v))
		}
	}
	for _, obj := range dc.Objectives {
		if obj.Weight <= 0 {
			return domain.NewSubSystemError("decision", op, domain.ErrInvalidInput, fmt.Sprintf("objective %q weight must be positive", obj.Name))
		}
	}
	if len(options) == 0 {
		return domain.NewSubSystemError("decision", op, domain.ErrInvalidInput, "no options")
	}
	return nil
}

// Validate runs every safety rule against every option.
func (e *Engine) Validate(dc domain.DecisionContext, options []domain.Option) (viable []domain.Option, checks []domain.SafetyValidation) {
	for _, o := range options {
		passed := true
		for _, r := range e.rules {
			msg := r.Check(dc, o)
			checks = append(checks, domain.SafetyValidation{Rule: r.Name, OptionID: o.ID, Passed: msg == "", Message: msg})
			if msg != "" {
				passed = false
			}
		}
		if passed {
			viable = append(viable, o)
		}
	}
	return viable, checks
}

// Score is the weighted sum cost·(1−min(cost/normalizer,1)) +
// performance·perf + security·sec + 0.2·(1−risk).
func (e *Engine) Score(p domain.UserPreferences, o domain.Option) float64 {
	cost := 1 - min(o.EstimatedCost/e.cfg.CostNormalizer, 1)
	return p.CostPriority*cost +
		p.PerformancePriority*o.PerformanceScore +
		p.SecurityPriority*o.SecurityScore +
		riskWeight*(1-o.Risk.OverallRisk)
}

// MakeDecision filters options through the safety rules and recommends the
// highest scoring survivor. Rejected options become warnings. When nothing
// survives, the returned Decision carries the warnings and the error is
// ErrNoViableOptions.
func (e *Engine) MakeDecision(ctx context.Context, dc domain.DecisionContext, options []domain.Option) (domain.Decision, error) {
	if err := validateContext(dc, options); err != nil {
		return domain.Decision{}, err
	}

	viable, checks := e.Validate(dc, options)
	var warnings []string
	for _, c := range checks {
		if !c.Passed {
			warnings = append(warnings, fmt.Sprintf("%s rejected by %s: %s", c.OptionID, c.Rule, c.Message))
		}
	}
	if len(viable) == 0 {
		e.logger.Warn("no viable options", "user_id", dc.UserID, "options", len(options))
		return domain.Decision{Warnings: warnings}, domain.NewSubSystemError("decision", "Engine.MakeDecision",
			domain.ErrNoViableOptions, strings.Join(warnings, "; "))
	}

	ranked := e.rank(dc.Preferences, viable)
	best := ranked[0]
	d := domain.Decision{
		ID:           domain.NewUUID(),
		Recommended:  best.Option,
		Score:        best.Score,
		Confidence:   decisionConfidence,
		Alternatives: ranked[1:],
		Warnings:     warnings,
		Reasoning: fmt.Sprintf("%s scored %.3f on the weighted sum of cost, performance, security and risk; %d of %d options passed safety review",
			best.Option.Name, best.Score, len(viable), len(options)),
		CreatedAt: time.Now(),
	}
	e.record(d)
	e.logger.Info("decision made", "decision_id", d.ID, "recommended", d.Recommended.ID, "score", d.Score)
	return d, nil
}

// rank orders options by descending score; equal scores order by id.
func (e *Engine) rank(p domain.UserPreferences, options []domain.Option) []domain.ScoredOption {
	out := make([]domain.ScoredOption, len(options))
	for i, o := range options {
		out[i] = domain.ScoredOption{Option: o, Score: e.Score(p, o)}
	}
	slices.SortStableFunc(out, func(a, b domain.ScoredOption) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Option.ID, b.Option.ID)
	})
	return out
}

func (e *Engine) record(d domain.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, d)
	if over := len(e.history) - e.cfg.HistoryLimit; over > 0 {
		e.history = slices.Delete(e.history, 0, over)
	}
}

// History returns up to limit recorded decisions, newest first.
func (e *Engine) History(limit int) []domain.Decision {
	e.mu.RLock()
	out := slices.Clone(e.history)
	e.mu.RUnlock()
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
