package decision

import (
	"context"
	"fmt"

	"sirsi-hub/internal/domain"
)

// Arbiter settles a decision request by voting.
type Arbiter interface {
	RequestConsensus(ctx context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error)
}

// Review is a policy decision arbitrated by consensus.
type Review struct {
	Decision  domain.Decision        `json:"decision"`
	Consensus domain.ConsensusResult `json:"consensus"`
}

// ReviewWithConsensus applies the safety rules, then lets the arbiter vote on
// the viable options. When consensus is reached its winner replaces the
// weighted-sum recommendation; otherwise the weighted-sum choice stands and
// a warning records the disagreement.
func (e *Engine) ReviewWithConsensus(ctx context.Context, dc domain.DecisionContext, options []domain.Option, arbiter Arbiter, threshold float64) (Review, error) {
	d, err := e.MakeDecision(ctx, dc, options)
	if err != nil {
		return Review{Decision: d}, err
	}

	viable := append([]domain.ScoredOption{{Option: d.Recommended, Score: d.Score}}, d.Alternatives...)
	req := domain.DecisionRequest{
		DecisionID:         d.ID,
		Title:              "Policy review for " + dc.UserID,
		Description:        d.Reasoning,
		ConsensusThreshold: threshold,
		Context:            map[string]string{"user_id": dc.UserID},
	}
	for _, so := range viable {
		req.Options = append(req.Options, domain.DecisionOption{
			OptionID:  so.Option.ID,
			Name:      so.Option.Name,
			RiskLevel: so.Option.RiskLevel(),
			Cost:      so.Option.EstimatedCost,
		})
	}

	res, err := arbiter.RequestConsensus(ctx, req)
	if err != nil {
		return Review{Decision: d}, domain.WrapOp("Engine.ReviewWithConsensus", err)
	}

	if res.ConsensusReached && res.WinningOption != d.Recommended.ID {
		for i, so := range viable {
			if so.Option.ID != res.WinningOption {
				continue
			}
			alts := append(append([]domain.ScoredOption{}, viable[:i]...), viable[i+1:]...)
			d.Recommended, d.Score, d.Alternatives = so.Option, so.Score, alts
			d.Reasoning = fmt.Sprintf("%s selected by consensus with %.0f%% support", so.Option.Name, res.SupportPercentage*100)
			break
		}
	}
	if !res.ConsensusReached {
		d.Warnings = append(d.Warnings, fmt.Sprintf("consensus not reached (%.0f%% support); keeping weighted-sum choice", res.SupportPercentage*100))
	}
	return Review{Decision: d, Consensus: res}, nil
}
