package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/tracer"
)

// Config holds engine defaults.
type Config struct {
	DefaultThreshold float64
	DefaultTimeout   time.Duration
	HistoryLimit     int
	AgentWeights     map[string]float64
}

func (c Config) withDefaults() Config {
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 0.67
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	return c
}

const (
	minWeight     = 0.0
	maxWeight     = 10.0
	defaultWeight = 1.0
)

type activeDecision struct {
	request domain.DecisionRequest
	status  domain.DecisionStatus
	votes   []domain.AgentVote
}

type finalized struct {
	request domain.DecisionRequest
	result  domain.ConsensusResult
}

// Engine arbitrates between agents by weighted voting.
type Engine struct {
	cfg    Config
	source domain.VoteSource
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	weightsMu sync.RWMutex
	weights   map[string]float64

	mu     sync.RWMutex
	active map[string]*activeDecision

	histMu  sync.RWMutex
	history []finalized // ring, len <= cfg.HistoryLimit
	next    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithVoteSource sets where RequestConsensus collects votes from.
func WithVoteSource(s domain.VoteSource) Option {
	return func(e *Engine) { e.source = s }
}

// WithEventBus publishes consensus lifecycle events.
func WithEventBus(bus domain.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. Without a vote source, decisions wait for
// SubmitVote, Finalize or a timeout sweep.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		weights: make(map[string]float64, len(cfg.AgentWeights)),
		active:  make(map[string]*activeDecision),
	}
	for id, w := range cfg.AgentWeights {
		e.weights[id] = clamp(w, minWeight, maxWeight)
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetAgentWeight sets the voting weight of agentID, clamped to [0,10].
func (e *Engine) SetAgentWeight(agentID string, weight float64) float64 {
	w := clamp(weight, minWeight, maxWeight)
	e.weightsMu.Lock()
	e.weights[agentID] = w
	e.weightsMu.Unlock()
	return w
}

// AgentWeight returns the weight used for agentID.
func (e *Engine) AgentWeight(agentID string) float64 {
	e.weightsMu.RLock()
	defer e.weightsMu.RUnlock()
	if w, ok := e.weights[agentID]; ok {
		return w
	}
	return defaultWeight
}

// RequestConsensus registers req, collects votes from the configured source
// and finalizes when the decision is complete. A decision that still waits
// on required agents is returned with status InProgress. A zero
// ConsensusThreshold means unset and is replaced by Config.DefaultThreshold.
func (e *Engine) RequestConsensus(ctx context.Context, req domain.DecisionRequest) (domain.ConsensusResult, error) {
	ctx, span := tracer.StartSpan(ctx, "consensus.request",
		tracer.IntAttr("consensus.options", len(req.Options)),
	)
	defer span.End()

	req, err := e.prepare(req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.ConsensusResult{}, err
	}
	span.SetAttributes(tracer.StringAttr("consensus.decision_id", req.DecisionID))

	e.mu.Lock()
	if _, dup := e.active[req.DecisionID]; dup || e.inHistory(req.DecisionID) {
		e.mu.Unlock()
		err := domain.NewSubSystemError("consensus", "Engine.RequestConsensus", domain.ErrDuplicate, req.DecisionID)
		tracer.RecordError(span, err)
		return domain.ConsensusResult{}, err
	}
	e.active[req.DecisionID] = &activeDecision{request: req, status: domain.DecisionPending}
	e.mu.Unlock()

	e.logger.Info("consensus requested", "decision_id", req.DecisionID, "options", len(req.Options), "threshold", req.ConsensusThreshold)
	domain.Emit(ctx, e.bus, domain.EventConsensusRequested, "", map[string]any{
		"decision_id": req.DecisionID,
		"title":       req.Title,
	})

	if e.source != nil {
		e.collect(ctx, req)
	}

	e.mu.Lock()
	d, ok := e.active[req.DecisionID]
	if !ok {
		// Finalized concurrently by SubmitVote or a sweep.
		e.mu.Unlock()
		res, _ := e.result(req.DecisionID)
		return res, nil
	}
	if e.complete(d) || (e.source != nil && len(d.votes) > 0 && len(req.RequiredAgents) == 0) {
		res := e.finalizeLocked(d, e.timedOut(d))
		e.mu.Unlock()
		e.published(ctx, res)
		tracer.SetOK(span)
		return res, nil
	}
	d.status = domain.DecisionInProgress
	snapshot := pendingResult(d)
	e.mu.Unlock()
	return snapshot, nil
}

func (e *Engine) prepare(req domain.DecisionRequest) (domain.DecisionRequest, error) {
	const op = "Engine.RequestConsensus"
	if len(req.Options) == 0 {
		return req, domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput, "no options")
	}
	seen := make(map[string]bool, len(req.Options))
	for _, o := range req.Options {
		if o.OptionID == "" {
			return req, domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput, "option without id")
		}
		if seen[o.OptionID] {
			return req, domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput, "duplicate option "+o.OptionID)
		}
		seen[o.OptionID] = true
	}
	if req.ConsensusThreshold < 0 || req.ConsensusThreshold > 1 {
		return req, domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput,
			fmt.Sprintf("threshold %.2f outside [0,1]", req.ConsensusThreshold))
	}
	if req.ConsensusThreshold == 0 {
		req.ConsensusThreshold = e.cfg.DefaultThreshold
	}
	if req.Timeout <= 0 {
		req.Timeout = e.cfg.DefaultTimeout
	}
	if req.DecisionID == "" {
		req.DecisionID = domain.NewUUID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = e.now()
	}
	req.Options = slices.Clone(req.Options)
	req.RequiredAgents = slices.Clone(req.RequiredAgents)
	return req, nil
}

func (e *Engine) collect(ctx context.Context, req domain.DecisionRequest) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	votes, err := e.source.CollectVotes(ctx, req)
	if err != nil {
		e.logger.Warn("vote collection failed", "decision_id", req.DecisionID, "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.active[req.DecisionID]
	if !ok {
		return
	}
	for _, v := range votes {
		v.DecisionID = req.DecisionID
		if err := e.validateVote(d, &v); err != nil {
			e.logger.Debug("collected vote rejected", "decision_id", req.DecisionID, "agent_id", v.AgentID, "error", err)
			continue
		}
		d.votes = append(d.votes, v)
	}
}

// SubmitVote adds vote to its active decision. When every required agent has
// voted, or the timeout has elapsed, the decision is finalized and the result
// is returned; otherwise the result is nil.
func (e *Engine) SubmitVote(ctx context.Context, vote domain.AgentVote) (*domain.ConsensusResult, error) {
	e.mu.Lock()
	d, ok := e.active[vote.DecisionID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.NewSubSystemError("consensus", "Engine.SubmitVote", domain.ErrNotFound,
			fmt.Sprintf("decision %s not found or already finalized", vote.DecisionID))
	}
	if err := e.validateVote(d, &vote); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	d.votes = append(d.votes, vote)
	d.status = domain.DecisionInProgress

	if !e.complete(d) && !e.timedOut(d) {
		e.mu.Unlock()
		return nil, nil
	}
	res := e.finalizeLocked(d, e.timedOut(d))
	e.mu.Unlock()
	e.published(ctx, res)
	return &res, nil
}

func (e *Engine) validateVote(d *activeDecision, v *domain.AgentVote) error {
	const op = "Engine.SubmitVote"
	if v.AgentID == "" {
		return domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput, "vote without agent id")
	}
	for _, prev := range d.votes {
		if prev.AgentID == v.AgentID {
			return domain.NewSubSystemError("consensus", op, domain.ErrDuplicateVote,
				fmt.Sprintf("%s on %s", v.AgentID, d.request.DecisionID))
		}
	}
	if !d.request.HasOption(v.SelectedOption) {
		return domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput, "unknown option "+v.SelectedOption)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return domain.NewSubSystemError("consensus", op, domain.ErrInvalidInput,
			fmt.Sprintf("confidence %.3f outside [0,1]", v.Confidence))
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = e.now()
	}
	return nil
}

// complete reports whether every required agent has voted. Decisions without
// required agents are only completed by their source, Finalize or a timeout.
func (e *Engine) complete(d *activeDecision) bool {
	if len(d.request.RequiredAgents) == 0 {
		return false
	}
	for _, id := range d.request.RequiredAgents {
		if !slices.ContainsFunc(d.votes, func(v domain.AgentVote) bool { return v.AgentID == id }) {
			return false
		}
	}
	return true
}

func (e *Engine) timedOut(d *activeDecision) bool {
	return e.now().Sub(d.request.CreatedAt) > d.request.Timeout
}

// Finalize computes the result of an active decision from the votes so far.
func (e *Engine) Finalize(ctx context.Context, decisionID string) (domain.ConsensusResult, error) {
	e.mu.Lock()
	d, ok := e.active[decisionID]
	if !ok {
		e.mu.Unlock()
		return domain.ConsensusResult{}, domain.NewSubSystemError("consensus", "Engine.Finalize", domain.ErrNotFound, decisionID)
	}
	res := e.finalizeLocked(d, e.timedOut(d))
	e.mu.Unlock()
	e.published(ctx, res)
	return res, nil
}

// SweepTimeouts finalizes every active decision whose timeout has elapsed at
// now, using whatever votes have arrived.
func (e *Engine) SweepTimeouts(ctx context.Context, now time.Time) []domain.ConsensusResult {
	var out []domain.ConsensusResult
	e.mu.Lock()
	for _, d := range e.active {
		if now.Sub(d.request.CreatedAt) > d.request.Timeout {
			out = append(out, e.finalizeLocked(d, true))
		}
	}
	e.mu.Unlock()
	for _, res := range out {
		e.published(ctx, res)
	}
	return out
}

// finalizeLocked computes the result, moves the decision to history and
// returns the result. e.mu must be held for writing.
func (e *Engine) finalizeLocked(d *activeDecision, timedOut bool) domain.ConsensusResult {
	res := Tally(d.request, d.votes, e.AgentWeight)
	res.FinalizedAt = e.now()
	if !res.ConsensusReached && timedOut {
		res.Status = domain.DecisionTimeout
	}

	delete(e.active, d.request.DecisionID)
	e.histMu.Lock()
	entry := finalized{request: d.request, result: res}
	if len(e.history) < e.cfg.HistoryLimit {
		e.history = append(e.history, entry)
	} else {
		e.history[e.next] = entry
	}
	e.next = (e.next + 1) % e.cfg.HistoryLimit
	e.histMu.Unlock()
	return res
}

func (e *Engine) published(ctx context.Context, res domain.ConsensusResult) {
	e.logger.Info("consensus finalized",
		"decision_id", res.DecisionID,
		"status", res.Status,
		"winning_option", res.WinningOption,
		"support", res.SupportPercentage,
		"votes", len(res.Votes),
	)
	domain.Emit(ctx, e.bus, domain.EventConsensusFinalized, "", res)
}

// Tally computes a result from votes. Each vote contributes
// weight(agent) × confidence to its option; the highest sum wins and exact
// ties go to the lexicographically smallest option id. Support is the winning
// share of the total, and the threshold is inclusive.
func Tally(req domain.DecisionRequest, votes []domain.AgentVote, weight func(agentID string) float64) domain.ConsensusResult {
	res := domain.ConsensusResult{
		DecisionID:       req.DecisionID,
		Status:           domain.DecisionFailed,
		VoteDistribution: make(map[string]int),
		WeightedScores:   make(map[string]float64),
		Votes:            slices.Clone(votes),
		Outcome:          "No consensus reached",
	}
	for _, v := range votes {
		res.VoteDistribution[v.SelectedOption]++
		res.WeightedScores[v.SelectedOption] += weight(v.AgentID) * v.Confidence
	}

	ids := make([]string, 0, len(res.WeightedScores))
	for id := range res.WeightedScores {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var total, best float64
	for _, id := range ids {
		s := res.WeightedScores[id]
		total += s
		if res.WinningOption == "" || s > best {
			res.WinningOption, best = id, s
		}
	}
	if total > 0 {
		res.SupportPercentage = best / total
	}
	res.ConsensusReached = len(votes) > 0 && res.SupportPercentage >= req.ConsensusThreshold
	if res.ConsensusReached {
		res.Status = domain.DecisionConsensusReached
		res.Outcome = "Consensus reached: " + req.OptionName(res.WinningOption)
	}
	return res
}

func pendingResult(d *activeDecision) domain.ConsensusResult {
	return domain.ConsensusResult{
		DecisionID:       d.request.DecisionID,
		Status:           d.status,
		VoteDistribution: map[string]int{},
		WeightedScores:   map[string]float64{},
		Votes:            slices.Clone(d.votes),
		Outcome:          "Awaiting votes",
	}
}

// GetDecision returns the state of a decision, active or finalized.
func (e *Engine) GetDecision(id string) (domain.DecisionSnapshot, error) {
	e.mu.RLock()
	if d, ok := e.active[id]; ok {
		snap := domain.DecisionSnapshot{Request: d.request, Status: d.status, Votes: slices.Clone(d.votes)}
		e.mu.RUnlock()
		return snap, nil
	}
	e.mu.RUnlock()

	e.histMu.RLock()
	defer e.histMu.RUnlock()
	for _, f := range e.history {
		if f.request.DecisionID == id {
			return domain.DecisionSnapshot{Request: f.request, Status: f.result.Status, Votes: slices.Clone(f.result.Votes)}, nil
		}
	}
	return domain.DecisionSnapshot{}, domain.NewSubSystemError("consensus", "Engine.GetDecision", domain.ErrNotFound, id)
}

func (e *Engine) result(id string) (domain.ConsensusResult, bool) {
	e.histMu.RLock()
	defer e.histMu.RUnlock()
	for _, f := range e.history {
		if f.request.DecisionID == id {
			return f.result, true
		}
	}
	return domain.ConsensusResult{}, false
}

func (e *Engine) inHistory(id string) bool {
	_, ok := e.result(id)
	return ok
}

// GetConsensusHistory returns up to limit finalized results, newest first.
// A limit of zero or less returns everything retained.
func (e *Engine) GetConsensusHistory(limit int) []domain.ConsensusResult {
	e.histMu.RLock()
	n := len(e.history)
	out := make([]domain.ConsensusResult, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, e.history[(e.next-i+n)%n].result)
	}
	e.histMu.RUnlock()

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveCount returns the number of decisions awaiting finalization.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
