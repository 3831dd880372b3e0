package orchestration

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/communication"
)

type taskResult struct {
	status    domain.TaskStatus
	reply     domain.AgentToSirsiMessage
	err       error
	started   time.Time
	completed time.Time
}

// runParallel issues every send before awaiting any reply, then waits for
// all replies within timeout.
func (o *Orchestrator) runParallel(ctx context.Context, sessionID string, plan []taskPlan, timeout time.Duration) []taskResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]taskResult, len(plan))
	pending := make([]*communication.PendingReply, len(plan))
	for i, p := range plan {
		results[i].started = time.Now()
		pr, err := o.dispatch(sessionID, i, p)
		if err != nil {
			results[i] = failedResult(results[i].started, err)
			continue
		}
		pending[i] = pr
	}

	var g errgroup.Group
	for i, pr := range pending {
		if pr == nil {
			continue
		}
		g.Go(func() error {
			reply, err := pr.Await(ctx)
			results[i] = outcome(results[i].started, reply, err)
			o.recordOutcome(sessionID, i, results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runSequential processes targets in batches of MaxConcurrent (one at a time
// by default). With StopOnFirstSuccess the first success cancels in-flight
// siblings and every later target is marked Cancelled without being sent.
func (o *Orchestrator) runSequential(ctx context.Context, sessionID string, plan []taskPlan, strategy domain.OrchestrationStrategy) []taskResult {
	batch := max(1, strategy.MaxConcurrent)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]taskResult, len(plan))
	var succeeded atomic.Bool

	for start := 0; start < len(plan); start += batch {
		if strategy.StopOnFirstSuccess && succeeded.Load() {
			now := time.Now()
			for i := start; i < len(plan); i++ {
				results[i] = taskResult{status: domain.TaskCancelled, completed: now}
				o.recordOutcome(sessionID, i, results[i])
			}
			break
		}

		var g errgroup.Group
		for i := start; i < min(start+batch, len(plan)); i++ {
			g.Go(func() error {
				res := o.runOne(runCtx, sessionID, i, plan[i])
				if res.status == domain.TaskCompleted && strategy.StopOnFirstSuccess && !succeeded.Swap(true) {
					cancel()
				}
				results[i] = res
				o.recordOutcome(sessionID, i, res)
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, sessionID string, idx int, p taskPlan) taskResult {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return outcome(started, domain.AgentToSirsiMessage{}, err)
	}
	pr, err := o.dispatch(sessionID, idx, p)
	if err != nil {
		return failedResult(started, err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DefaultTimeout)
	defer cancel()
	reply, err := pr.Await(ctx)
	return outcome(started, reply, err)
}

// dispatch moves the task through Assigned to InProgress, or records the
// send failure. The failure is logged and never aborts the session.
func (o *Orchestrator) dispatch(sessionID string, idx int, p taskPlan) (*communication.PendingReply, error) {
	o.setTask(sessionID, idx, func(t *domain.AgentTask) {
		t.Status = domain.TaskAssigned
		t.CorrelationID = p.msg.MessageID
		t.StartedAt = time.Now()
	})
	pr, err := o.comm.Dispatch(p.channelID, p.msg)
	if err != nil {
		o.logger.Warn("agent send failed, skipping target",
			"session_id", sessionID,
			"agent_id", p.channelID,
			"error", err,
		)
		return nil, err
	}
	o.setTask(sessionID, idx, func(t *domain.AgentTask) { t.Status = domain.TaskInProgress })
	return pr, nil
}

func (o *Orchestrator) recordOutcome(sessionID string, idx int, r taskResult) {
	o.setTask(sessionID, idx, func(t *domain.AgentTask) {
		t.Status = r.status
		t.CompletedAt = r.completed
		t.Confidence = r.reply.Confidence
		if r.err != nil {
			t.Error = r.err.Error()
		}
	})
}

func failedResult(started time.Time, err error) taskResult {
	return taskResult{status: domain.TaskFailed, err: err, started: started, completed: time.Now()}
}

// outcome classifies one awaited reply.
func outcome(started time.Time, reply domain.AgentToSirsiMessage, err error) taskResult {
	res := taskResult{reply: reply, err: err, started: started, completed: time.Now()}
	switch {
	case err == nil && reply.Type == domain.MsgErrorReport:
		res.status = domain.TaskFailed
		res.err = errors.New(reply.Content)
		res.reply.Confidence = 0
	case err == nil:
		res.status = domain.TaskCompleted
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		res.status = domain.TaskTimeout
	case errors.Is(err, context.Canceled):
		res.status = domain.TaskCancelled
	default:
		res.status = domain.TaskFailed
	}
	return res
}
