// Package scheduling runs the hub's housekeeping jobs on cron expressions or
// fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a kind of housekeeping job.
type Action string

const (
	ActionSessionEvict     Action = "session_evict"
	ActionDecisionSweep    Action = "decision_sweep"
	ActionPortCleanup      Action = "port_cleanup"
	ActionAgentHealthCheck Action = "agent_health_check"
	ActionPendingFlush     Action = "pending_flush"
)

const defaultTaskTimeout = 5 * time.Minute

// Task is a recurring job.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" or duration "30s"
	Action   Action
	Timeout  time.Duration
}

// DefaultTasks is the housekeeping set the hub installs at startup.
func DefaultTasks() []Task {
	return []Task{
		{Name: "evict-expired-sessions", Schedule: "1m", Action: ActionSessionEvict},
		{Name: "sweep-consensus-timeouts", Schedule: "30s", Action: ActionDecisionSweep},
		{Name: "cleanup-stale-ports", Schedule: "30s", Action: ActionPortCleanup},
		{Name: "agent-health", Schedule: "15s", Action: ActionAgentHealthCheck, Timeout: 10 * time.Second},
		{Name: "flush-pending-replies", Schedule: "1m", Action: ActionPendingFlush},
	}
}

// Scheduler runs registered actions on their schedules.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]func(ctx context.Context) error
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[Action]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// RegisterAction registers the handler for an action.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules task. Its action must already be registered.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	s.entries[task.Name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(task.Name, timeout, fn)
	}))
	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// AddTasks schedules every task, skipping those whose action is not
// registered.
func (s *Scheduler) AddTasks(tasks []Task) error {
	for _, t := range tasks {
		s.mu.Lock()
		_, ok := s.actions[t.Action]
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("no handler for task, skipping", "task", t.Name, "action", string(t.Action))
			continue
		}
		if err := s.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) run(name string, timeout time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := fn(taskCtx); err != nil {
		s.logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
}

// Start begins running tasks. Jobs see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// NextRun returns when the named task fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.ID == 0 {
		return time.Time{}, false
	}
	return e.Next, true
}

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly", or a positive Go duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
