package main

import (
	"context"
	"log/slog"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/scheduling"
)

type sessionEvicter interface {
	EvictExpired() int
}

type timeoutSweeper interface {
	SweepTimeouts(ctx context.Context, now time.Time) []domain.ConsensusResult
}

type portKeeper interface {
	Heartbeat(ctx context.Context, allocationID string) error
	CleanupExpired(ctx context.Context, now time.Time) int
}

type agentMonitor interface {
	CheckHealth(ctx context.Context) map[string]domain.HealthStatus
	FlushPending() map[string]int
}

// Backends that expire keys lazily expose one of these.
type (
	memorySweeper interface{ Sweep() int }
	dbSweeper     interface {
		Sweep(ctx context.Context) (int64, error)
	}
)

// maintenance binds the scheduler's housekeeping actions to the running hub.
type maintenance struct {
	orch      sessionEvicter
	store     domain.KVStore
	consensus timeoutSweeper
	ports     portKeeper
	comm      agentMonitor
	owned     []domain.PortAllocation
	log       *slog.Logger
	now       func() time.Time
}

func (m *maintenance) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *maintenance) register(s *scheduling.Scheduler) {
	s.RegisterAction(scheduling.ActionSessionEvict, m.evictSessions)
	s.RegisterAction(scheduling.ActionDecisionSweep, m.sweepDecisions)
	s.RegisterAction(scheduling.ActionPortCleanup, m.cleanupPorts)
	s.RegisterAction(scheduling.ActionAgentHealthCheck, m.checkAgents)
	s.RegisterAction(scheduling.ActionPendingFlush, m.flushPending)
}

func (m *maintenance) evictSessions(ctx context.Context) error {
	evicted := m.orch.EvictExpired()

	var swept int64
	switch st := m.store.(type) {
	case memorySweeper:
		swept = int64(st.Sweep())
	case dbSweeper:
		n, err := st.Sweep(ctx)
		if err != nil {
			return err
		}
		swept = n
	}
	if evicted > 0 || swept > 0 {
		m.log.Info("evicted expired sessions", "orchestrations", evicted, "store_keys", swept)
	}
	return nil
}

func (m *maintenance) sweepDecisions(ctx context.Context) error {
	if res := m.consensus.SweepTimeouts(ctx, m.clock()); len(res) > 0 {
		m.log.Info("finalized timed out decisions", "count", len(res))
	}
	return nil
}

// cleanupPorts refreshes the hub's own allocations before expiring stale
// ones, so its listeners never age out.
func (m *maintenance) cleanupPorts(ctx context.Context) error {
	for _, a := range m.owned {
		if err := m.ports.Heartbeat(ctx, a.ID); err != nil {
			m.log.Warn("port heartbeat failed", "service", a.ServiceName, "error", err)
		}
	}
	if n := m.ports.CleanupExpired(ctx, m.clock()); n > 0 {
		m.log.Info("released stale ports", "count", n)
	}
	return nil
}

func (m *maintenance) checkAgents(ctx context.Context) error {
	for id, status := range m.comm.CheckHealth(ctx) {
		if status != domain.HealthHealthy {
			m.log.Warn("agent unhealthy", "agent", id, "status", status)
		}
	}
	return ctx.Err()
}

func (m *maintenance) flushPending(context.Context) error {
	for id, n := range m.comm.FlushPending() {
		if n > 0 {
			m.log.Debug("flushed pending replies", "agent", id, "count", n)
		}
	}
	return nil
}
