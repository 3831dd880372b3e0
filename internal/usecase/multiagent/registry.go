// Package multiagent tracks the agent instances created inside hub sessions.
package multiagent

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

// Metrics counts the work routed through one agent instance.
type Metrics struct {
	MessagesProcessed   uint64  `json:"messages_processed"`
	OperationsCompleted uint64  `json:"operations_completed"`
	ErrorsEncountered   uint64  `json:"errors_encountered"`
	AvgResponseTimeMs   float64 `json:"avg_response_time_ms"`
}

type entry struct {
	inst    domain.AgentInstance
	metrics Metrics
	total   time.Duration
}

// Registry holds agent instances keyed by id.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*entry
	bySession map[string]map[string]struct{}
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents:    make(map[string]*entry),
		bySession: make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

// Register adds inst. Registering an id twice is an error.
func (r *Registry) Register(inst domain.AgentInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[inst.ID]; exists {
		return domain.NewSubSystemError("agent", "Registry.Register", domain.ErrDuplicate, inst.ID)
	}
	inst.Config = maps.Clone(inst.Config)
	inst.Capabilities = slices.Clone(inst.Capabilities)
	r.agents[inst.ID] = &entry{inst: inst}
	ids := r.bySession[inst.SessionID]
	if ids == nil {
		ids = make(map[string]struct{})
		r.bySession[inst.SessionID] = ids
	}
	ids[inst.ID] = struct{}{}
	r.logger.Info("agent registered", "agent_id", inst.ID, "session_id", inst.SessionID, "type", inst.Type.String())
	return nil
}

// Get returns the instance and its metrics.
func (r *Registry) Get(agentID string) (domain.AgentInstance, Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[agentID]
	if !ok {
		return domain.AgentInstance{}, Metrics{}, domain.NewSubSystemError("agent", "Registry.Get", domain.ErrNotFound, agentID)
	}
	return cloneInstance(e.inst), e.metrics, nil
}

// ForSession lists a session's agents, oldest first.
func (r *Registry) ForSession(sessionID string) []domain.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentInstance, 0, len(r.bySession[sessionID]))
	for id := range r.bySession[sessionID] {
		out = append(out, cloneInstance(r.agents[id].inst))
	}
	sortInstances(out)
	return out
}

// List returns every instance, oldest first.
func (r *Registry) List() []domain.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentInstance, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, cloneInstance(e.inst))
	}
	sortInstances(out)
	return out
}

// SetState moves an instance to state.
func (r *Registry) SetState(agentID string, state domain.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		return domain.NewSubSystemError("agent", "Registry.SetState", domain.ErrNotFound, agentID)
	}
	e.inst.State = state
	e.inst.UpdatedAt = time.Now()
	return nil
}

// RecordOperation folds one routed message into the instance metrics.
// Unknown ids are ignored.
func (r *Registry) RecordOperation(agentID string, elapsed time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		return
	}
	e.metrics.MessagesProcessed++
	if failed {
		e.metrics.ErrorsEncountered++
	} else {
		e.metrics.OperationsCompleted++
	}
	e.total += elapsed
	e.metrics.AvgResponseTimeMs = float64(e.total.Milliseconds()) / float64(e.metrics.MessagesProcessed)
	e.inst.UpdatedAt = time.Now()
}

// Remove unregisters an agent.
func (r *Registry) Remove(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		return domain.NewSubSystemError("agent", "Registry.Remove", domain.ErrNotFound, agentID)
	}
	r.removeLocked(e)
	r.logger.Info("agent removed", "agent_id", agentID)
	return nil
}

// RemoveSession drops every agent of a session and returns how many went.
func (r *Registry) RemoveSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.bySession[sessionID] {
		r.removeLocked(r.agents[id])
		n++
	}
	return n
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.agents, e.inst.ID)
	if ids := r.bySession[e.inst.SessionID]; ids != nil {
		delete(ids, e.inst.ID)
		if len(ids) == 0 {
			delete(r.bySession, e.inst.SessionID)
		}
	}
}

func cloneInstance(in domain.AgentInstance) domain.AgentInstance {
	in.Config = maps.Clone(in.Config)
	in.Capabilities = slices.Clone(in.Capabilities)
	return in
}

func sortInstances(s []domain.AgentInstance) {
	slices.SortFunc(s, func(a, b domain.AgentInstance) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
