// Package portregistry hands out service ports and keeps a directory of
// live services. It is constructed once and injected; there is no global.
package portregistry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

// DefaultReserved are never handed out.
var DefaultReserved = []int{22, 25, 53, 80, 110, 143, 443, 993, 995, 3000, 3001, 5432, 5433, 6379, 6380, 26257, 26258}

// DefaultRange is scanned when neither the request nor the service type
// names a range.
var DefaultRange = domain.PortRange{Start: 8000, End: 9000}

var serviceRanges = map[domain.ServiceType]domain.PortRange{
	domain.ServiceRestAPI:        {Start: 8080, End: 8099},
	domain.ServiceGRPC:           {Start: 50050, End: 50099},
	domain.ServiceWebSocket:      {Start: 8100, End: 8199},
	domain.ServiceDatabase:       {Start: 5400, End: 5499},
	domain.ServiceCache:          {Start: 6300, End: 6399},
	domain.ServiceAnalytics:      {Start: 8200, End: 8299},
	domain.ServiceSecurity:       {Start: 8300, End: 8399},
	domain.ServiceFrontend:       {Start: 3000, End: 3099},
	domain.ServiceInfrastructure: {Start: 8400, End: 8499},
	domain.ServiceFinancial:      {Start: 8500, End: 8599},
}

// Announcer advertises allocations, e.g. over mDNS.
type Announcer interface {
	Announce(ctx context.Context, a domain.PortAllocation) error
	Withdraw(a domain.PortAllocation)
}

// Prober reports whether the OS can bind port.
type Prober func(port int) bool

// ListenProber binds 127.0.0.1:port and closes it again.
func ListenProber(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Config tunes the registry.
type Config struct {
	HeartbeatTimeout time.Duration
	Reserved         []int
}

// Registry allocates ports. All state is behind one RWMutex.
type Registry struct {
	timeout   time.Duration
	reserved  map[int]bool
	prober    Prober
	announcer Announcer
	bus       domain.EventBus
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	byPort    map[int]*domain.PortAllocation
	byService map[string]int
}

// Option configures a Registry.
type Option func(*Registry)

// WithProber adds an OS-level availability check.
func WithProber(p Prober) Option { return func(r *Registry) { r.prober = p } }

// WithAnnouncer advertises allocations when they become active.
func WithAnnouncer(a Announcer) Option { return func(r *Registry) { r.announcer = a } }

// WithEventBus publishes port.allocated and port.released.
func WithEventBus(bus domain.EventBus) Option { return func(r *Registry) { r.bus = bus } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New creates a registry.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.Reserved == nil {
		cfg.Reserved = DefaultReserved
	}
	r := &Registry{
		timeout:   cfg.HeartbeatTimeout,
		reserved:  make(map[int]bool, len(cfg.Reserved)),
		logger:    logger,
		now:       time.Now,
		byPort:    make(map[int]*domain.PortAllocation),
		byService: make(map[string]int),
	}
	for _, p := range cfg.Reserved {
		r.reserved[p] = true
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) availableLocked(port int) bool {
	if port <= 0 || port > 65535 || r.reserved[port] {
		return false
	}
	if _, taken := r.byPort[port]; taken {
		return false
	}
	return r.prober == nil || r.prober(port)
}

// RequestPort returns a port for req.ServiceName. A service that already
// holds a port gets it back, refreshed and Active. New allocations start
// Reserved until their first heartbeat.
func (r *Registry) RequestPort(ctx context.Context, req domain.PortRequest) (domain.PortAllocation, error) {
	const op = "Registry.RequestPort"
	if req.ServiceName == "" {
		return domain.PortAllocation{}, domain.NewSubSystemError("ports", op, domain.ErrInvalidInput, "service name is empty")
	}
	now := r.now()

	r.mu.Lock()
	if port, ok := r.byService[req.ServiceName]; ok {
		a := r.byPort[port]
		a.LastHeartbeat = now
		a.Status = domain.AllocationActive
		out := cloneAlloc(a)
		r.mu.Unlock()
		r.logger.Info("refreshed port allocation", "service", req.ServiceName, "port", port)
		return out, nil
	}

	port := 0
	if req.PreferredPort > 0 {
		if r.availableLocked(req.PreferredPort) {
			port = req.PreferredPort
		} else if req.Required {
			r.mu.Unlock()
			return domain.PortAllocation{}, domain.NewSubSystemError("ports", op, domain.ErrPortUnavailable,
				fmt.Sprintf("preferred port %d is not available", req.PreferredPort))
		} else {
			r.logger.Warn("preferred port not available", "service", req.ServiceName, "port", req.PreferredPort)
		}
	}
	if port == 0 {
		port = r.scanLocked(req)
	}
	if port == 0 {
		r.mu.Unlock()
		return domain.PortAllocation{}, domain.NewSubSystemError("ports", op, domain.ErrLimitReached,
			fmt.Sprintf("no available ports for %s", req.ServiceName))
	}

	a := &domain.PortAllocation{
		ID:            domain.NewUUID(),
		Port:          port,
		ServiceName:   req.ServiceName,
		ServiceType:   req.ServiceType,
		Status:        domain.AllocationReserved,
		AllocatedAt:   now,
		LastHeartbeat: now,
		Metadata:      maps.Clone(req.Metadata),
	}
	r.byPort[port] = a
	r.byService[req.ServiceName] = port
	out := cloneAlloc(a)
	r.mu.Unlock()

	r.logger.Info("allocated port", "service", req.ServiceName, "type", req.ServiceType, "port", port)
	domain.Emit(ctx, r.bus, domain.EventPortAllocated, "", out)
	return out, nil
}

func (r *Registry) scanLocked(req domain.PortRequest) int {
	var ranges []domain.PortRange
	if req.Range != nil {
		ranges = append(ranges, *req.Range)
	}
	if sr, ok := serviceRanges[req.ServiceType]; ok {
		ranges = append(ranges, sr)
	}
	ranges = append(ranges, DefaultRange)
	for _, rg := range ranges {
		for p := rg.Start; p <= rg.End; p++ {
			if r.availableLocked(p) {
				return p
			}
		}
	}
	return 0
}

// ReleasePort frees an allocation.
func (r *Registry) ReleasePort(ctx context.Context, allocationID string) error {
	r.mu.Lock()
	a := r.findLocked(allocationID)
	if a == nil {
		r.mu.Unlock()
		return domain.NewSubSystemError("ports", "Registry.ReleasePort", domain.ErrAllocationNotFound, allocationID)
	}
	delete(r.byPort, a.Port)
	delete(r.byService, a.ServiceName)
	out := cloneAlloc(a)
	r.mu.Unlock()

	if r.announcer != nil {
		r.announcer.Withdraw(out)
	}
	r.logger.Info("released port", "service", out.ServiceName, "port", out.Port)
	domain.Emit(ctx, r.bus, domain.EventPortReleased, "", out)
	return nil
}

// Heartbeat keeps an allocation alive and marks it Active. The first
// heartbeat of an allocation announces it.
func (r *Registry) Heartbeat(ctx context.Context, allocationID string) error {
	r.mu.Lock()
	a := r.findLocked(allocationID)
	if a == nil {
		r.mu.Unlock()
		return domain.NewSubSystemError("ports", "Registry.Heartbeat", domain.ErrAllocationNotFound, allocationID)
	}
	first := a.Status == domain.AllocationReserved
	a.LastHeartbeat = r.now()
	a.Status = domain.AllocationActive
	out := cloneAlloc(a)
	r.mu.Unlock()

	if first && r.announcer != nil {
		if err := r.announcer.Announce(ctx, out); err != nil {
			r.logger.Warn("announce failed", "service", out.ServiceName, "error", err)
		}
	}
	return nil
}

func (r *Registry) findLocked(id string) *domain.PortAllocation {
	for _, a := range r.byPort {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// ServiceDirectory returns Active allocations keyed by service name.
func (r *Registry) ServiceDirectory() map[string]domain.PortAllocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.PortAllocation)
	for _, a := range r.byPort {
		if a.Status == domain.AllocationActive {
			out[a.ServiceName] = cloneAlloc(a)
		}
	}
	return out
}

// ServicePort returns the allocation held by name.
func (r *Registry) ServicePort(name string) (domain.PortAllocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	port, ok := r.byService[name]
	if !ok {
		return domain.PortAllocation{}, false
	}
	return cloneAlloc(r.byPort[port]), true
}

// CleanupExpired removes allocations whose last heartbeat is older than the
// heartbeat timeout. Reserved allocations are kept.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-r.timeout)
	var removed []domain.PortAllocation

	r.mu.Lock()
	for _, port := range slices.Sorted(maps.Keys(r.byPort)) {
		a := r.byPort[port]
		if a.Status == domain.AllocationReserved || !a.LastHeartbeat.Before(cutoff) {
			continue
		}
		a.Status = domain.AllocationExpired
		removed = append(removed, cloneAlloc(a))
		delete(r.byPort, port)
		delete(r.byService, a.ServiceName)
	}
	r.mu.Unlock()

	for _, a := range removed {
		if r.announcer != nil {
			r.announcer.Withdraw(a)
		}
		r.logger.Warn("cleaned up expired allocation", "service", a.ServiceName, "port", a.Port)
		domain.Emit(ctx, r.bus, domain.EventPortReleased, "", a)
	}
	return len(removed)
}

// Stats counts allocations by status and service type.
func (r *Registry) Stats() domain.PortStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := domain.PortStats{Total: len(r.byPort), ByType: make(map[domain.ServiceType]int)}
	for _, a := range r.byPort {
		switch a.Status {
		case domain.AllocationActive:
			s.Active++
		case domain.AllocationReserved:
			s.Reserved++
		case domain.AllocationInactive:
			s.Inactive++
		case domain.AllocationExpired:
			s.Expired++
		}
		s.ByType[a.ServiceType]++
	}
	return s
}

func cloneAlloc(a *domain.PortAllocation) domain.PortAllocation {
	out := *a
	out.Metadata = maps.Clone(a.Metadata)
	return out
}
