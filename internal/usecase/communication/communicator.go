package communication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sirsi-hub/internal/domain"
)

// DefaultAgentIDs are the static channel identities.
var DefaultAgentIDs = []string{"aws", "azure", "gcp", "digitalocean"}

// Config tunes the communicator.
type Config struct {
	AgentIDs       []string
	BufferSize     int
	MaxRetries     int
	RequestTimeout time.Duration
}

// Communicator owns one AgentChannel per known agent and is the only path
// agent traffic takes to reach the rest of the hub.
type Communicator struct {
	channels map[string]*AgentChannel
	order    []string
	timeout  time.Duration
	bus      domain.EventBus
	logger   *slog.Logger

	waitMu  sync.Mutex
	waiters map[string]chan domain.AgentToSirsiMessage

	sent      atomic.Uint64
	received  atomic.Uint64
	errCount  atomic.Uint64
	respNanos atomic.Int64
	respCount atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New builds the channel set from cfg. The channel set is fixed for the
// lifetime of the communicator.
func New(cfg Config, bus domain.EventBus, logger *slog.Logger) *Communicator {
	ids := cfg.AgentIDs
	if len(ids) == 0 {
		ids = DefaultAgentIDs
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	c := &Communicator{
		channels: make(map[string]*AgentChannel, len(ids)),
		timeout:  cfg.RequestTimeout,
		bus:      bus,
		logger:   logger,
		waiters:  make(map[string]chan domain.AgentToSirsiMessage),
	}
	for _, id := range ids {
		if _, dup := c.channels[id]; dup {
			continue
		}
		c.channels[id] = NewAgentChannel(id, agentTypeFor(id), cfg.BufferSize, cfg.MaxRetries)
		c.order = append(c.order, id)
	}
	return c
}

func agentTypeFor(id string) domain.AgentType {
	if p, err := domain.ParseCloudProvider(id); err == nil {
		return domain.CloudAgent(p)
	}
	return domain.AgentType{Kind: domain.AgentKindIntegration, Service: id}
}

// AgentIDs returns the channel identities in configuration order.
func (c *Communicator) AgentIDs() []string {
	return append([]string(nil), c.order...)
}

// Channel returns the channel for id.
func (c *Communicator) Channel(id string) (*AgentChannel, bool) {
	ch, ok := c.channels[id]
	return ch, ok
}

// SendToAgent routes msg to the channel for agentID. Every dispatch to a
// known channel counts as a sent message, whether or not it succeeds.
func (c *Communicator) SendToAgent(agentID string, msg domain.SirsiToAgentMessage) error {
	ch, ok := c.channels[agentID]
	if !ok {
		return domain.NewDomainError("Communicator.SendToAgent", domain.ErrAgentNotFound, agentID)
	}
	c.sent.Add(1)
	if err := ch.Send(msg); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("send to agent failed", "agent_id", agentID, "message_id", msg.MessageID, "error", err)
		return err
	}
	return nil
}

// BroadcastToAllAgents sends msg to every channel. Failures do not stop the
// remaining sends; they are joined into the returned error.
func (c *Communicator) BroadcastToAllAgents(msg domain.SirsiToAgentMessage) error {
	var errs []error
	for _, id := range c.order {
		if err := c.SendToAgent(id, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("broadcast %s: %d of %d sends failed: %w",
		msg.MessageID, len(errs), len(c.order), errors.Join(errs...))
}

// GetAgentChannelStatus reports, per agent, whether the last recorded
// health status is Healthy.
func (c *Communicator) GetAgentChannelStatus() map[string]bool {
	out := make(map[string]bool, len(c.channels))
	for id, ch := range c.channels {
		out[id] = ch.Health().IsHealthy()
	}
	return out
}

// AgentHealth returns the full health snapshot for every channel.
func (c *Communicator) AgentHealth() map[string]domain.AgentHealth {
	out := make(map[string]domain.AgentHealth, len(c.channels))
	for id, ch := range c.channels {
		out[id] = ch.Health()
	}
	return out
}

// PendingReply is an in-flight request awaiting its correlated reply.
type PendingReply struct {
	c       *Communicator
	agentID string
	id      string
	wait    chan domain.AgentToSirsiMessage
	start   time.Time
	once    sync.Once
}

// Dispatch sends msg and registers a waiter for the reply whose correlation
// id equals msg.MessageID. The caller must Await or Cancel the result.
func (c *Communicator) Dispatch(agentID string, msg domain.SirsiToAgentMessage) (*PendingReply, error) {
	if _, ok := c.channels[agentID]; !ok {
		return nil, domain.NewDomainError("Communicator.Dispatch", domain.ErrAgentNotFound, agentID)
	}
	p := &PendingReply{
		c:       c,
		agentID: agentID,
		id:      msg.MessageID,
		wait:    make(chan domain.AgentToSirsiMessage, 1),
		start:   time.Now(),
	}
	c.waitMu.Lock()
	c.waiters[p.id] = p.wait
	c.waitMu.Unlock()

	if err := c.SendToAgent(agentID, msg); err != nil {
		p.Cancel()
		return nil, err
	}
	return p, nil
}

// Await blocks until the reply arrives or ctx is done.
func (p *PendingReply) Await(ctx context.Context) (domain.AgentToSirsiMessage, error) {
	defer p.Cancel()
	select {
	case reply := <-p.wait:
		p.c.respNanos.Add(int64(time.Since(p.start)))
		p.c.respCount.Add(1)
		return reply, nil
	case <-ctx.Done():
		p.c.errCount.Add(1)
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", domain.ErrTimeout, cause)
		}
		return domain.AgentToSirsiMessage{}, domain.CommunicationError("Communicator.Await", p.agentID, cause)
	}
}

// Cancel drops the waiter. A reply arriving later is discarded.
func (p *PendingReply) Cancel() {
	p.once.Do(func() {
		p.c.waitMu.Lock()
		delete(p.c.waiters, p.id)
		p.c.waitMu.Unlock()
	})
}

// Request is Dispatch followed by Await. Without a deadline on ctx the
// configured request timeout applies.
func (c *Communicator) Request(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error) {
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	p, err := c.Dispatch(agentID, msg)
	if err != nil {
		return domain.AgentToSirsiMessage{}, err
	}
	return p.Await(ctx)
}

// Start launches one inbound consumer loop per channel. Calling it more
// than once has no effect.
func (c *Communicator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		for _, id := range c.order {
			ch := c.channels[id]
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.consume(ctx, ch)
			}()
		}
	})
}

func (c *Communicator) consume(ctx context.Context, ch *AgentChannel) {
	in := ch.receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			c.route(ctx, msg)
		}
	}
}

func (c *Communicator) route(ctx context.Context, msg domain.AgentToSirsiMessage) {
	c.received.Add(1)

	c.waitMu.Lock()
	wait, ok := c.waiters[msg.CorrelationID]
	if ok {
		delete(c.waiters, msg.CorrelationID)
	}
	c.waitMu.Unlock()

	if ok {
		select {
		case wait <- msg:
		default:
		}
		return
	}
	if msg.CorrelationID != "" {
		c.logger.Debug("late agent reply discarded", "agent_id", msg.AgentID, "correlation_id", msg.CorrelationID)
		return
	}
	c.logger.Debug("unsolicited agent message", "agent_id", msg.AgentID, "type", msg.Type)
	domain.Emit(ctx, c.bus, domain.EventAgentMessage, "", msg)
}

// Attach runs handler as the worker for agentID until ctx is done or the
// channel closes. The goroutine is tracked by Stop.
func (c *Communicator) Attach(ctx context.Context, agentID string, handler AgentHandler) error {
	ch, ok := c.channels[agentID]
	if !ok {
		return domain.NewDomainError("Communicator.Attach", domain.ErrAgentNotFound, agentID)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := RunAgent(ctx, ch, handler, c.logger); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("agent worker stopped", "agent_id", agentID, "error", err)
		}
	}()
	return nil
}

// CheckHealth sends a HealthCheck to every agent concurrently and records
// Healthy, Degraded or Unhealthy from the reply and its latency.
func (c *Communicator) CheckHealth(ctx context.Context) map[string]domain.HealthStatus {
	var mu sync.Mutex
	out := make(map[string]domain.HealthStatus, len(c.order))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range c.order {
		ch := c.channels[id]
		g.Go(func() error {
			status := c.probe(gctx, ch)
			mu.Lock()
			out[ch.ID()] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Communicator) probe(ctx context.Context, ch *AgentChannel) domain.HealthStatus {
	prev := ch.Health()
	h := domain.AgentHealth{LastHealthCheck: time.Now(), ResponseTimeAvg: prev.ResponseTimeAvg, ErrorRate: prev.ErrorRate}

	if ch.Closed() {
		h.Status = domain.HealthOffline
		ch.SetHealth(h)
		return h.Status
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	reply, err := c.Request(ctx, ch.ID(), domain.NewSirsiMessage(domain.MsgHealthCheck, "health check", domain.PriorityNormal))
	latency := time.Since(start)

	switch {
	case err != nil:
		h.Status = domain.HealthUnhealthy
		h.ErrorRate = ewma(prev.ErrorRate, 1)
	case reply.Type != domain.MsgHealthReport:
		h.Status = domain.HealthUnhealthy
		h.ErrorRate = ewma(prev.ErrorRate, 1)
	case latency > c.timeout/2:
		h.Status = domain.HealthDegraded
		h.ErrorRate = ewma(prev.ErrorRate, 0)
	default:
		h.Status = domain.HealthHealthy
		h.ErrorRate = ewma(prev.ErrorRate, 0)
	}
	if err == nil {
		if prev.ResponseTimeAvg == 0 {
			h.ResponseTimeAvg = latency
		} else {
			h.ResponseTimeAvg = (prev.ResponseTimeAvg*4 + latency) / 5
		}
	}
	h.CurrentLoad = float64(len(ch.outbound)) / float64(cap(ch.outbound))
	ch.SetHealth(h)

	if prev.Status != h.Status {
		c.logger.Info("agent health changed", "agent_id", ch.ID(), "from", prev.Status, "to", h.Status)
		domain.Emit(ctx, c.bus, domain.EventAgentHealth, "", map[string]any{
			"agent_id": ch.ID(),
			"status":   h.Status,
		})
	}
	return h.Status
}

func ewma(prev, sample float64) float64 { return prev*0.8 + sample*0.2 }

// FlushPending retries every channel's backlog and returns the number of
// messages dropped per agent.
func (c *Communicator) FlushPending() map[string]int {
	dropped := make(map[string]int)
	for _, id := range c.order {
		delivered, n := c.channels[id].FlushPending()
		if n > 0 {
			dropped[id] = n
			c.errCount.Add(uint64(n))
			c.logger.Warn("dropped queued messages", "agent_id", id, "dropped", n)
		}
		if delivered > 0 {
			c.logger.Debug("flushed queued messages", "agent_id", id, "delivered", delivered)
		}
	}
	return dropped
}

// Metrics returns a snapshot of communicator traffic.
func (c *Communicator) Metrics() domain.CommunicationMetrics {
	m := domain.CommunicationMetrics{
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		Errors:           c.errCount.Load(),
	}
	if n := c.respCount.Load(); n > 0 {
		m.AvgResponseTime = time.Duration(c.respNanos.Load() / int64(n))
	}
	if m.MessagesSent > 0 {
		m.ErrorRate = float64(m.Errors) / float64(m.MessagesSent)
	}
	return m
}

// Stop closes every channel and waits for consumer loops and attached
// workers to exit.
func (c *Communicator) Stop() {
	c.stopOnce.Do(func() {
		for _, id := range c.order {
			c.channels[id].Close()
		}
	})
	c.wg.Wait()
}
