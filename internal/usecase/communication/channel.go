package communication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sirsi-hub/internal/domain"
)

// AgentChannel is the mailbox pair for one agent. Sirsi writes outbound and
// the agent reads it; the agent writes inbound through Reply and exactly one
// communicator loop reads it.
type AgentChannel struct {
	id         string
	agentType  domain.AgentType
	maxRetries int
	createdAt  time.Time

	outbound chan domain.SirsiToAgentMessage
	inbound  chan domain.AgentToSirsiMessage

	// mu guards closed and every write to outbound/inbound so that Close
	// never races a send.
	mu     sync.RWMutex
	closed bool

	pendMu  sync.Mutex
	pending []domain.QueuedMessage

	healthMu sync.RWMutex
	health   domain.AgentHealth

	lastActivity atomic.Int64
}

// NewAgentChannel creates a channel with buffered queues of bufferSize.
func NewAgentChannel(id string, agentType domain.AgentType, bufferSize, maxRetries int) *AgentChannel {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	now := time.Now()
	c := &AgentChannel{
		id:         id,
		agentType:  agentType,
		maxRetries: maxRetries,
		createdAt:  now,
		outbound:   make(chan domain.SirsiToAgentMessage, bufferSize),
		inbound:    make(chan domain.AgentToSirsiMessage, bufferSize),
		health:     domain.AgentHealth{Status: domain.HealthUnknown, LastHealthCheck: now},
	}
	c.touch()
	return c
}

func (c *AgentChannel) ID() string              { return c.id }
func (c *AgentChannel) Type() domain.AgentType  { return c.agentType }
func (c *AgentChannel) LastActivity() time.Time { return time.Unix(0, c.lastActivity.Load()) }

func (c *AgentChannel) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Send enqueues msg without blocking. When the outbound buffer is full, or
// older messages are still waiting in the backlog, msg joins the backlog.
func (c *AgentChannel) Send(msg domain.SirsiToAgentMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.CommunicationError("AgentChannel.Send", c.id, domain.ErrChannelClosed)
	}

	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	if len(c.pending) == 0 {
		select {
		case c.outbound <- msg:
			c.touch()
			return nil
		default:
		}
	}
	c.pending = append(c.pending, domain.QueuedMessage{
		Message:    msg,
		QueuedAt:   time.Now(),
		MaxRetries: c.maxRetries,
	})
	return nil
}

// FlushPending moves as much of the backlog as fits into the outbound
// buffer. Messages that still do not fit are charged a retry; those past
// their retry budget are dropped. It returns the delivered and dropped counts.
func (c *AgentChannel) FlushPending() (delivered, dropped int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, 0
	}

	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	i := 0
	for ; i < len(c.pending); i++ {
		select {
		case c.outbound <- c.pending[i].Message:
			delivered++
			continue
		default:
		}
		break
	}
	rest := c.pending[i:]
	kept := make([]domain.QueuedMessage, 0, len(rest))
	for _, q := range rest {
		q.RetryCount++
		if q.RetryCount > q.MaxRetries {
			dropped++
			continue
		}
		kept = append(kept, q)
	}
	c.pending = kept
	if delivered > 0 {
		c.touch()
	}
	return delivered, dropped
}

// PendingLen returns the backlog length.
func (c *AgentChannel) PendingLen() int {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return len(c.pending)
}

// Outbound is the agent-side receive end.
func (c *AgentChannel) Outbound() <-chan domain.SirsiToAgentMessage { return c.outbound }

// Reply is the agent-side write to inbound. It blocks until the message is
// buffered or ctx is done.
func (c *AgentChannel) Reply(ctx context.Context, msg domain.AgentToSirsiMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.CommunicationError("AgentChannel.Reply", c.id, domain.ErrChannelClosed)
	}
	select {
	case c.inbound <- msg:
		c.touch()
		return nil
	case <-ctx.Done():
		return domain.CommunicationError("AgentChannel.Reply", c.id, ctx.Err())
	}
}

func (c *AgentChannel) receive() <-chan domain.AgentToSirsiMessage { return c.inbound }

// Health returns the last recorded health snapshot.
func (c *AgentChannel) Health() domain.AgentHealth {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	h := c.health
	h.Uptime = time.Since(c.createdAt)
	return h
}

// SetHealth records a new health snapshot.
func (c *AgentChannel) SetHealth(h domain.AgentHealth) {
	c.healthMu.Lock()
	c.health = h
	c.healthMu.Unlock()
}

// Closed reports whether Close has been called.
func (c *AgentChannel) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close closes both queues and marks the channel offline. Safe to call twice.
func (c *AgentChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.outbound)
	close(c.inbound)
	c.mu.Unlock()

	c.healthMu.Lock()
	c.health.Status = domain.HealthOffline
	c.health.LastHealthCheck = time.Now()
	c.healthMu.Unlock()
}
