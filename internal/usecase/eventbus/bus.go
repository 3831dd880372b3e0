package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"sirsi-hub/internal/domain"
)

const defaultRecent = 64

type subscriber struct {
	id  uint64
	typ domain.EventType // empty matches every event
	fn  domain.EventHandler
}

// Stats counts bus activity since construction.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Panics      uint64 `json:"panics"`
	Subscribers int    `json:"subscribers"`
}

// Bus is the in-process hub event bus. Handlers run on their own goroutine
// and a small ring of recent events is kept for late subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	recent []domain.Event
	head   int
	filled bool

	nextID    atomic.Uint64
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64

	logger *slog.Logger
	wg     sync.WaitGroup
	closed bool // guarded by mu
}

// New creates an event bus that remembers the last recentSize events.
func New(logger *slog.Logger, recentSize int) *Bus {
	if recentSize <= 0 {
		recentSize = defaultRecent
	}
	return &Bus{
		recent: make([]domain.Event, recentSize),
		logger: logger,
	}
}

// Publish delivers event to the matching typed subscribers and to every
// catch-all subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.published.Add(1)
	b.recent[b.head] = event
	b.head = (b.head + 1) % len(b.recent)
	if b.head == 0 {
		b.filled = true
	}
	matched := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ == "" || s.typ == event.Type {
			matched = append(matched, s)
		}
	}
	// Add before unlocking so Close never waits concurrently with it.
	b.wg.Add(len(matched))
	b.mu.Unlock()

	for _, s := range matched {
		b.dispatch(ctx, event, s)
	}
}

// dispatch runs s on its own goroutine. The caller has already added to wg.
func (b *Bus) dispatch(ctx context.Context, event domain.Event, s subscriber) {
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.panics.Add(1)
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"subscriber", s.id,
					"panic", r,
				)
			}
		}()
		s.fn(ctx, event)
		b.delivered.Add(1)
	}()
}

// Subscribe registers handler for one event type and returns its cancel func.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event and returns its cancel func.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(typ domain.EventType, fn domain.EventHandler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscriber{id: id, typ: typ, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.head
	if b.filled {
		size = len(b.recent)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.Event, 0, n)
	start := (b.head - n + len(b.recent)) % len(b.recent)
	for i := 0; i < n; i++ {
		out = append(out, b.recent[(start+i)%len(b.recent)])
	}
	return out
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panics:      b.panics.Load(),
		Subscribers: n,
	}
}

// Close stops accepting events and waits for in-flight handlers.
// It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
