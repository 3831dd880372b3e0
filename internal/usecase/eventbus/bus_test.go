package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirsi-hub/internal/domain"
)

func newTestBus(recent int) *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), recent)
}

func ev(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishTypedAndAll(t *testing.T) {
	bus := newTestBus(0)

	var typed, all atomic.Int32
	bus.Subscribe(domain.EventSessionCreated, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventSessionCreated {
			typed.Add(1)
		}
	})
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		all.Add(1)
	})

	bus.Publish(context.Background(), ev(domain.EventSessionCreated))
	bus.Publish(context.Background(), ev(domain.EventAgentHealth))
	bus.Close()

	assert.Equal(t, int32(1), typed.Load())
	assert.Equal(t, int32(2), all.Load())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := newTestBus(0)

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventPortAllocated, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})
	unsub()
	unsub()

	bus.Publish(context.Background(), ev(domain.EventPortAllocated))
	bus.Close()

	assert.Zero(t, got.Load())
	assert.Zero(t, bus.Stats().Subscribers)
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus(0)

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentMessage, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), ev(domain.EventAgentMessage))
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, int32(100), got.Load())
	assert.Equal(t, uint64(100), bus.Stats().Published)
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus(0)

	var got atomic.Int32
	bus.Subscribe(domain.EventConsensusFinalized, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventConsensusFinalized, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), ev(domain.EventConsensusFinalized))
	bus.Close()

	assert.Equal(t, int32(1), got.Load())
	assert.Equal(t, uint64(1), bus.Stats().Panics)
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus(0)

	var got atomic.Int32
	bus.Subscribe(domain.EventSessionCompleted, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), ev(domain.EventSessionCompleted))
	bus.Close()
	require.Equal(t, int32(1), got.Load())

	bus.Publish(context.Background(), ev(domain.EventSessionCompleted))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load())
	assert.Len(t, bus.Recent(0), 1)
}

func TestCloseWhilePublishing(t *testing.T) {
	bus := newTestBus(0)

	var started, finished atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		started.Add(1)
		time.Sleep(time.Millisecond)
		finished.Add(1)
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				bus.Publish(context.Background(), ev(domain.EventAgentMessage))
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	bus.Close()
	atClose := finished.Load()
	assert.Equal(t, started.Load(), atClose, "every started handler finished before Close returned")

	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, atClose, finished.Load(), "no handler ran after Close")
	assert.Equal(t, uint64(atClose), bus.Stats().Delivered)
}

func TestRecentRing(t *testing.T) {
	bus := newTestBus(3)
	defer bus.Close()

	types := []domain.EventType{
		domain.EventSessionCreated,
		domain.EventSessionCompleted,
		domain.EventAgentHealth,
		domain.EventPortAllocated,
		domain.EventPortReleased,
	}
	for _, typ := range types {
		bus.Publish(context.Background(), ev(typ))
	}

	got := bus.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventAgentHealth, got[0].Type)
	assert.Equal(t, domain.EventPortReleased, got[2].Type)

	last := bus.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, domain.EventPortReleased, last[0].Type)
}

func TestEmitNilBus(t *testing.T) {
	domain.Emit(context.Background(), nil, domain.EventSessionCreated, "s", nil)

	bus := newTestBus(0)
	done := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventKnowledgeAdded, func(_ context.Context, e domain.Event) {
		done <- e
	})
	domain.Emit(context.Background(), bus, domain.EventKnowledgeAdded, "s1", map[string]string{"id": "n1"})
	bus.Close()

	e := <-done
	assert.Equal(t, "s1", e.SessionID)
	assert.JSONEq(t, `{"id":"n1"}`, string(e.Payload))
}
