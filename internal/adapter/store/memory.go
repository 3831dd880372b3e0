// Package store implements domain.KVStore over memory, SQLite and Redis.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

// DefaultTTL applies when Set is called with a zero ttl.
const DefaultTTL = 24 * time.Hour

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps values in a map. Expired keys are dropped lazily on Get
// and eagerly by Sweep.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound("MemoryStore.Get", key)
	}
	if !m.now().Before(it.expires) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && cur.expires.Equal(it.expires) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, notFound("MemoryStore.Get", key)
	}
	return slices.Clone(it.value), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.items[key] = memoryItem{value: slices.Clone(value), expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired keys and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if !now.Before(it.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *MemoryStore) Health(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func notFound(op, key string) error {
	return domain.NewSubSystemError("store", op, domain.ErrNotFound, key)
}

func unavailable(op string, err error) error {
	return domain.NewSubSystemError("store", op, domain.ErrUnavailable, err.Error())
}
