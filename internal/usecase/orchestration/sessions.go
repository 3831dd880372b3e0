package orchestration

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"sirsi-hub/internal/domain"
)

type sessionEntry struct {
	session *domain.OrchestrationSession
	running bool
	touched time.Time
}

// sessionTable is bounded by capacity and ttl. Idle sessions live in an LRU
// ordered by last write; executing sessions are pinned outside it so neither
// the capacity bound nor the ttl sweep can drop them. Reads take only the
// read lock and do not reorder.
type sessionTable struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	idle     *simplelru.LRU[string, *sessionEntry]
	pinned   map[string]*sessionEntry
	evicted  uint64
}

func newSessionTable(capacity int, ttl time.Duration) *sessionTable {
	if capacity <= 0 {
		capacity = 1000
	}
	// NewLRU only fails for a non-positive size.
	idle, _ := simplelru.NewLRU[string, *sessionEntry](capacity, nil)
	return &sessionTable{
		capacity: capacity,
		ttl:      ttl,
		idle:     idle,
		pinned:   make(map[string]*sessionEntry),
	}
}

// insert adds s, evicting the least recently written idle session when
// full. It reports false when every slot is held by an executing session.
func (t *sessionTable) insert(s *domain.OrchestrationSession, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idle.Len()+len(t.pinned) >= t.capacity {
		if _, _, ok := t.idle.RemoveOldest(); !ok {
			return false
		}
		t.evicted++
	}
	t.idle.Add(s.ID, &sessionEntry{session: s, touched: now})
	return true
}

// lookupLocked finds id without touching recency.
func (t *sessionTable) lookupLocked(id string) (*sessionEntry, bool) {
	if ent, ok := t.pinned[id]; ok {
		return ent, true
	}
	return t.idle.Peek(id)
}

func (t *sessionTable) get(id string) (*domain.OrchestrationSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ent, ok := t.lookupLocked(id)
	if !ok {
		return nil, false
	}
	return ent.session.Clone(), true
}

// update applies fn to the stored session under the write lock. fn returns
// an error to reject the mutation; the session is left unchanged in that case
// only if fn did not modify it before failing. Toggling ent.running moves
// the entry between the LRU and the pinned set.
func (t *sessionTable) update(id string, now time.Time, fn func(ent *sessionEntry) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.lookupLocked(id)
	if !ok {
		return domain.NewSubSystemError("session", "sessionTable.update", domain.ErrNotFound, id)
	}
	if err := fn(ent); err != nil {
		return err
	}
	ent.touched = now

	_, wasPinned := t.pinned[id]
	switch {
	case ent.running && !wasPinned:
		t.idle.Remove(id)
		t.pinned[id] = ent
	case !ent.running && wasPinned:
		delete(t.pinned, id)
		t.idle.Add(id, ent)
	case !ent.running:
		t.idle.Get(id) // mark most recently written
	}
	return nil
}

func (t *sessionTable) list() []*domain.OrchestrationSession {
	t.mu.RLock()
	out := make([]*domain.OrchestrationSession, 0, t.idle.Len()+len(t.pinned))
	for _, ent := range t.idle.Values() {
		out = append(out, ent.session.Clone())
	}
	for _, ent := range t.pinned {
		out = append(out, ent.session.Clone())
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// evictExpired drops idle sessions not written for longer than ttl.
func (t *sessionTable) evictExpired(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, id := range t.idle.Keys() {
		ent, ok := t.idle.Peek(id)
		if !ok || now.Sub(ent.touched) <= t.ttl {
			continue
		}
		t.idle.Remove(id)
		n++
	}
	t.evicted += uint64(n)
	return n
}

func (t *sessionTable) counts() (size, running int, evicted uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.idle.Len() + len(t.pinned), len(t.pinned), t.evicted
}
