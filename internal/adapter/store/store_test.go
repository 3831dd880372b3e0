package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)} }

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s domain.KVStore, c *clock) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeStoreKeyNotFound, domain.ErrorCodeOf(err))

	require.NoError(t, s.Set(ctx, "session:1", []byte(`{"user_id":"u1"}`), time.Hour))
	got, err := s.Get(ctx, "session:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(got))

	require.NoError(t, s.Set(ctx, "session:1", []byte(`{"user_id":"u2"}`), time.Hour))
	got, err = s.Get(ctx, "session:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u2"}`, string(got))

	require.NoError(t, s.Delete(ctx, "session:1"))
	_, err = s.Get(ctx, "session:1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.Delete(ctx, "session:1"))

	if c != nil {
		require.NoError(t, s.Set(ctx, "short", []byte("x"), time.Minute))
		require.NoError(t, s.Set(ctx, "default", []byte("y"), 0))
		c.Advance(2 * time.Minute)
		_, err = s.Get(ctx, "short")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.Get(ctx, "default")
		assert.NoError(t, err)
		c.Advance(DefaultTTL)
		_, err = s.Get(ctx, "default")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}

	assert.NoError(t, s.Health(ctx))
}

func TestMemoryStore(t *testing.T) {
	c := newClock()
	s := NewMemoryStore()
	s.now = c.Now
	exerciseStore(t, s, c)
}

func TestMemoryStoreSweep(t *testing.T) {
	c := newClock()
	s := NewMemoryStore()
	s.now = c.Now
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	c.Advance(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	_, err := s.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", v, time.Hour))
	v[0] = 'z'
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c := newClock()
	s.now = c.Now
	exerciseStore(t, s, c)
}

func TestSQLiteStoreSweepAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	c := newClock()
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	s.now = c.Now
	require.NoError(t, s.Set(ctx, "keep", []byte("1"), time.Hour))
	require.NoError(t, s.Set(ctx, "drop", []byte("2"), time.Second))
	c.Advance(time.Minute)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })
	s2.now = c.Now
	got, err := s2.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	pingErr error
	closed  bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStore(t *testing.T) {
	fake := newFakeRedis()
	s := newRedisStore(fake, "")
	exerciseStore(t, s, nil)
}

func TestRedisStorePrefixAndTTL(t *testing.T) {
	fake := newFakeRedis()
	s := newRedisStore(fake, "hub:")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
	assert.Equal(t, DefaultTTL, fake.ttls["hub:a"])
	assert.Equal(t, time.Minute, fake.ttls["hub:b"])

	require.NoError(t, s.Close())
	assert.True(t, fake.closed)
}

func TestRedisStoreHealthUnavailable(t *testing.T) {
	fake := newFakeRedis()
	fake.pingErr = errors.New("connection refused")
	s := newRedisStore(fake, "")
	err := s.Health(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, domain.CodeStoreUnavailable, domain.ErrorCodeOf(err))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = Open(ctx, config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(ctx, config.StoreConfig{Backend: "redis", URL: "://bad"})
	assert.Error(t, err)
}
