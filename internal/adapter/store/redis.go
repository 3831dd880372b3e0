package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// RedisStore keeps values in Redis under a key prefix, with native TTLs.
type RedisStore struct {
	client redisClient
	prefix string
}

// NewRedisStore dials url and checks the connection. A non-empty password
// overrides the one embedded in url.
func NewRedisStore(ctx context.Context, url, password, prefix string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStore(rdb, prefix), nil
}

func newRedisStore(c redisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sirsi:"
	}
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound("RedisStore.Get", key)
	}
	if err != nil {
		return nil, unavailable("RedisStore.Get", err)
	}
	return b, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return unavailable("RedisStore.Set", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return unavailable("RedisStore.Delete", err)
	}
	return nil
}

func (r *RedisStore) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("RedisStore.Health", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
