package domain

import (
	"context"
	"time"
)

// KVStore externalises conversational state. Get on a missing or expired
// key returns an error matching ErrNotFound.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
	Close() error
}
