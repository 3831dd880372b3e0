package store

import (
	"context"
	"fmt"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
)

// Open builds the KVStore selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (domain.KVStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, cfg.URL, cfg.Password, cfg.KeyPrefix)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
