package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/pkg/config"
	"github.com/noah-isme/candidate-sync/pkg/database"
)

// Open connects the backend selected by cfg.Store.Driver. The returned closer releases
// the store and any connection pool opened for it.
func Open(ctx context.Context, cfg *config.Config, opts Options) (DocumentStore, func() error, error) {
	opts = opts.withDefaults()
	switch cfg.Store.Driver {
	case "", config.StoreMemory:
		store := NewMemoryStore(opts)
		return store, store.Close, nil

	case config.StoreRedis:
		client, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store := NewRedisStore(client, cfg.Redis.KeyPrefix, opts)
		return store, store.Close, nil

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewPostgresStore(db, database.DSN(cfg.Database), opts)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("prepare documents table: %w", err)
		}
		closer := func() error {
			if err := store.Close(); err != nil {
				opts.Logger.Warn("close postgres listener", zap.Error(err))
			}
			return db.Close()
		}
		return store, closer, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
