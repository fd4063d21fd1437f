package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alicit/licita/internal/config"
)

// New builds the configured Store. An empty DSN yields an in-process
// MemoryStore, matching the rest of this codebase's "degrade, don't fail
// startup" posture for optional backing services.
func New(ctx context.Context, cfg config.DatabaseConfig, mappers MapperLookup) Store {
	if cfg.DSN == "" {
		log.Warn("no database DSN configured, using in-memory persistence store")
		return NewMemoryStore(mappers)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		log.WithError(err).Error("failed to open postgres pool, falling back to in-memory store")
		return NewMemoryStore(mappers)
	}
	if err := pool.Ping(ctx); err != nil {
		log.WithError(err).Error("postgres ping failed, falling back to in-memory store")
		pool.Close()
		return NewMemoryStore(mappers)
	}
	return NewPostgresStore(ctx, pool, mappers)
}
