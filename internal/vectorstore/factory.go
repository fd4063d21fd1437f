package vectorstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/logging"
)

var log = logging.WithComponent("vectorstore")

// New resolves the configured vector store backend, falling back to an
// in-memory store when the requested backend cannot be reached.
func New(ctx context.Context, cfg config.VectorStoreConfig, pool *pgxpool.Pool) Store {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore()
	case "postgres", "pgvector":
		if pool == nil {
			log.Warn("postgres vector backend requested without a database pool, using memory store")
			return NewMemoryStore()
		}
		store, err := NewPostgresStore(ctx, pool, cfg.Dimensions)
		if err != nil {
			log.WithError(err).Warn("failed to initialize pgvector store, falling back to memory")
			return NewMemoryStore()
		}
		return store
	case "qdrant":
		store, err := NewQdrantStore(cfg.QdrantAddr, "licita_chunks", cfg.Dimensions, cfg.Metric)
		if err != nil {
			log.WithError(err).Warn("failed to initialize qdrant store, falling back to memory")
			return NewMemoryStore()
		}
		return store
	default:
		log.WithField("backend", cfg.Backend).Warn("unknown vector store backend, using memory store")
		return NewMemoryStore()
	}
}
