package objectstore

import (
	"context"
	"fmt"

	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/logging"
)

var log = logging.WithComponent("objectstore")

// New builds the configured object store backend.
func New(ctx context.Context, cfg config.ObjectStoreConfig) ObjectStore {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore()
	case "s3":
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("s3 object store unavailable, falling back to memory")
			return NewMemoryStore()
		}
		return s
	default:
		panic(fmt.Sprintf("objectstore: unsupported backend %q", cfg.Backend))
	}
}
