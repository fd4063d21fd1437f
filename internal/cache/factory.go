package cache

import (
	"fmt"

	"github.com/alicit/licita/internal/config"
)

// New builds the configured cache backend. An unreachable Redis falls back
// to memory with a warning rather than failing startup, since a missing
// cache must never break functionality.
func New(cfg config.CacheConfig) Cache {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory()
	case "redis":
		rc, err := NewRedis(cfg.Addr, "", 0, cfg.Prefix, cfg.GzipThresholdBytes)
		if err != nil {
			log.WithError(err).Warn("redis cache unreachable, falling back to memory")
			return NewMemory()
		}
		return rc
	default:
		panic(fmt.Sprintf("cache: unsupported backend %q", cfg.Backend))
	}
}
