package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the source-result, embedding-mirror, and answer caches
// with a shared Redis instance, the external key-value store named in
// spec §6's CACHE_BACKEND_URL.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	threshold int
}

// NewRedis dials Redis eagerly so misconfiguration surfaces at startup
// rather than on the first cache miss.
func NewRedis(addr, password string, db int, keyPrefix string, gzipThreshold int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix, threshold: gzipThreshold}, nil
}

func (c *RedisCache) fullKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("redis get failed")
		}
		return nil, false
	}
	return maybeDecompress(v), true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.fullKey(key), maybeCompress(value, c.threshold), ttl).Err(); err != nil {
		log.WithError(err).Debug("redis set failed")
	}
}

func (c *RedisCache) Scan(ctx context.Context, prefix string) []string {
	var out []string
	iter := c.client.Scan(ctx, 0, c.fullKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.WithError(err).Debug("redis scan failed")
	}
	return out
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }
