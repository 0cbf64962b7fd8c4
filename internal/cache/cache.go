// Package cache provides an optional, namespaced Redis cache for handler
// results. When Redis is unreachable the cache degrades to a no-op so
// callers keep serving requests without it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Namespace groups cache keys with a dedicated TTL. The set and the key
// prefixes below are fixed: `request:`, `market_data:`, `analysis:`,
// `session:`, `metrics:`, `config:`.
type Namespace string

const (
	NamespaceRequest    Namespace = "request"
	NamespaceMarketData Namespace = "market_data"
	NamespaceAnalysis   Namespace = "analysis"
	NamespaceSession    Namespace = "session"
	NamespaceMetrics    Namespace = "metrics"
	NamespaceConfig     Namespace = "config"
)

var defaultTTL = map[Namespace]time.Duration{
	NamespaceRequest:    5 * time.Minute,
	NamespaceMarketData: 5 * time.Minute,
	NamespaceAnalysis:   30 * time.Minute,
	NamespaceSession:    time.Hour,
	NamespaceMetrics:    5 * time.Minute,
	NamespaceConfig:     24 * time.Hour,
}

// Config configures the Redis connection.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Cache wraps a Redis client. A Cache whose construction-time ping
// failed, or one built by NewNoop (no client at all), makes every method
// a no-op that reports unavailable rather than erroring.
type Cache struct {
	client    *redis.Client
	available bool
	log       zerolog.Logger
}

// New connects to Redis and pings it once. On failure it returns a Cache
// that reports Available() == false instead of an error, so callers
// degrade to a cache-miss path rather than failing.
func New(cfg Config, log zerolog.Logger) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("cache: redis unreachable, continuing without cache")
		return &Cache{client: client, available: false, log: log}
	}

	return &Cache{client: client, available: true, log: log}
}

// NewNoop returns a Cache that is always unavailable, for callers that
// want the interface without attempting a connection (e.g. cache_enabled
// == false in config).
func NewNoop(log zerolog.Logger) *Cache {
	return &Cache{available: false, log: log}
}

// Available reports whether the last known connection attempt succeeded.
func (c *Cache) Available() bool {
	return c != nil && c.available
}

// Close releases the underlying Redis connection, if any.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func key(ns Namespace, id string) string {
	return fmt.Sprintf("%s:%s", ns, id)
}

// Get fetches and decodes a cached value for id under namespace ns. A
// cache miss, decode failure, or unavailable cache returns ok == false
// with a nil error — callers always have a path to recompute.
//
// Values are encoded with msgpack rather than JSON: serialization is
// transparent to callers, and the wire protocol stays independent of
// how the cache stores bytes internally.
func (c *Cache) Get(ctx context.Context, ns Namespace, id string, dest any) (ok bool, err error) {
	if !c.Available() {
		return false, nil
	}

	raw, err := c.client.Get(ctx, key(ns, id)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("cache: get failed")
		return false, nil
	}

	if err := msgpack.Unmarshal(raw, dest); err != nil {
		return false, nil
	}
	return true, nil
}

// Set stores value under the namespace's default TTL. A failed or
// unavailable cache is logged but never returned as an error to callers
// on the request path.
func (c *Cache) Set(ctx context.Context, ns Namespace, id string, value any) {
	if !c.Available() {
		return
	}

	raw, err := msgpack.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("cache: marshal failed")
		return
	}

	ttl := defaultTTL[ns]
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	if err := c.client.Set(ctx, key(ns, id), raw, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("cache: set failed")
	}
}

// Invalidate removes a single cached entry.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, id string) {
	if !c.Available() {
		return
	}
	if err := c.client.Del(ctx, key(ns, id)).Err(); err != nil {
		c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("cache: invalidate failed")
	}
}
