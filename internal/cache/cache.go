// Package cache provides the key-value store with TTL used to memoize provider results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lorepin/lorepin/internal/config"
)

// Cache is a byte-oriented key-value store with per-entry expiry.
type Cache interface {
	// Get returns the value and true on a hit, false on a miss or an expired entry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases resources held by the cache.
	Close() error
}

// HealthChecker is implemented by caches backed by an external server.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// New creates the cache backend selected by configuration.
func New(cfg *config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisCache(cfg)
	case "memory", "":
		return NewMemoryCache(time.Minute), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

// Key derives a deterministic cache key from a namespace and raw input.
func Key(namespace, input string) string {
	sum := sha256.Sum256([]byte(input))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// GetJSON loads and decodes a cached value. A decode failure is reported as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (*T, bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, false, nil
	}
	return &v, true, nil
}

// SetJSON encodes and stores a value.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}
