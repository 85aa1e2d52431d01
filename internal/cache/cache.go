// Package cache provides the optional read-through cache in front of the
// latest-rates query endpoints.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized query responses under a TTL. Implementations are
// safe for concurrent use.
type Cache interface {
	// Get returns the cached payload and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Config tunes the query cache.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultConfig disables the cache; latest-rates queries hit the database
// directly.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    "localhost:6379",
		TTL:     5 * time.Second,
	}
}
