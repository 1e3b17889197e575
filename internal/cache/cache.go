// Package cache provides a small TTL key/value abstraction with two
// backends: in-process memory (dev, single instance) and Redis
// (multi-instance deployments).
//
// The broker keeps no session state here; sessions live in client-held
// cookies. The cache holds only short-lived operational state such as
// rate limiting counters.
package cache

import (
	"context"
	"time"
)

// Client defines the cache operations the broker needs.
type Client interface {
	// Get returns a value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with a TTL. ttl == 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments a counter, creating it with the given
	// TTL when absent. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind     string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
	// DefaultTTL is the memory backend's cleanup granularity hint.
	DefaultTTL time.Duration
}

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "cache: key not found" }

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New creates a cache client for the configured backend.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	}
}
