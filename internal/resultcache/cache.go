// Package resultcache holds results produced out of band (by the worker pool)
// until the requesting session picks them up. Entries are read once and
// expire after a TTL.
//
// The memory driver is a single-process substitute for a durable queue: a
// result is lost if the process dies before it is read, and it is never
// visible to other nodes.
package resultcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an unread result is kept.
const DefaultTTL = 300 * time.Second

var (
	// ErrNotFound is returned by Pop when no live entry exists for a key.
	ErrNotFound = errors.New("resultcache: not found")
	// ErrInvalidConfig is returned by New when a driver's requirements are unmet.
	ErrInvalidConfig = errors.New("resultcache: invalid config")
	// ErrInvalidType is returned by New for an unknown driver.
	ErrInvalidType = errors.New("resultcache: invalid cache type")
)

// Cache stores read-once values under string keys.
type Cache interface {
	// Set stores value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte) error
	// Pop atomically returns and removes the entry for key. Expired entries
	// are reported as ErrNotFound.
	Pop(ctx context.Context, key string) ([]byte, error)
	// Close releases the cache's resources.
	Close() error
}

// Type selects a Cache driver.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// Option configures New.
type Option func(*options)

type options struct {
	ttl         time.Duration
	redisClient *redis.Client
	keyPrefix   string
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithRedisClient sets the client the redis driver uses.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redisClient = c }
}

// WithKeyPrefix namespaces redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// New builds a cache of the given type.
func New(t Type, opts ...Option) (Cache, error) {
	o := &options{ttl: DefaultTTL, keyPrefix: "result:"}
	for _, opt := range opts {
		opt(o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}

	switch t {
	case TypeMemory, "":
		return NewMemory(o.ttl), nil
	case TypeRedis:
		if o.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedis(o.redisClient, o.ttl, o.keyPrefix), nil
	default:
		return nil, ErrInvalidType
	}
}
