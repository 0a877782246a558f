package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that a key is not present. Callers use it to tell a miss
// apart from a transport failure.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal key-value contract used by read-model lookups.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
