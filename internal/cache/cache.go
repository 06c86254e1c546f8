// Package cache holds the short lived mirror of default provider records and
// the fixed window rate counter adapters share between explorer instances.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache is a string keyed TTL cache. Implementations must also satisfy
// fetch.SharedLimiter so one backend serves both concerns.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Allow counts one hit against key in the current window and reports
	// whether the count is still within limit. The increment is atomic.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	Close() error
}
