// Package kvstore is a small string key-value abstraction with expiry and
// glob key listing, backed by Redis in production and memory in development.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("kv_empty_key")

// Store is the key-value surface used by the schedule registry.
type Store interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes value; ttl <= 0 keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Keys lists keys matching a glob pattern such as "schedule:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
}
