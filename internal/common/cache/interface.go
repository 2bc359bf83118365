package cache

import (
	"context"
	"time"
)

// Cache is the subset of redis used by the flyer service: key-value
// caching for event reads and a lease for the scheduled sweep.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases the lock if this instance still owns it.
	Unlock(ctx context.Context, key string) error

	// ExtendLock extends the TTL of a lock owned by this instance.
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}

// CounterOps defines fixed-window counters.
type CounterOps interface {
	// IncrWindow increments key and starts its expiry on the first hit.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
