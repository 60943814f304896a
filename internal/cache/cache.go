package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// DefaultTTL is the bounded lifetime for cached query results.
const DefaultTTL = 48 * time.Hour

// Store is a key-value cache safe for concurrent use. No transactional
// guarantees are required; writes are last-writer-wins.
type Store interface {
	// Get returns the cached bytes for key, or ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores val under key with the given time-to-live.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Key builds the cache key for an operation and reservoir. The
// "{operation}.{reservoir}" format is an operational contract: cache-busting
// tooling constructs keys by this pattern. Parameterless operations use an
// empty reservoir suffix.
func Key(operation, reservoir string) string {
	return operation + "." + reservoir
}
