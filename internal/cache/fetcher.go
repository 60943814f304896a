package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/H2Oxford/h2ox-api/internal/metrics"
)

// Fetcher wraps a data-fetch function with cache-aside behavior: serve a
// fresh cached value verbatim, otherwise fetch, repopulate with a bounded
// lifetime, and return the fresh result. Exactly one whole value is
// returned per call; partial or merged results never occur.
//
// Concurrent callers racing on a cold key may each execute the inner fetch.
// No per-key lock is taken; the redundant warehouse work is accepted
// because writes are idempotent for a given key within a TTL window.
type Fetcher[T any] struct {
	store  Store
	op     string
	ttl    time.Duration
	bypass bool
	fetch  func(ctx context.Context, reservoir string) (T, error)
}

// NewFetcher builds a cache-aside wrapper for one named operation. With
// bypass set the cache is never read or written and every call runs the
// inner fetch (forced refresh / debugging).
func NewFetcher[T any](store Store, op string, ttl time.Duration, bypass bool, fetch func(ctx context.Context, reservoir string) (T, error)) *Fetcher[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Fetcher[T]{store: store, op: op, ttl: ttl, bypass: bypass, fetch: fetch}
}

// Fetch returns the value for (operation, reservoir), consulting the cache
// unless bypass is set. Cache read failures degrade to a miss; cache write
// failures are logged and swallowed; a successful fetch never fails the
// request because caching did.
func (f *Fetcher[T]) Fetch(ctx context.Context, reservoir string) (T, error) {
	if f.bypass {
		return f.fetch(ctx, reservoir)
	}

	key := Key(f.op, reservoir)

	cached, err := f.store.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if uerr := json.Unmarshal(cached, &v); uerr == nil {
			metrics.CacheHitsTotal.WithLabelValues(f.op).Inc()
			return v, nil
		}
		// Undecodable entry: treat as a miss and overwrite below.
		slog.Warn("discarding undecodable cache entry", "key", key)
	case errors.Is(err, ErrMiss):
	default:
		metrics.CacheErrorsTotal.WithLabelValues(f.op, "get").Inc()
		slog.Warn("cache read failed, falling through to fetch", "key", key, "error", err)
	}
	metrics.CacheMissesTotal.WithLabelValues(f.op).Inc()

	v, err := f.fetch(ctx, reservoir)
	if err != nil {
		var zero T
		return zero, err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("encoding %s result: %w", f.op, err)
	}
	if err := f.store.Set(ctx, key, payload, f.ttl); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues(f.op, "set").Inc()
		slog.Warn("cache write failed", "key", key, "error", err)
	}

	return v, nil
}
