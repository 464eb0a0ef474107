package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned when a key is not present in the cache.
var ErrCacheMiss = errors.New("cache: miss")

// Cache is a generic interface for a caching layer. The ingest service uses
// it to keep the latest committed reading per device so the query API can
// serve "latest" lookups without hitting the telemetry table.
type Cache[K comparable, V any] interface {
	// Fetch retrieves an item, returning ErrCacheMiss when absent.
	Fetch(ctx context.Context, key K) (V, error)
	// Write adds or replaces an item.
	Write(ctx context.Context, key K, value V) error
	// Close releases any underlying resources.
	Close() error
}
