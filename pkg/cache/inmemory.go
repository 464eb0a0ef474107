package cache

import (
	"context"
	"sync"
)

// InMemoryCache is a generic, thread-safe, in-memory cache. It backs the
// latest-reading lookup in single-node deployments and in tests.
type InMemoryCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

var _ Cache[string, any] = (*InMemoryCache[string, any])(nil)

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache[K comparable, V any]() *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		data: make(map[K]V),
	}
}

// Fetch retrieves an item, returning ErrCacheMiss when absent.
func (c *InMemoryCache[K, V]) Fetch(_ context.Context, key K) (V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.data[key]
	if !ok {
		var zero V
		return zero, ErrCacheMiss
	}
	return value, nil
}

// Write adds or replaces an item.
func (c *InMemoryCache[K, V]) Write(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// Close is a no-op for the in-memory implementation.
func (c *InMemoryCache[K, V]) Close() error { return nil }
