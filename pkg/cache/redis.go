package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces this service's keys, e.g. "latest:".
	KeyPrefix string
	// TTL bounds how long a cached value survives without a newer write.
	TTL time.Duration
}

// RedisCache is a generic cache implementation backed by Redis, used when the
// service runs with multiple replicas sharing the latest-reading state.
type RedisCache[K comparable, V any] struct {
	client *redis.Client
	cfg    *RedisConfig
	logger zerolog.Logger
}

// NewRedisCache creates and connects a RedisCache. It pings the server to
// ensure connectivity before returning.
func NewRedisCache[K comparable, V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		client: rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "RedisCache").Logger(),
	}, nil
}

// Fetch retrieves an item, returning ErrCacheMiss when absent.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	data, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrCacheMiss
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return value, nil
}

// Write stores an item with the configured TTL.
func (c *RedisCache[K, V]) Write(ctx context.Context, key K, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data for caching: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.cfg.TTL).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", c.key(key)).Msg("Failed to set data in Redis cache.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	c.logger.Info().Msg("Closing Redis client connection...")
	return c.client.Close()
}

func (c *RedisCache[K, V]) key(key K) string {
	return fmt.Sprintf("%s%v", c.cfg.KeyPrefix, key)
}
