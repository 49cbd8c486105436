// Package cache provides the Redis client used for cross-replica lesson locks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-lessons/internal/platform/lock"
)

// Cache wraps a Redis client.
type Cache struct {
	Client  *redis.Client
	lockTTL time.Duration
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to Redis and verifies the connection. lockTTL bounds how long
// a crashed engine can hold a lesson lock.
func New(ctx context.Context, url string, lockTTL time.Duration) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client, lockTTL: lockTTL}, nil
}

// Locker returns a distributed per-key locker on this connection.
func (c *Cache) Locker() lock.Locker {
	return lock.NewRedis(c.Client, c.lockTTL)
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
