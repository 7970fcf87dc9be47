// Package cache opens the Redis connection behind the redis progress tier.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-learn/internal/platform/config"
)

// Cache is a connected client plus the namespace its progress keys live
// under.
type Cache struct {
	Client redis.UniversalClient
	Prefix string
}

// Options builds client options from cfg. Unset timeouts keep the go-redis
// defaults.
func Options(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("LEARN_CACHE_URL is required for the redis tier")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.IOTimeout > 0 {
		opts.ReadTimeout = cfg.IOTimeout
		opts.WriteTimeout = cfg.IOTimeout
	}
	return opts, nil
}

// New connects and pings. The key prefix loses any trailing colon, and
// falls back to "learn" when empty.
func New(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache %s: %w", opts.Addr, err)
	}

	prefix := strings.TrimRight(cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = "learn"
	}
	return &Cache{Client: client, Prefix: prefix}, nil
}

func (c *Cache) Close() error {
	return c.Client.Close()
}

// Ready is the /readyz check for the redis tier.
func (c *Cache) Ready(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}
