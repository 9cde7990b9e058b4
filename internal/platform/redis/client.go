// Package redis connects the optional Redis backing webhook replay
// protection.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"patron/internal/platform/config"
)

// Client is the shared connection. It embeds UniversalClient so stores can
// take the interface and tests can hand them a plain *redis.Client.
type Client struct {
	redis.UniversalClient
}

// New dials cfg.URL and pings once. An empty URL means Redis is disabled and
// yields a nil client.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	c := &Client{UniversalClient: redis.NewClient(opts)}
	if err := c.Health(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
