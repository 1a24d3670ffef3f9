// Package redis opens the shared Redis connection used by the rate-limit
// counter store and the cache health check.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"medgate/internal/platform/config"
)

// Client is the go-redis client; the wrapper keeps callers off the driver's
// constructor so connection settings stay in one place.
type Client struct {
	*redis.Client
}

// New connects and pings. Returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Addr, err)
	}
	return &Client{Client: client}, nil
}

// options overlays the configured pool and timeouts on the URL settings.
// Zero values keep the driver defaults.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&opts.PoolSize, cfg.PoolSize)
	set(&opts.MinIdleConns, cfg.MinIdleConns)
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}
