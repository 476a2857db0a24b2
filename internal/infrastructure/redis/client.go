// Package redis connects the shared Redis instance that backs inbound
// message dedup when several replicas run behind one address.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// NewClient parses redisURL, names the connection and verifies it with a
// bounded PING.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = "transactai"
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Checker adapts a client to the readiness probe.
type Checker struct {
	client *redis.Client
}

// NewChecker creates a Checker.
func NewChecker(client *redis.Client) *Checker {
	return &Checker{client: client}
}

// Name implements the readiness check.
func (c *Checker) Name() string { return "redis" }

// Check pings Redis.
func (c *Checker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
