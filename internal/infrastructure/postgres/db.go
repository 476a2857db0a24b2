package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	DatabaseURL string
	MaxConns    int
	MinConns    int
	// ConnectTimeout bounds the initial ping. Zero means 5s.
	ConnectTimeout time.Duration
}

// NewPoolWithConfig creates a PostgreSQL connection pool and verifies it.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		config.MinConns = int32(cfg.MinConns)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	config.ConnConfig.ConnectTimeout = timeout

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Checker reports database reachability for readiness probes.
type Checker struct {
	db pinger
}

// NewChecker creates a Checker for pool.
func NewChecker(pool *pgxpool.Pool) *Checker {
	return &Checker{db: pool}
}

// Name returns the dependency name.
func (c *Checker) Name() string { return "postgres" }

// Check pings the database.
func (c *Checker) Check(ctx context.Context) error {
	return c.db.Ping(ctx)
}
