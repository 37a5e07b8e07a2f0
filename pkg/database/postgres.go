package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/medsearch/pkg/config"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// NewConnection opens a pool sized by cfg and pings it, so a run fails
// before any upstream traffic when PostgreSQL is unreachable.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Database, err)
	}

	return &DB{Pool: pool}, nil
}

func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("max connections must be positive, got %d", cfg.MaxConnections)
	}

	pc, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MaxConns = cfg.MaxConnections
	// Zero durations keep pgxpool's own defaults.
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	return pc, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
