// Package storage is the authoritative persistence tier: PostgreSQL via
// pgx, holding Users, Sessions, AuthAttempts, Webhooks, EventRecords,
// DeliveryAttempts, and the Role/Permission tables.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgres creates a connection pool to PostgreSQL and verifies it
// with a ping before returning, matching the teacher's fail-fast startup.
func NewPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
