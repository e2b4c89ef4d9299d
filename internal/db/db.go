package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
)

// Open connects a pool to the configured database and verifies it is reachable.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, DSN(cfg))
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Database, err)
	}
	return pool, nil
}

// WithDatabase returns cfg pointed at another database on the same server.
func WithDatabase(cfg config.PostgresConfig, database string) config.PostgresConfig {
	if database != "" {
		cfg.Database = database
	}
	return cfg
}
