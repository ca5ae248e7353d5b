package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool открывает пул соединений к PostgreSQL и проверяет доступность.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty url", ErrNoDatabase)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// schema — таблицы оркестратора. Все операторы идемпотентны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS resolved_conflicts (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		severity       TEXT NOT NULL,
		strategy       TEXT,
		success        BOOLEAN NOT NULL DEFAULT FALSE,
		detected_at    TIMESTAMPTZ NOT NULL,
		resolved_at    TIMESTAMPTZ,
		payload        JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS resolved_conflicts_type_idx
		ON resolved_conflicts (type, resolved_at DESC)`,
	`CREATE TABLE IF NOT EXISTS conflict_patterns (
		type      TEXT PRIMARY KEY,
		frequency INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_outcomes (
		type      TEXT NOT NULL,
		strategy  TEXT NOT NULL,
		successes INTEGER NOT NULL DEFAULT 0,
		failures  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (type, strategy)
	)`,
	`CREATE TABLE IF NOT EXISTS dashboard_snapshots (
		id       BIGSERIAL PRIMARY KEY,
		taken_at TIMESTAMPTZ NOT NULL,
		payload  JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS dashboard_snapshots_taken_idx
		ON dashboard_snapshots (taken_at DESC)`,
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
