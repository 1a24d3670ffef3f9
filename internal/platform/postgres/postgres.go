// Package postgres opens the two database handles the gateway uses: a pgx pool
// for health checks and pool statistics, and a database/sql handle on lib/pq for
// the activity-log store and migrations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"medgate/internal/platform/config"
)

// DB bundles the pool and the database/sql handle for one database.
type DB struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

// Open connects both handles. Returns nil when no URL is configured.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(int(max(cfg.MaxConns, 1)))
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{Pool: pool, SQL: sqlDB}, nil
}

// Close releases both handles.
func (d *DB) Close() {
	if d == nil {
		return
	}
	d.Pool.Close()
	_ = d.SQL.Close()
}

// PoolStats is the subset of pool statistics reported by /health/metrics.
type PoolStats struct {
	TotalConns        int32 `json:"total_conns"`
	AcquiredConns     int32 `json:"acquired_conns"`
	IdleConns         int32 `json:"idle_conns"`
	MaxConns          int32 `json:"max_conns"`
	AcquireCount      int64 `json:"acquire_count"`
	EmptyAcquireCount int64 `json:"empty_acquire_count"`
}

// Stats snapshots pool statistics.
func (d *DB) Stats() PoolStats {
	s := d.Pool.Stat()
	return PoolStats{
		TotalConns:        s.TotalConns(),
		AcquiredConns:     s.AcquiredConns(),
		IdleConns:         s.IdleConns(),
		MaxConns:          s.MaxConns(),
		AcquireCount:      s.AcquireCount(),
		EmptyAcquireCount: s.EmptyAcquireCount(),
	}
}

// Ping runs a trivial round-trip query through the pool.
func (d *DB) Ping(ctx context.Context) error {
	var one int
	return d.Pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}
