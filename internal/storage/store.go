package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"stage2-screener/internal/config"
	"stage2-screener/internal/model"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrNoScans is returned when no scan has been persisted yet.
	ErrNoScans = errors.New("storage: no scans recorded")
)

// ResultStore persists scan runs and their per-ticker results.
type ResultStore interface {
	SaveScan(ctx context.Context, run ScanRun, results []model.ScreenResult) error
	LatestScan(ctx context.Context) (ScanRun, []ResultRecord, error)
	ListRuns(ctx context.Context, limit int) ([]ScanRun, error)
	ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
