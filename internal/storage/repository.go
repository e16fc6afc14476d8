package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stage2-screener/internal/model"
)

const (
	createSchemaSQL = `
    CREATE TABLE IF NOT EXISTS scan_runs (
        id                UUID        PRIMARY KEY,
        started_at        TIMESTAMPTZ NOT NULL,
        finished_at       TIMESTAMPTZ NOT NULL,
        trading_date      DATE        NOT NULL,
        profile           TEXT        NOT NULL,
        ranking_available BOOLEAN     NOT NULL,
        universe          INTEGER     NOT NULL,
        evaluated         INTEGER     NOT NULL,
        skipped           INTEGER     NOT NULL,
        failed            INTEGER     NOT NULL,
        buy_signals       INTEGER     NOT NULL,
        alerts_sent       INTEGER     NOT NULL
    );
    CREATE TABLE IF NOT EXISTS screen_results (
        run_id       UUID    NOT NULL REFERENCES scan_runs (id) ON DELETE CASCADE,
        ticker       TEXT    NOT NULL,
        name         TEXT    NOT NULL,
        price        NUMERIC NOT NULL,
        status       TEXT    NOT NULL,
        rs_score     INTEGER,
        pivot_price  NUMERIC NOT NULL,
        year_change  NUMERIC NOT NULL,
        volume_ratio NUMERIC NOT NULL,
        scan_date    DATE    NOT NULL,
        PRIMARY KEY (run_id, ticker)
    );
    CREATE INDEX IF NOT EXISTS screen_results_scan_date_idx ON screen_results (scan_date DESC);`

	insertRunSQL = `INSERT INTO scan_runs (
        id, started_at, finished_at, trading_date, profile, ranking_available,
        universe, evaluated, skipped, failed, buy_signals, alerts_sent
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	insertResultSQL = `INSERT INTO screen_results (
        run_id, ticker, name, price, status, rs_score, pivot_price, year_change, volume_ratio, scan_date
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (run_id, ticker) DO UPDATE
    SET name         = EXCLUDED.name,
        price        = EXCLUDED.price,
        status       = EXCLUDED.status,
        rs_score     = EXCLUDED.rs_score,
        pivot_price  = EXCLUDED.pivot_price,
        year_change  = EXCLUDED.year_change,
        volume_ratio = EXCLUDED.volume_ratio;`

	selectRunColumns = `id, started_at, finished_at, trading_date, profile, ranking_available,
        universe, evaluated, skipped, failed, buy_signals, alerts_sent`

	listRunsSQL  = `SELECT ` + selectRunColumns + ` FROM scan_runs ORDER BY started_at DESC LIMIT $1;`
	latestRunSQL = `SELECT ` + selectRunColumns + ` FROM scan_runs ORDER BY started_at DESC LIMIT 1;`

	selectResultColumns = `run_id, ticker, name, price::text, status, rs_score, pivot_price::text,
        year_change::text, volume_ratio::text, scan_date`

	listResultsByRunSQL  = `SELECT ` + selectResultColumns + ` FROM screen_results WHERE run_id = $1 ORDER BY ticker;`
	listRecentResultsSQL = `SELECT ` + selectResultColumns + ` FROM screen_results
    ORDER BY scan_date DESC, ticker
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists scans in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the pool for collaborators sharing the database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the scan tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SaveScan writes the run and its results in one transaction.
func (s *Store) SaveScan(ctx context.Context, run ScanRun, results []model.ScreenResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scan tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.StartedAt, run.FinishedAt, run.TradingDate, run.Profile, run.RankingAvailable,
		run.Universe, run.Evaluated, run.Skipped, run.Failed, run.BuySignals, run.AlertsSent,
	); err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		rec := NewResultRecord(run.ID, r)
		batch.Queue(insertResultSQL,
			rec.RunID, rec.Ticker, rec.Name, rec.Price.String(), string(rec.Status), rec.RSScore,
			rec.PivotPrice.String(), rec.YearChangePct.String(), rec.VolumeRatio.String(), rec.ScanDate,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert screen results: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scan tx: %w", err)
	}
	return nil
}

// LatestScan returns the most recent run and its results.
func (s *Store) LatestScan(ctx context.Context) (ScanRun, []ResultRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ScanRun{}, nil, err
	}

	run, err := scanRun(pool.QueryRow(ctx, latestRunSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return ScanRun{}, nil, ErrNoScans
	}
	if err != nil {
		return ScanRun{}, nil, fmt.Errorf("latest scan run: %w", err)
	}

	rows, err := pool.Query(ctx, listResultsByRunSQL, run.ID)
	if err != nil {
		return ScanRun{}, nil, fmt.Errorf("list scan results: %w", err)
	}
	records, err := collectResults(rows)
	if err != nil {
		return ScanRun{}, nil, err
	}
	return run, records, nil
}

// ListRuns lists the most recent runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	runs := make([]ScanRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ListRecentResults lists results across runs, newest scan date first.
func (s *Store) ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentResultsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}
	return collectResults(rows)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func scanRun(row pgx.Row) (ScanRun, error) {
	var run ScanRun
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.TradingDate,
		&run.Profile,
		&run.RankingAvailable,
		&run.Universe,
		&run.Evaluated,
		&run.Skipped,
		&run.Failed,
		&run.BuySignals,
		&run.AlertsSent,
	)
	return run, err
}

func collectResults(rows pgx.Rows) ([]ResultRecord, error) {
	defer rows.Close()

	records := make([]ResultRecord, 0)
	for rows.Next() {
		var rec ResultRecord
		var status, priceStr, pivotStr, yearStr, volStr string
		if err := rows.Scan(
			&rec.RunID,
			&rec.Ticker,
			&rec.Name,
			&priceStr,
			&status,
			&rec.RSScore,
			&pivotStr,
			&yearStr,
			&volStr,
			&rec.ScanDate,
		); err != nil {
			return nil, err
		}
		rec.Status = model.Status(status)

		var convErr error
		if rec.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		if rec.PivotPrice, convErr = decimal.NewFromString(pivotStr); convErr != nil {
			return nil, fmt.Errorf("parse pivot price: %w", convErr)
		}
		if rec.YearChangePct, convErr = decimal.NewFromString(yearStr); convErr != nil {
			return nil, fmt.Errorf("parse year change: %w", convErr)
		}
		if rec.VolumeRatio, convErr = decimal.NewFromString(volStr); convErr != nil {
			return nil, fmt.Errorf("parse volume ratio: %w", convErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

var (
	_ ResultStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
