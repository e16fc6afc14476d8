package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"stage2-screener/internal/model"
)

// SQLiteStore persists scans to a local SQLite file for single-host deployments.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id                TEXT PRIMARY KEY,
			started_at        INTEGER NOT NULL,
			finished_at       INTEGER NOT NULL,
			trading_date      TEXT    NOT NULL,
			profile           TEXT    NOT NULL,
			ranking_available INTEGER NOT NULL,
			universe          INTEGER NOT NULL,
			evaluated         INTEGER NOT NULL,
			skipped           INTEGER NOT NULL,
			failed            INTEGER NOT NULL,
			buy_signals       INTEGER NOT NULL,
			alerts_sent       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS screen_results (
			run_id       TEXT NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
			ticker       TEXT NOT NULL,
			name         TEXT NOT NULL,
			price        TEXT NOT NULL,
			status       TEXT NOT NULL,
			rs_score     INTEGER,
			pivot_price  TEXT NOT NULL,
			year_change  TEXT NOT NULL,
			volume_ratio TEXT NOT NULL,
			scan_date    TEXT NOT NULL,
			PRIMARY KEY (run_id, ticker)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_scan_date ON screen_results(scan_date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveScan writes the run and its results in one transaction.
func (s *SQLiteStore) SaveScan(ctx context.Context, run ScanRun, results []model.ScreenResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_runs (id, started_at, finished_at, trading_date, profile, ranking_available,
			universe, evaluated, skipped, failed, buy_signals, alerts_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt.Unix(), run.FinishedAt.Unix(), run.TradingDate.Format(model.DateLayout),
		run.Profile, run.RankingAvailable, run.Universe, run.Evaluated, run.Skipped, run.Failed,
		run.BuySignals, run.AlertsSent,
	)
	if err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}

	for _, r := range results {
		rec := NewResultRecord(run.ID, r)
		var score any
		if rec.RSScore != nil {
			score = *rec.RSScore
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO screen_results (run_id, ticker, name, price, status, rs_score,
				pivot_price, year_change, volume_ratio, scan_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID.String(), rec.Ticker, rec.Name, rec.Price.String(), string(rec.Status), score,
			rec.PivotPrice.String(), rec.YearChangePct.String(), rec.VolumeRatio.String(),
			rec.ScanDate.Format(model.DateLayout),
		)
		if err != nil {
			return fmt.Errorf("insert screen result %s: %w", rec.Ticker, err)
		}
	}
	return tx.Commit()
}

// LatestScan returns the most recent run and its results.
func (s *SQLiteStore) LatestScan(ctx context.Context) (ScanRun, []ResultRecord, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return ScanRun{}, nil, err
	}
	if len(runs) == 0 {
		return ScanRun{}, nil, ErrNoScans
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteResultColumns+` FROM screen_results WHERE run_id = ? ORDER BY ticker`, runs[0].ID.String())
	if err != nil {
		return ScanRun{}, nil, fmt.Errorf("list scan results: %w", err)
	}
	records, err := collectSQLiteResults(rows)
	if err != nil {
		return ScanRun{}, nil, err
	}
	return runs[0], records, nil
}

// ListRuns lists the most recent runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, trading_date, profile, ranking_available,
			universe, evaluated, skipped, failed, buy_signals, alerts_sent
		FROM scan_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		var (
			run             ScanRun
			id, tradingDate string
			started, ended  int64
		)
		if err := rows.Scan(&id, &started, &ended, &tradingDate, &run.Profile, &run.RankingAvailable,
			&run.Universe, &run.Evaluated, &run.Skipped, &run.Failed, &run.BuySignals, &run.AlertsSent); err != nil {
			return nil, err
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		run.FinishedAt = time.Unix(ended, 0).UTC()
		if run.TradingDate, err = time.Parse(model.DateLayout, tradingDate); err != nil {
			return nil, fmt.Errorf("parse trading date: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRecentResults lists results across runs, newest scan date first.
func (s *SQLiteStore) ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteResultColumns+` FROM screen_results ORDER BY scan_date DESC, ticker LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}
	return collectSQLiteResults(rows)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteResultColumns = `run_id, ticker, name, price, status, rs_score, pivot_price, year_change, volume_ratio, scan_date`

func collectSQLiteResults(rows *sql.Rows) ([]ResultRecord, error) {
	defer rows.Close()

	var records []ResultRecord
	for rows.Next() {
		var (
			rec                                 ResultRecord
			runID, status, scanDate             string
			priceStr, pivotStr, yearStr, volStr string
			score                               sql.NullInt64
		)
		if err := rows.Scan(&runID, &rec.Ticker, &rec.Name, &priceStr, &status, &score,
			&pivotStr, &yearStr, &volStr, &scanDate); err != nil {
			return nil, err
		}

		var err error
		if rec.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		if rec.ScanDate, err = time.Parse(model.DateLayout, scanDate); err != nil {
			return nil, fmt.Errorf("parse scan date: %w", err)
		}
		rec.Status = model.Status(status)
		if score.Valid {
			v := int(score.Int64)
			rec.RSScore = &v
		}
		if rec.Price, err = parseDecimal(priceStr, "price"); err != nil {
			return nil, err
		}
		if rec.PivotPrice, err = parseDecimal(pivotStr, "pivot price"); err != nil {
			return nil, err
		}
		if rec.YearChangePct, err = parseDecimal(yearStr, "year change"); err != nil {
			return nil, err
		}
		if rec.VolumeRatio, err = parseDecimal(volStr, "volume ratio"); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

var _ ResultStore = (*SQLiteStore)(nil)
