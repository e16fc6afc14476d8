package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createLedgerTableSQL = `CREATE TABLE IF NOT EXISTS alert_ledger (
        scope            TEXT        NOT NULL,
        ticker           TEXT        NOT NULL,
        first_alerted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (scope, ticker)
    );`

	insertLedgerSQL = `INSERT INTO alert_ledger (scope, ticker) VALUES ($1, $2)
    ON CONFLICT (scope, ticker) DO NOTHING;`

	containsLedgerSQL = `SELECT EXISTS (SELECT 1 FROM alert_ledger WHERE scope = $1 AND ticker = $2);`
	listLedgerSQL     = `SELECT ticker FROM alert_ledger WHERE scope = $1 ORDER BY ticker;`
	resetLedgerSQL    = `DELETE FROM alert_ledger WHERE scope = $1;`
)

// PostgresStore keeps the ledger in the alert_ledger table, one row per scope and ticker.
type PostgresStore struct {
	pool  *pgxpool.Pool
	scope string
}

// NewPostgresStore wraps pool. scope separates ledgers sharing one database.
func NewPostgresStore(pool *pgxpool.Pool, scope string) *PostgresStore {
	if scope == "" {
		scope = "default"
	}
	return &PostgresStore{pool: pool, scope: scope}
}

// EnsureSchema creates the ledger table when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createLedgerTableSQL); err != nil {
		return fmt.Errorf("create alert_ledger: %w", err)
	}
	return nil
}

func (p *PostgresStore) Add(ctx context.Context, ticker string) (bool, error) {
	tag, err := p.pool.Exec(ctx, insertLedgerSQL, p.scope, ticker)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Contains(ctx context.Context, ticker string) (bool, error) {
	var ok bool
	if err := p.pool.QueryRow(ctx, containsLedgerSQL, p.scope, ticker).Scan(&ok); err != nil {
		return false, fmt.Errorf("query ledger entry: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) Members(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, listLedgerSQL, p.scope)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, ticker)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, resetLedgerSQL, p.scope); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
