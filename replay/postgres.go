package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitwit/paygate/types"
)

const createConsumedTable = `
CREATE TABLE IF NOT EXISTS consumed_payments (
	tx_hash     TEXT PRIMARY KEY,
	consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresGuard shares the consumed set between gateway instances. The
// primary key on tx_hash makes the insert the atomic step.
type PostgresGuard struct {
	pool *pgxpool.Pool
}

var _ Guard = (*PostgresGuard)(nil)

// NewPostgresGuard connects to databaseURL and creates the table if needed.
func NewPostgresGuard(ctx context.Context, databaseURL string) (*PostgresGuard, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect replay database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping replay database: %w", err)
	}
	if _, err := pool.Exec(ctx, createConsumedTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create consumed_payments table: %w", err)
	}
	return &PostgresGuard{pool: pool}, nil
}

func (g *PostgresGuard) IsConsumed(ctx context.Context, ref types.TxRef) (bool, error) {
	var one int
	err := g.pool.QueryRow(ctx, `SELECT 1 FROM consumed_payments WHERE tx_hash = $1`, ref.String()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", ref, err)
	}
	return true, nil
}

func (g *PostgresGuard) TryConsume(ctx context.Context, ref types.TxRef) (bool, error) {
	tag, err := g.pool.Exec(ctx,
		`INSERT INTO consumed_payments (tx_hash) VALUES ($1) ON CONFLICT (tx_hash) DO NOTHING`,
		ref.String(),
	)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (g *PostgresGuard) Count(ctx context.Context) (int, error) {
	var n int
	if err := g.pool.QueryRow(ctx, `SELECT count(*) FROM consumed_payments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count consumed payments: %w", err)
	}
	return n, nil
}

func (g *PostgresGuard) Close() error {
	g.pool.Close()
	return nil
}
