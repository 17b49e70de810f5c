package store

import (
	"context"
	"database/sql"

	"github.com/safar/go-storefront/internal/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgRepo struct {
	q querier
}

type Postgres struct {
	*pgRepo
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{pgRepo: &pgRepo{q: db}, db: db}
}

// pgTxOptions starts from the database defaults. Retries are opt-in per
// call: a zero MaxRetries runs the unit of work exactly once.
func pgTxOptions(opts TxOptions) database.TxOptions {
	txOpts := database.DefaultTxOptions()
	txOpts.ReadOnly = opts.ReadOnly
	txOpts.MaxRetries = opts.MaxRetries
	return txOpts
}

func (p *Postgres) InTx(ctx context.Context, opts TxOptions, fn func(repo Repository) error) error {
	txOpts := pgTxOptions(opts)

	run := func(tx *sql.Tx) error {
		return fn(&pgRepo{q: tx})
	}

	if opts.MaxRetries > 0 {
		return database.WithRetry(ctx, p.db, txOpts, run)
	}
	return database.WithTransaction(ctx, p.db, txOpts, run)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
