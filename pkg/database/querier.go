package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by the pool and an open transaction.
// Repositories take a Querier so the caller decides whether a write joins a
// unit transaction or autocommits. Begin on a pgx.Tx opens a savepoint.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor hands out transactional and autocommit queriers.
type Transactor interface {
	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(q Querier) error) error
	// Conn returns a querier whose statements autocommit.
	Conn() Querier
}

var (
	_ Querier    = (*pgxpool.Pool)(nil)
	_ Querier    = (pgx.Tx)(nil)
	_ Transactor = (*DB)(nil)
)
