package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithTx begins a transaction, runs fn and commits. Any error from fn, or a
// panic, rolls the transaction back. The transaction is always closed before
// WithTx returns.
func (db *DB) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn returns the pool itself; each statement runs in its own implicit
// transaction.
func (db *DB) Conn() Querier {
	return db.Pool
}
