package apperrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidFilter = errors.New("invalid filter criteria")
)

// PostgreSQL SQLSTATE codes the sync pipeline distinguishes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgDataExceptionClass  = "22"
)

// PersistenceError is returned when a write against a table fails.
// The in-flight savepoint or transaction has already been rolled back.
type PersistenceError struct {
	Table string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsConstraintViolation reports whether the underlying database error is an
// integrity constraint violation (unique, foreign key, not null, check).
func (e *PersistenceError) IsConstraintViolation() bool {
	var pgErr *pgconn.PgError
	if !errors.As(e.Err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgForeignKeyViolation, pgNotNullViolation, pgCheckViolation:
		return true
	}
	return false
}

// IsMalformedData reports whether the database rejected a value (SQLSTATE class 22).
func (e *PersistenceError) IsMalformedData() bool {
	var pgErr *pgconn.PgError
	if !errors.As(e.Err, &pgErr) {
		return false
	}
	return len(pgErr.Code) == 5 && pgErr.Code[:2] == pgDataExceptionClass
}

// NewPersistenceError wraps err for the given table and operation.
// Unique violations additionally match ErrConflict via errors.Is.
func NewPersistenceError(table, op string, err error) *PersistenceError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		err = fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return &PersistenceError{Table: table, Op: op, Err: err}
}

// AsPersistenceError extracts a PersistenceError from err's chain.
func AsPersistenceError(err error) (*PersistenceError, bool) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
