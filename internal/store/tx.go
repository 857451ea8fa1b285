package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/menjalnica/internal/model"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so read helpers can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a single transaction. The transaction is committed if
// fn returns nil and rolled back otherwise, so either every write in fn is
// visible or none is.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("beginning transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbError("committing transaction", err)
	}
	return nil
}

// dbError classifies a database/sql error. Lock timeouts and constraint
// violations mean another writer got there first and become ErrConflict;
// everything else is ErrStoreUnavailable.
func dbError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w: %w", op, model.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// rowsAffected returns the number of rows changed by an UPDATE or DELETE.
func rowsAffected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(op, err)
	}
	return n, nil
}
