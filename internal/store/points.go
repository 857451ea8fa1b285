package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/menjalnica/internal/model"
)

// Debit takes amount points from a member inside the caller's transaction.
// It fails with ErrInsufficientFunds, without mutating anything, if the
// balance is lower than amount. swapID may be empty. at is the time recorded
// on the journal entry.
func Debit(ctx context.Context, tx *sql.Tx, memberID string, amount int64, reason, swapID string, at time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: debit amount must not be negative", model.ErrValidation)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE members SET points = points - ? WHERE id = ? AND points >= ?`,
		amount, memberID, amount,
	)
	if err != nil {
		return dbError("debiting points", err)
	}
	n, err := rowsAffected("debiting points", res)
	if err != nil {
		return err
	}
	if n == 0 {
		balance, err := GetBalance(ctx, tx, memberID)
		if err != nil {
			return err
		}
		return fmt.Errorf("debiting %d points from member %s (balance %d): %w",
			amount, memberID, balance, model.ErrInsufficientFunds)
	}

	return journal(ctx, tx, memberID, -amount, reason, swapID, at)
}

// Credit adds amount points to a member inside the caller's transaction.
func Credit(ctx context.Context, tx *sql.Tx, memberID string, amount int64, reason, swapID string, at time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: credit amount must not be negative", model.ErrValidation)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE members SET points = points + ? WHERE id = ?`,
		amount, memberID,
	)
	if err != nil {
		return dbError("crediting points", err)
	}
	n, err := rowsAffected("crediting points", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
	}

	return journal(ctx, tx, memberID, amount, reason, swapID, at)
}

// journal appends an entry recording the balance after a movement.
func journal(ctx context.Context, tx *sql.Tx, memberID string, delta int64, reason, swapID string, at time.Time) error {
	balance, err := GetBalance(ctx, tx, memberID)
	if err != nil {
		return err
	}

	var swap any
	if swapID != "" {
		swap = swapID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO point_entries (member_id, delta, balance_after, reason, swap_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		memberID, delta, balance, reason, swap, at.UTC(),
	)
	if err != nil {
		return dbError("recording point entry", err)
	}
	return nil
}

// GetBalance returns a member's current points balance.
func GetBalance(ctx context.Context, q Querier, memberID string) (int64, error) {
	var points int64
	err := q.QueryRowContext(ctx,
		`SELECT points FROM members WHERE id = ?`, memberID,
	).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
	}
	if err != nil {
		return 0, dbError("getting balance", err)
	}
	return points, nil
}

// ListPointEntries returns a member's points journal, newest first.
func ListPointEntries(ctx context.Context, q Querier, memberID string) ([]model.PointEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, member_id, delta, balance_after, reason, swap_id, created_at
		 FROM point_entries WHERE member_id = ? ORDER BY id DESC`, memberID,
	)
	if err != nil {
		return nil, dbError("listing point entries", err)
	}
	defer rows.Close()

	var entries []model.PointEntry
	for rows.Next() {
		var e model.PointEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.SwapID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning point entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("listing point entries", err)
	}
	return entries, nil
}
