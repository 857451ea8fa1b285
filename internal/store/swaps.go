package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/menjalnica/internal/model"
)

const swapColumns = `id, requester_id, owner_id, requested_item_id, offered_item_id, is_point_swap, message,
	status, close_reason, created_at, updated_at, accepted_at, closed_at`

func scanSwap(s scanner) (*model.SwapRequest, error) {
	sr := &model.SwapRequest{}
	err := s.Scan(&sr.ID, &sr.RequesterID, &sr.OwnerID, &sr.RequestedItemID, &sr.OfferedItemID,
		&sr.IsPointSwap, &sr.Message, &sr.Status, &sr.CloseReason,
		&sr.CreatedAt, &sr.UpdatedAt, &sr.AcceptedAt, &sr.ClosedAt)
	return sr, err
}

// InsertSwap stores a new swap request exactly as given.
func InsertSwap(ctx context.Context, tx *sql.Tx, sr *model.SwapRequest) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO swap_requests (id, requester_id, owner_id, requested_item_id, offered_item_id,
		                            is_point_swap, message, status, close_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RequesterID, sr.OwnerID, sr.RequestedItemID, nullString(sr.OfferedItemID),
		sr.IsPointSwap, sr.Message, string(sr.Status), sr.CloseReason, sr.CreatedAt, sr.UpdatedAt,
	)
	if err != nil {
		return dbError("creating swap request", err)
	}
	return nil
}

// GetSwap returns a swap request by ID, or nil if there is none.
func GetSwap(ctx context.Context, q Querier, id string) (*model.SwapRequest, error) {
	sr, err := scanSwap(q.QueryRowContext(ctx,
		`SELECT `+swapColumns+` FROM swap_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("getting swap request", err)
	}
	return sr, nil
}

// SetSwapStatus moves a swap request from one state to another. The move must
// be allowed by the state machine, and the row must still be in state from;
// otherwise ErrConflict is returned and nothing changes.
func SetSwapStatus(ctx context.Context, tx *sql.Tx, id string, from, to model.SwapStatus, reason string, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: swap request cannot move from %s to %s", model.ErrForbidden, from, to)
	}

	query := `UPDATE swap_requests SET status = ?, close_reason = ?, updated_at = ?`
	args := []any{string(to), reason, at}
	switch {
	case to == model.SwapAccepted:
		query += `, accepted_at = ?`
		args = append(args, at)
	case to.Terminal():
		query += `, closed_at = ?`
		args = append(args, at)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return dbError("updating swap request status", err)
	}
	n, err := rowsAffected("updating swap request status", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("swap request %s is no longer %s: %w", id, from, model.ErrConflict)
	}
	return nil
}

// Superseded identifies a request that was auto-declined.
type Superseded struct {
	ID          string
	RequesterID string
}

// SupersedePending declines every pending request other than keepID whose
// requested or offered item is one of itemIDs. Those requests can no longer be
// fulfilled once the items are reserved.
func SupersedePending(ctx context.Context, tx *sql.Tx, keepID string, itemIDs []string, at time.Time) ([]Superseded, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	placeholders := "?"
	for range itemIDs[1:] {
		placeholders += ", ?"
	}

	args := []any{string(model.SwapDeclined), model.CloseSuperseded, at, at, string(model.SwapPending), keepID}
	for _, id := range itemIDs {
		args = append(args, id)
	}
	for _, id := range itemIDs {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx,
		`UPDATE swap_requests SET status = ?, close_reason = ?, updated_at = ?, closed_at = ?
		 WHERE status = ? AND id != ?
		   AND (requested_item_id IN (`+placeholders+`) OR offered_item_id IN (`+placeholders+`))
		 RETURNING id, requester_id`,
		args...,
	)
	if err != nil {
		return nil, dbError("declining competing requests", err)
	}
	defer rows.Close()

	var out []Superseded
	for rows.Next() {
		var s Superseded
		if err := rows.Scan(&s.ID, &s.RequesterID); err != nil {
			return nil, dbError("scanning declined request", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("declining competing requests", err)
	}
	return out, nil
}

// HasOpenSwap reports whether requesterID already has a pending or accepted
// request for itemID.
func HasOpenSwap(ctx context.Context, q Querier, requesterID, itemID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swap_requests
		 WHERE requester_id = ? AND requested_item_id = ? AND status IN (?, ?)`,
		requesterID, itemID, string(model.SwapPending), string(model.SwapAccepted),
	).Scan(&count)
	if err != nil {
		return false, dbError("checking open requests", err)
	}
	return count > 0, nil
}

// ItemReferenced reports whether any swap request, in any state, names itemID.
func ItemReferenced(ctx context.Context, q Querier, itemID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swap_requests WHERE requested_item_id = ? OR offered_item_id = ?`,
		itemID, itemID,
	).Scan(&count)
	if err != nil {
		return false, dbError("checking item references", err)
	}
	return count > 0, nil
}

// SwapDirection selects which side of a request a member is on.
type SwapDirection string

// Directions for ListSwaps.
const (
	SwapsAll      SwapDirection = "all"
	SwapsIncoming SwapDirection = "incoming"
	SwapsOutgoing SwapDirection = "outgoing"
)

// ListSwaps returns the swap requests a member is party to, newest first,
// optionally filtered by direction and status.
func ListSwaps(ctx context.Context, q Querier, memberID string, dir SwapDirection, status model.SwapStatus) ([]model.SwapRequest, error) {
	query := `SELECT ` + swapColumns + ` FROM swap_requests WHERE `
	var args []any

	switch dir {
	case SwapsIncoming:
		query += `owner_id = ?`
		args = append(args, memberID)
	case SwapsOutgoing:
		query += `requester_id = ?`
		args = append(args, memberID)
	default:
		query += `(owner_id = ? OR requester_id = ?)`
		args = append(args, memberID, memberID)
	}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("listing swap requests", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// ListStaleSwaps returns requests in state status whose last change is older
// than before.
func ListStaleSwaps(ctx context.Context, q Querier, status model.SwapStatus, before time.Time) ([]model.SwapRequest, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+swapColumns+` FROM swap_requests
		 WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		string(status), before,
	)
	if err != nil {
		return nil, dbError("listing stale swap requests", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func scanSwaps(rows *sql.Rows) ([]model.SwapRequest, error) {
	var swaps []model.SwapRequest
	for rows.Next() {
		sr, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning swap request: %w", err)
		}
		swaps = append(swaps, *sr)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("reading swap requests", err)
	}
	return swaps, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
