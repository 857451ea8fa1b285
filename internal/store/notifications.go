package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/menjalnica/internal/model"
)

// CreateNotification stores a notification for a member.
func CreateNotification(ctx context.Context, q Querier, recipientID, typ, relatedID string) (*model.Notification, error) {
	n := &model.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        typ,
		RelatedID:   relatedID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, type, related_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Type, n.RelatedID, n.CreatedAt,
	)
	if err != nil {
		return nil, dbError("creating notification", err)
	}
	return n, nil
}

// ListNotifications returns a member's notifications, newest first.
func ListNotifications(ctx context.Context, q Querier, recipientID string, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT id, recipient_id, type, related_id, created_at, read_at
	          FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := q.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, dbError("listing notifications", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.RelatedID, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("listing notifications", err)
	}
	return out, nil
}

// MarkNotificationRead marks one of the recipient's notifications as read.
func MarkNotificationRead(ctx context.Context, q Querier, id, recipientID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND recipient_id = ?`,
		time.Now().UTC(), id, recipientID,
	)
	if err != nil {
		return dbError("marking notification read", err)
	}
	n, err := rowsAffected("marking notification read", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, model.ErrNotFound)
	}
	return nil
}
