package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MediaURL is the opaque reference items store for an uploaded image.
func MediaURL(id string) string {
	return "/api/media/" + id
}

// CreateMedia stores image bytes uploaded by a member and returns its ID.
func CreateMedia(ctx context.Context, q Querier, ownerID string, data []byte, mime string) (string, error) {
	id := uuid.NewString()
	_, err := q.ExecContext(ctx,
		`INSERT INTO media (id, owner_id, data, mime, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, data, mime, time.Now().UTC(),
	)
	if err != nil {
		return "", dbError("storing media", err)
	}
	return id, nil
}

// GetMedia returns stored image data and its MIME type. data is nil if there
// is no such media.
func GetMedia(ctx context.Context, q Querier, id string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := q.QueryRowContext(ctx,
		`SELECT data, mime FROM media WHERE id = ?`, id,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", dbError("getting media", err)
	}
	return data, mime, nil
}
