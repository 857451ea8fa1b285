package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/erazemk/menjalnica/internal/model"
)

// ItemAttrs are the owner-editable fields of an item.
type ItemAttrs struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Category    string   `json:"category" yaml:"category"`
	Size        string   `json:"size" yaml:"size"`
	Condition   string   `json:"condition" yaml:"condition"`
	Tags        []string `json:"tags" yaml:"tags"`
	Images      []string `json:"images" yaml:"images"`
	PointsValue int64    `json:"points_value" yaml:"points_value"`
}

// Limits on item fields.
const (
	MaxTitleLength = 120
	MaxTags        = 10
	MaxImages      = 8
)

// normalize cleans up free-text fields and validates the rest.
func (a *ItemAttrs) normalize() error {
	a.Title = strings.TrimSpace(norm.NFC.String(a.Title))
	a.Description = strings.TrimSpace(norm.NFC.String(a.Description))
	a.Size = strings.TrimSpace(a.Size)

	if a.Title == "" {
		return fmt.Errorf("%w: title required", model.ErrValidation)
	}
	if utf8.RuneCountInString(a.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", model.ErrValidation, MaxTitleLength)
	}
	if !model.ValidCategory(a.Category) {
		return fmt.Errorf("%w: invalid category %q", model.ErrValidation, a.Category)
	}
	if !model.ValidCondition(a.Condition) {
		return fmt.Errorf("%w: invalid condition %q", model.ErrValidation, a.Condition)
	}
	if a.PointsValue <= 0 {
		return fmt.Errorf("%w: points_value must be positive", model.ErrValidation)
	}

	seen := make(map[string]bool)
	tags := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		t = strings.ToLower(strings.TrimSpace(norm.NFC.String(t)))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("%w: at most %d tags", model.ErrValidation, MaxTags)
	}
	a.Tags = tags

	if a.Images == nil {
		a.Images = []string{}
	}
	if len(a.Images) > MaxImages {
		return fmt.Errorf("%w: at most %d images", model.ErrValidation, MaxImages)
	}
	return nil
}

const itemColumns = `id, owner_id, title, description, category, size, condition, tags, images,
	points_value, status, created_at, updated_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*model.Item, error) {
	item := &model.Item{}
	var tags, images string
	if err := s.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.Category,
		&item.Size, &item.Condition, &tags, &images, &item.PointsValue, &item.Status,
		&item.CreatedAt, &item.UpdatedAt, &item.DeletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of item %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(images), &item.Images); err != nil {
		return nil, fmt.Errorf("decoding images of item %s: %w", item.ID, err)
	}
	return item, nil
}

// CreateItem lists a new item for ownerID. New items start available.
func CreateItem(ctx context.Context, q Querier, ownerID string, attrs ItemAttrs) (*model.Item, error) {
	if err := attrs.normalize(); err != nil {
		return nil, err
	}

	tags, _ := json.Marshal(attrs.Tags)
	images, _ := json.Marshal(attrs.Images)
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO items (id, owner_id, title, description, category, size, condition, tags, images,
		                    points_value, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ownerID, attrs.Title, attrs.Description, attrs.Category, attrs.Size, attrs.Condition,
		string(tags), string(images), attrs.PointsValue, string(model.ItemAvailable), now, now,
	)
	if err != nil {
		return nil, dbError("creating item", err)
	}

	return GetItem(ctx, q, id)
}

// GetItem returns an item by ID, including withdrawn items. It returns nil if
// the item does not exist.
func GetItem(ctx context.Context, q Querier, id string) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("getting item", err)
	}
	return item, nil
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	Status   model.ItemStatus
	Category string
	OwnerID  string
	Query    string
	Limit    int
}

// ListItems returns non-withdrawn items of active members, newest first.
func ListItems(ctx context.Context, q Querier, f ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE deleted_at IS NULL
		AND owner_id IN (SELECT id FROM members WHERE deactivated_at IS NULL)`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + strings.ToLower(norm.NFC.String(s)) + "%"
		query += ` AND (lower(title) LIKE ? OR lower(description) LIKE ? OR tags LIKE ?)`
		args = append(args, like, like, like)
	}

	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("listing items", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("listing items", err)
	}
	return items, nil
}

// UpdateItem replaces an item's descriptive fields. Only the owner may edit,
// and only while the item is available.
func UpdateItem(ctx context.Context, db *sql.DB, id, ownerID string, attrs ItemAttrs) (*model.Item, error) {
	if err := attrs.normalize(); err != nil {
		return nil, err
	}

	tags, _ := json.Marshal(attrs.Tags)
	images, _ := json.Marshal(attrs.Images)

	var item *model.Item
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := checkEditable(ctx, tx, id, ownerID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE items SET title = ?, description = ?, category = ?, size = ?, condition = ?,
			                  tags = ?, images = ?, points_value = ?, updated_at = ?
			 WHERE id = ?`,
			attrs.Title, attrs.Description, attrs.Category, attrs.Size, attrs.Condition,
			string(tags), string(images), attrs.PointsValue, time.Now().UTC(), id,
		)
		if err != nil {
			return dbError("updating item", err)
		}

		item, err = GetItem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// WithdrawItem soft-deletes an item. Items that were ever part of a swap
// request are kept as history and cannot be withdrawn.
func WithdrawItem(ctx context.Context, db *sql.DB, id, ownerID string) error {
	return WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := checkEditable(ctx, tx, id, ownerID); err != nil {
			return err
		}

		referenced, err := ItemReferenced(ctx, tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: item has swap history", model.ErrForbidden)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE items SET deleted_at = ?, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), time.Now().UTC(), id,
		)
		if err != nil {
			return dbError("withdrawing item", err)
		}
		return nil
	})
}

func checkEditable(ctx context.Context, tx *sql.Tx, id, ownerID string) error {
	item, err := GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if item == nil || item.DeletedAt != nil {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	if item.OwnerID != ownerID {
		return fmt.Errorf("%w: not the owner of this item", model.ErrForbidden)
	}
	if item.Status != model.ItemAvailable {
		return fmt.Errorf("%w: item is %s", model.ErrConflict, item.Status)
	}
	return nil
}

// ReserveItem moves an item from available to reserved. It fails with
// ErrConflict if the item is not available or is no longer owned by
// expectedOwnerID. The check and the write are one conditional UPDATE.
func ReserveItem(ctx context.Context, tx *sql.Tx, id, expectedOwnerID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND status = ? AND deleted_at IS NULL`,
		string(model.ItemReserved), at.UTC(), id, expectedOwnerID, string(model.ItemAvailable),
	)
	if err != nil {
		return dbError("reserving item", err)
	}
	n, err := rowsAffected("reserving item", res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	item, err := GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	return fmt.Errorf("reserving item %s (status %s): %w", id, item.Status, model.ErrItemUnavailable)
}

// ReleaseItem moves a reserved item back to available. Releasing an item that
// is already available is a no-op; a swapped item cannot be released.
func ReleaseItem(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ItemAvailable), at.UTC(), id, string(model.ItemReserved),
	)
	if err != nil {
		return dbError("releasing item", err)
	}
	n, err := rowsAffected("releasing item", res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	item, err := GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	if item.Status != model.ItemAvailable {
		return fmt.Errorf("releasing item %s (status %s): %w", id, item.Status, model.ErrConflict)
	}
	return nil
}

// FinalizeItem moves a reserved item to swapped and hands it to newOwnerID.
// It is idempotent: an item already swapped to newOwnerID is left alone.
// at is recorded as the item's updated_at.
func FinalizeItem(ctx context.Context, tx *sql.Tx, id, newOwnerID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, owner_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ItemSwapped), newOwnerID, at.UTC(), id, string(model.ItemReserved),
	)
	if err != nil {
		return dbError("finalizing item", err)
	}
	n, err := rowsAffected("finalizing item", res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	item, err := GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	if item.Status == model.ItemSwapped && item.OwnerID == newOwnerID {
		return nil
	}
	return fmt.Errorf("finalizing item %s (status %s): %w", id, item.Status, model.ErrConflict)
}
