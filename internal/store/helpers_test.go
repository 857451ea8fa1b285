package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/menjalnica/internal/model"
)

func createTestMember(t *testing.T, db *sql.DB, name string, points int64) *model.Member {
	t.Helper()
	m, err := CreateMember(context.Background(), db, MemberAttrs{
		Email:        name + "@example.com",
		DisplayName:  name,
		PasswordHash: "hash",
	}, points)
	if err != nil {
		t.Fatalf("CreateMember(%s): %v", name, err)
	}
	return m
}

func createTestItem(t *testing.T, db *sql.DB, ownerID, title string, points int64) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), db, ownerID, ItemAttrs{
		Title:       title,
		Category:    model.CategoryUnisex,
		Condition:   model.ConditionGood,
		PointsValue: points,
	})
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", title, err)
	}
	return item
}

func insertTestSwap(t *testing.T, db *sql.DB, requesterID, ownerID, itemID string, offered *string) *model.SwapRequest {
	t.Helper()
	now := time.Now().UTC()
	sr := &model.SwapRequest{
		ID:              uuid.NewString(),
		RequesterID:     requesterID,
		OwnerID:         ownerID,
		RequestedItemID: itemID,
		OfferedItemID:   offered,
		IsPointSwap:     offered == nil,
		Status:          model.SwapPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := WithTx(context.Background(), db, func(tx *sql.Tx) error {
		return InsertSwap(context.Background(), tx, sr)
	})
	if err != nil {
		t.Fatalf("InsertSwap: %v", err)
	}
	return sr
}
