package model

import "time"

// PointEntry is one movement in a member's points journal.
type PointEntry struct {
	ID           int64     `json:"id"`
	MemberID     string    `json:"member_id"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	SwapID       *string   `json:"swap_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Journal reasons.
const (
	PointsWelcome    = "welcome"
	PointsSwapDebit  = "swap_debit"
	PointsSwapCredit = "swap_credit"
	PointsAdjustment = "adjustment"
)
