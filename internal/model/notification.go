package model

import "time"

// Notification is a message to a member about one of their swaps.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	Type        string     `json:"type"`
	RelatedID   string     `json:"related_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Notification types.
const (
	NotifySwapRequested = "swap_requested"
	NotifySwapAccepted  = "swap_accepted"
	NotifySwapDeclined  = "swap_declined"
	NotifySwapCancelled = "swap_cancelled"
	NotifySwapCompleted = "swap_completed"
	NotifySwapExpired   = "swap_expired"
)
