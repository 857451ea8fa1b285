package model

import "time"

// SwapStatus is the state of a swap request.
type SwapStatus string

// Swap request states.
const (
	SwapPending   SwapStatus = "pending"
	SwapAccepted  SwapStatus = "accepted"
	SwapDeclined  SwapStatus = "declined"
	SwapCompleted SwapStatus = "completed"
	SwapCancelled SwapStatus = "cancelled"
)

// swapTransitions is the complete state machine. Anything not listed is
// rejected by CanTransition.
var swapTransitions = map[SwapStatus][]SwapStatus{
	SwapPending:  {SwapAccepted, SwapDeclined, SwapCancelled},
	SwapAccepted: {SwapCompleted, SwapCancelled},
}

// CanTransition reports whether a request in state s may move to next.
func (s SwapStatus) CanTransition(next SwapStatus) bool {
	for _, to := range swapTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state.
func (s SwapStatus) Terminal() bool {
	return len(swapTransitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapPending, SwapAccepted, SwapDeclined, SwapCompleted, SwapCancelled:
		return true
	}
	return false
}

// Reasons a request left the pending or accepted state.
const (
	CloseByOwner     = "owner"
	CloseByRequester = "requester"
	CloseSuperseded  = "superseded"
	CloseExpired     = "expired"
	CloseDeactivated = "deactivated"
)

// SwapRequest is a proposal to exchange an item for another item or for points.
type SwapRequest struct {
	ID              string     `json:"id"`
	RequesterID     string     `json:"requester_id"`
	OwnerID         string     `json:"owner_id"`
	RequestedItemID string     `json:"requested_item_id"`
	OfferedItemID   *string    `json:"offered_item_id,omitempty"`
	IsPointSwap     bool       `json:"is_point_swap"`
	Message         string     `json:"message,omitempty"`
	Status          SwapStatus `json:"status"`
	CloseReason     string     `json:"close_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// IsParty reports whether memberID is the requester or the owner.
func (s *SwapRequest) IsParty(memberID string) bool {
	return memberID == s.RequesterID || memberID == s.OwnerID
}

// MaxMessageLength is the longest message accepted on a swap request, in runes.
const MaxMessageLength = 500
