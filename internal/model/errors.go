package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the swap engine and the API.
// Callers test with errors.Is; detail is attached with fmt.Errorf("%w: ...").
var (
	// ErrValidation is malformed input. Nothing was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is an authorization or state mismatch.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means the caller lost a race for a resource. Retry after
	// re-reading current state.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds means a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient points")

	// ErrStoreUnavailable is an infrastructure failure; the transaction was
	// rolled back.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Validation subtypes, surfaced distinctly for user messaging.
var (
	ErrSelfSwap         = fmt.Errorf("%w: cannot request your own item", ErrValidation)
	ErrDuplicateRequest = fmt.Errorf("%w: a request for this item is already open", ErrValidation)
	ErrInvalidOffer     = fmt.Errorf("%w: offered item is not available", ErrValidation)
)

// ErrItemUnavailable is returned when the requested item is no longer
// available. It is a Conflict.
var ErrItemUnavailable = fmt.Errorf("%w: item is no longer available", ErrConflict)
