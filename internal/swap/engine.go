// Package swap implements the swap negotiation engine: the request state
// machine and the transactions that move items and points between members.
package swap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/notify"
	"github.com/erazemk/menjalnica/internal/store"
)

// Engine runs swap request transitions against the store. Each transition is
// a single transaction; notifications go out after it commits.
type Engine struct {
	DB   *sql.DB
	Sink notify.Sink

	// Now is the clock used for timestamps and expiry. Defaults to time.Now.
	Now func() time.Time
}

// New creates an engine. A nil sink drops notifications.
func New(db *sql.DB, sink notify.Sink) *Engine {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Engine{DB: db, Sink: sink, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// CreateParams describes a new swap request. OwnerID is optional; when set it
// must match the requested item's owner.
type CreateParams struct {
	RequesterID     string `json:"-"`
	OwnerID         string `json:"owner_id,omitempty"`
	RequestedItemID string `json:"requested_item_id"`
	OfferedItemID   string `json:"offered_item_id,omitempty"`
	IsPointSwap     bool   `json:"is_point_swap"`
	Message         string `json:"message,omitempty"`
}

// Create opens a pending swap request. No item changes status.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.SwapRequest, error) {
	var sr *model.SwapRequest
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		item, err := store.GetItem(ctx, tx, p.RequestedItemID)
		if err != nil {
			return err
		}
		if item == nil || item.DeletedAt != nil {
			return fmt.Errorf("item %s: %w", p.RequestedItemID, model.ErrNotFound)
		}
		if item.OwnerID == p.RequesterID {
			return model.ErrSelfSwap
		}
		if p.OwnerID != "" && p.OwnerID != item.OwnerID {
			return fmt.Errorf("%w: owner does not match the requested item", model.ErrValidation)
		}
		if item.Status != model.ItemAvailable {
			return model.ErrItemUnavailable
		}
		owner, err := store.GetMember(ctx, tx, item.OwnerID)
		if err != nil {
			return err
		}
		if owner == nil || !owner.Active() {
			return fmt.Errorf("%w: owner account is not active", model.ErrForbidden)
		}

		if p.IsPointSwap == (p.OfferedItemID != "") {
			return fmt.Errorf("%w: offer either an item or points, not both or neither", model.ErrValidation)
		}
		if utf8.RuneCountInString(p.Message) > model.MaxMessageLength {
			return fmt.Errorf("%w: message longer than %d characters", model.ErrValidation, model.MaxMessageLength)
		}

		var offered *string
		if p.OfferedItemID != "" {
			if err := checkOffer(ctx, tx, p.OfferedItemID, p.RequesterID, item.ID); err != nil {
				return err
			}
			offered = &p.OfferedItemID
		}

		open, err := store.HasOpenSwap(ctx, tx, p.RequesterID, item.ID)
		if err != nil {
			return err
		}
		if open {
			return model.ErrDuplicateRequest
		}

		requester, err := store.GetMember(ctx, tx, p.RequesterID)
		if err != nil {
			return err
		}
		if requester == nil || !requester.Active() {
			return fmt.Errorf("%w: requester account is not active", model.ErrForbidden)
		}

		now := e.now()
		sr = &model.SwapRequest{
			ID:              uuid.NewString(),
			RequesterID:     p.RequesterID,
			OwnerID:         item.OwnerID,
			RequestedItemID: item.ID,
			OfferedItemID:   offered,
			IsPointSwap:     p.IsPointSwap,
			Message:         p.Message,
			Status:          model.SwapPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return store.InsertSwap(ctx, tx, sr)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "swap requested", "swap", sr.ID, "member", sr.RequesterID, "item", sr.RequestedItemID)
	notify.Deliver(ctx, e.Sink, notify.Event{
		RecipientID: sr.OwnerID,
		Type:        model.NotifySwapRequested,
		RelatedID:   sr.ID,
	})
	return sr, nil
}

func checkOffer(ctx context.Context, tx *sql.Tx, offeredID, requesterID, requestedID string) error {
	if offeredID == requestedID {
		return fmt.Errorf("%w: offered item is the requested item", model.ErrInvalidOffer)
	}
	offered, err := store.GetItem(ctx, tx, offeredID)
	if err != nil {
		return err
	}
	switch {
	case offered == nil || offered.DeletedAt != nil:
		return fmt.Errorf("%w: item %s does not exist", model.ErrInvalidOffer, offeredID)
	case offered.OwnerID != requesterID:
		return fmt.Errorf("%w: item %s is not yours", model.ErrInvalidOffer, offeredID)
	case offered.Status != model.ItemAvailable:
		return fmt.Errorf("%w: item %s is %s", model.ErrInvalidOffer, offeredID, offered.Status)
	}
	return nil
}

// Accept moves a pending request to accepted and reserves the items involved.
// Every other pending request for those items is declined as superseded.
func (e *Engine) Accept(ctx context.Context, swapID, actingOwnerID string) (*model.SwapRequest, error) {
	var sr *model.SwapRequest
	var superseded []store.Superseded
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		sr, err = loadSwap(ctx, tx, swapID)
		if err != nil {
			return err
		}
		if sr.OwnerID != actingOwnerID {
			return fmt.Errorf("%w: only the item owner can accept", model.ErrForbidden)
		}
		if sr.Status != model.SwapPending {
			if sr.Status == model.SwapDeclined && sr.CloseReason == model.CloseSuperseded {
				return fmt.Errorf("swap request %s: %w", sr.ID, model.ErrItemUnavailable)
			}
			return fmt.Errorf("%w: request is %s", model.ErrForbidden, sr.Status)
		}

		now := e.now()
		items := []string{sr.RequestedItemID}
		if err := store.ReserveItem(ctx, tx, sr.RequestedItemID, sr.OwnerID, now); err != nil {
			return err
		}
		if sr.OfferedItemID != nil {
			if err := store.ReserveItem(ctx, tx, *sr.OfferedItemID, sr.RequesterID, now); err != nil {
				return err
			}
			items = append(items, *sr.OfferedItemID)
		}

		if err := store.SetSwapStatus(ctx, tx, sr.ID, model.SwapPending, model.SwapAccepted, "", now); err != nil {
			return err
		}
		superseded, err = store.SupersedePending(ctx, tx, sr.ID, items, now)
		if err != nil {
			return err
		}

		sr, err = loadSwap(ctx, tx, swapID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "swap accepted", "swap", sr.ID, "member", actingOwnerID, "superseded", len(superseded))
	events := []notify.Event{{RecipientID: sr.RequesterID, Type: model.NotifySwapAccepted, RelatedID: sr.ID}}
	for _, s := range superseded {
		events = append(events, notify.Event{RecipientID: s.RequesterID, Type: model.NotifySwapDeclined, RelatedID: s.ID})
	}
	notify.Deliver(ctx, e.Sink, events...)
	return sr, nil
}

// Decline closes a pending request on behalf of the item owner.
func (e *Engine) Decline(ctx context.Context, swapID, actingOwnerID string) (*model.SwapRequest, error) {
	sr, err := e.closePending(ctx, swapID, actingOwnerID, model.SwapDeclined, model.CloseByOwner)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "swap declined", "swap", sr.ID, "member", actingOwnerID)
	notify.Deliver(ctx, e.Sink, notify.Event{
		RecipientID: sr.RequesterID,
		Type:        model.NotifySwapDeclined,
		RelatedID:   sr.ID,
	})
	return sr, nil
}

// Cancel withdraws a pending request on behalf of the requester.
func (e *Engine) Cancel(ctx context.Context, swapID, actingRequesterID string) (*model.SwapRequest, error) {
	sr, err := e.closePending(ctx, swapID, actingRequesterID, model.SwapCancelled, model.CloseByRequester)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "swap cancelled", "swap", sr.ID, "member", actingRequesterID)
	notify.Deliver(ctx, e.Sink, notify.Event{
		RecipientID: sr.OwnerID,
		Type:        model.NotifySwapCancelled,
		RelatedID:   sr.ID,
	})
	return sr, nil
}

// closePending moves a pending request to a terminal state. The owner closes
// with reason CloseByOwner, the requester with CloseByRequester.
func (e *Engine) closePending(ctx context.Context, swapID, actor string, to model.SwapStatus, reason string) (*model.SwapRequest, error) {
	var sr *model.SwapRequest
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		sr, err = loadSwap(ctx, tx, swapID)
		if err != nil {
			return err
		}

		allowed := sr.OwnerID
		if reason == model.CloseByRequester {
			allowed = sr.RequesterID
		}
		if actor != allowed {
			return fmt.Errorf("%w: not allowed to %s this request", model.ErrForbidden, verb(to))
		}
		if sr.Status != model.SwapPending {
			return fmt.Errorf("%w: request is %s", model.ErrForbidden, sr.Status)
		}

		if err := store.SetSwapStatus(ctx, tx, sr.ID, model.SwapPending, to, reason, e.now()); err != nil {
			return err
		}
		sr, err = loadSwap(ctx, tx, swapID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sr, nil
}

func verb(to model.SwapStatus) string {
	if to == model.SwapDeclined {
		return "decline"
	}
	return "cancel"
}

// Complete carries out an accepted swap: points move for a point swap, items
// change hands for an item swap, all in one transaction. Completing an already
// completed request succeeds without changing anything.
func (e *Engine) Complete(ctx context.Context, swapID, actingMemberID string) (*model.SwapRequest, error) {
	var sr *model.SwapRequest
	var already bool
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		sr, err = loadSwap(ctx, tx, swapID)
		if err != nil {
			return err
		}
		if !sr.IsParty(actingMemberID) {
			return fmt.Errorf("%w: not a party to this request", model.ErrForbidden)
		}
		if sr.Status == model.SwapCompleted {
			already = true
			return nil
		}
		if sr.Status != model.SwapAccepted {
			return fmt.Errorf("%w: request is %s", model.ErrForbidden, sr.Status)
		}

		now := e.now()
		if sr.IsPointSwap {
			item, err := store.GetItem(ctx, tx, sr.RequestedItemID)
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("item %s: %w", sr.RequestedItemID, model.ErrNotFound)
			}
			if err := store.Debit(ctx, tx, sr.RequesterID, item.PointsValue, model.PointsSwapDebit, sr.ID, now); err != nil {
				return err
			}
			if err := store.Credit(ctx, tx, sr.OwnerID, item.PointsValue, model.PointsSwapCredit, sr.ID, now); err != nil {
				return err
			}
			if err := store.FinalizeItem(ctx, tx, sr.RequestedItemID, sr.RequesterID, now); err != nil {
				return err
			}
		} else {
			if sr.OfferedItemID == nil {
				return fmt.Errorf("swap request %s has no offered item: %w", sr.ID, model.ErrValidation)
			}
			if err := store.FinalizeItem(ctx, tx, sr.RequestedItemID, sr.RequesterID, now); err != nil {
				return err
			}
			if err := store.FinalizeItem(ctx, tx, *sr.OfferedItemID, sr.OwnerID, now); err != nil {
				return err
			}
		}

		if err := store.SetSwapStatus(ctx, tx, sr.ID, model.SwapAccepted, model.SwapCompleted, "", now); err != nil {
			return err
		}
		sr, err = loadSwap(ctx, tx, swapID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if already {
		return sr, nil
	}

	slog.InfoContext(ctx, "swap completed", "swap", sr.ID, "member", actingMemberID, "points", sr.IsPointSwap)
	counterparty := sr.OwnerID
	if actingMemberID == sr.OwnerID {
		counterparty = sr.RequesterID
	}
	notify.Deliver(ctx, e.Sink, notify.Event{
		RecipientID: counterparty,
		Type:        model.NotifySwapCompleted,
		RelatedID:   sr.ID,
	})
	return sr, nil
}

// Expire closes a request that has gone stale. A pending request is declined;
// an accepted request is cancelled and its reservations are released. Both
// record CloseExpired. Terminal requests return ErrForbidden.
func (e *Engine) Expire(ctx context.Context, swapID string) (*model.SwapRequest, error) {
	var sr *model.SwapRequest
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		sr, err = loadSwap(ctx, tx, swapID)
		if err != nil {
			return err
		}

		if err := closeOpen(ctx, tx, sr, model.SwapDeclined, model.CloseExpired, e.now()); err != nil {
			return err
		}

		sr, err = loadSwap(ctx, tx, swapID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "swap expired", "swap", sr.ID, "status", sr.Status)
	events := []notify.Event{{RecipientID: sr.RequesterID, Type: model.NotifySwapExpired, RelatedID: sr.ID}}
	if sr.Status == model.SwapCancelled {
		events = append(events, notify.Event{RecipientID: sr.OwnerID, Type: model.NotifySwapExpired, RelatedID: sr.ID})
	}
	notify.Deliver(ctx, e.Sink, events...)
	return sr, nil
}

// closeOpen ends an open request inside tx. A pending request moves to
// pendingTo; an accepted request is cancelled and both reservations are
// released. Terminal requests return ErrForbidden.
func closeOpen(ctx context.Context, tx *sql.Tx, sr *model.SwapRequest, pendingTo model.SwapStatus, reason string, now time.Time) error {
	switch sr.Status {
	case model.SwapPending:
		return store.SetSwapStatus(ctx, tx, sr.ID, model.SwapPending, pendingTo, reason, now)
	case model.SwapAccepted:
		if err := store.ReleaseItem(ctx, tx, sr.RequestedItemID, now); err != nil {
			return err
		}
		if sr.OfferedItemID != nil {
			if err := store.ReleaseItem(ctx, tx, *sr.OfferedItemID, now); err != nil {
				return err
			}
		}
		return store.SetSwapStatus(ctx, tx, sr.ID, model.SwapAccepted, model.SwapCancelled, reason, now)
	}
	return fmt.Errorf("%w: request is %s", model.ErrForbidden, sr.Status)
}

// DeactivateMember deactivates a member and, in the same transaction, closes
// every open request they are party to with CloseDeactivated. Their pending
// requests are cancelled, pending requests for their items are declined, and
// accepted requests are cancelled with reservations released. Deactivating an
// inactive member changes nothing. The closed requests are returned.
func (e *Engine) DeactivateMember(ctx context.Context, memberID string) ([]model.SwapRequest, error) {
	var closed []model.SwapRequest
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		member, err := store.GetMember(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
		}
		if !member.Active() {
			return nil
		}

		now := e.now()
		if err := store.DeactivateMember(ctx, tx, memberID, now); err != nil {
			return err
		}

		for _, status := range []model.SwapStatus{model.SwapPending, model.SwapAccepted} {
			open, err := store.ListSwaps(ctx, tx, memberID, store.SwapsAll, status)
			if err != nil {
				return err
			}
			for i := range open {
				sr := &open[i]
				pendingTo := model.SwapDeclined
				if sr.RequesterID == memberID {
					pendingTo = model.SwapCancelled
				}
				if err := closeOpen(ctx, tx, sr, pendingTo, model.CloseDeactivated, now); err != nil {
					return err
				}
				updated, err := loadSwap(ctx, tx, sr.ID)
				if err != nil {
					return err
				}
				closed = append(closed, *updated)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "member deactivated", "member", memberID, "closed", len(closed))
	events := make([]notify.Event, 0, len(closed))
	for _, sr := range closed {
		ev := notify.Event{RecipientID: sr.OwnerID, Type: model.NotifySwapCancelled, RelatedID: sr.ID}
		if sr.OwnerID == memberID {
			ev.RecipientID = sr.RequesterID
		}
		if sr.Status == model.SwapDeclined {
			ev.Type = model.NotifySwapDeclined
		}
		events = append(events, ev)
	}
	notify.Deliver(ctx, e.Sink, events...)
	return closed, nil
}

// SweepPolicy sets how long a request may sit in each state before Sweep
// expires it. A zero TTL disables expiry for that state.
type SweepPolicy struct {
	PendingTTL  time.Duration
	AcceptedTTL time.Duration
}

// Sweep expires every stale request under policy, each in its own
// transaction, and returns how many were expired. Requests that changed state
// in the meantime are skipped.
func (e *Engine) Sweep(ctx context.Context, policy SweepPolicy) (int, error) {
	now := e.now()
	var stale []model.SwapRequest
	for _, s := range []struct {
		status model.SwapStatus
		ttl    time.Duration
	}{
		{model.SwapPending, policy.PendingTTL},
		{model.SwapAccepted, policy.AcceptedTTL},
	} {
		if s.ttl <= 0 {
			continue
		}
		srs, err := store.ListStaleSwaps(ctx, e.DB, s.status, now.Add(-s.ttl))
		if err != nil {
			return 0, err
		}
		stale = append(stale, srs...)
	}

	var expired int
	var errs []error
	for _, sr := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := e.Expire(ctx, sr.ID)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrConflict):
			slog.DebugContext(ctx, "skipping swap in sweep", "swap", sr.ID, "error", err)
		default:
			errs = append(errs, fmt.Errorf("expiring swap %s: %w", sr.ID, err))
		}
	}
	return expired, errors.Join(errs...)
}

// Get returns a swap request visible to actingMemberID.
func (e *Engine) Get(ctx context.Context, swapID, actingMemberID string) (*model.SwapRequest, error) {
	sr, err := loadSwap(ctx, e.DB, swapID)
	if err != nil {
		return nil, err
	}
	if !sr.IsParty(actingMemberID) {
		return nil, fmt.Errorf("%w: not a party to this request", model.ErrForbidden)
	}
	return sr, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Direction store.SwapDirection
	Status    model.SwapStatus
}

// List returns the requests memberID is party to.
func (e *Engine) List(ctx context.Context, memberID string, f Filter) ([]model.SwapRequest, error) {
	switch f.Direction {
	case "", store.SwapsAll, store.SwapsIncoming, store.SwapsOutgoing:
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", model.ErrValidation, f.Direction)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, f.Status)
	}
	return store.ListSwaps(ctx, e.DB, memberID, f.Direction, f.Status)
}

func loadSwap(ctx context.Context, q store.Querier, id string) (*model.SwapRequest, error) {
	sr, err := store.GetSwap(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if sr == nil {
		return nil, fmt.Errorf("swap request %s: %w", id, model.ErrNotFound)
	}
	return sr, nil
}
