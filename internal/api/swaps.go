package api

import (
	"context"
	"net/http"

	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/store"
	"github.com/erazemk/menjalnica/internal/swap"
)

// SwapsHandler exposes the swap negotiation engine.
type SwapsHandler struct {
	Engine *swap.Engine
}

// List handles GET /api/swaps.
func (h *SwapsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	q := r.URL.Query()

	swaps, err := h.Engine.List(r.Context(), claims.MemberID, swap.Filter{
		Direction: store.SwapDirection(q.Get("direction")),
		Status:    model.SwapStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if swaps == nil {
		swaps = []model.SwapRequest{}
	}
	jsonResponse(w, http.StatusOK, swaps)
}

// Create handles POST /api/swaps.
func (h *SwapsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var p swap.CreateParams
	if err := decodeJSON(w, r, &p); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.RequesterID = claims.MemberID

	sr, err := h.Engine.Create(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, sr)
}

// Get handles GET /api/swaps/{id}.
func (h *SwapsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	sr, err := h.Engine.Get(r.Context(), r.PathValue("id"), claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, sr)
}

type transitionFunc func(ctx context.Context, swapID, memberID string) (*model.SwapRequest, error)

// transition adapts an engine transition to a handler acting as the caller.
func (h *SwapsHandler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())

		sr, err := fn(r.Context(), r.PathValue("id"), claims.MemberID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusOK, sr)
	}
}

// Accept handles POST /api/swaps/{id}/accept.
func (h *SwapsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(h.Engine.Accept)(w, r)
}

// Decline handles POST /api/swaps/{id}/decline.
func (h *SwapsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.transition(h.Engine.Decline)(w, r)
}

// Cancel handles POST /api/swaps/{id}/cancel.
func (h *SwapsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(h.Engine.Cancel)(w, r)
}

// Complete handles POST /api/swaps/{id}/complete.
func (h *SwapsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(h.Engine.Complete)(w, r)
}
