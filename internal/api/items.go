package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/store"
)

// ItemsHandler handles item listing endpoints.
type ItemsHandler struct {
	DB *sql.DB
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ItemFilter{
		Status:   model.ItemStatus(q.Get("status")),
		Category: q.Get("category"),
		OwnerID:  q.Get("owner_id"),
		Query:    q.Get("q"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var attrs store.ItemAttrs
	if err := decodeJSON(w, r, &attrs); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := store.CreateItem(r.Context(), h.DB, claims.MemberID, attrs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item listed", "item", item.ID, "member", claims.MemberID)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := store.GetItem(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if item == nil || item.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var attrs store.ItemAttrs
	if err := decodeJSON(w, r, &attrs); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := store.UpdateItem(r.Context(), h.DB, r.PathValue("id"), claims.MemberID, attrs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id := r.PathValue("id")

	if err := store.WithdrawItem(r.Context(), h.DB, id, claims.MemberID); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item withdrawn", "item", id, "member", claims.MemberID)
	w.WriteHeader(http.StatusNoContent)
}
