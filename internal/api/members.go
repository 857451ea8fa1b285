package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/store"
	"github.com/erazemk/menjalnica/internal/swap"
)

// MembersHandler serves profile and points endpoints.
type MembersHandler struct {
	DB     *sql.DB
	Engine *swap.Engine
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Location    string `json:"location"`
	AvatarURL   string `json:"avatar_url"`
}

// publicProfile is what other members see.
type publicProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Location    string `json:"location,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type pointsResponse struct {
	Balance int64              `json:"balance"`
	Entries []model.PointEntry `json:"entries"`
}

// Me handles GET /api/me.
func (h *MembersHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	member, err := store.GetMember(r.Context(), h.DB, claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if member == nil {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}
	jsonResponse(w, http.StatusOK, member)
}

// UpdateMe handles PUT /api/me.
func (h *MembersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.UpdateMemberProfile(r.Context(), h.DB, claims.MemberID, req.DisplayName, req.Location, req.AvatarURL); err != nil {
		writeError(w, r, err)
		return
	}

	member, err := store.GetMember(r.Context(), h.DB, claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, member)
}

// Deactivate handles DELETE /api/me. Open swap requests are closed and the
// presented token is revoked.
func (h *MembersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	if _, err := h.Engine.DeactivateMember(r.Context(), claims.MemberID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.RevokeToken(r.Context(), h.DB, claims.ID, claims.ExpiresAt.Time); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Points handles GET /api/me/points.
func (h *MembersHandler) Points(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	balance, err := store.GetBalance(r.Context(), h.DB, claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := store.ListPointEntries(r.Context(), h.DB, claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.PointEntry{}
	}

	jsonResponse(w, http.StatusOK, pointsResponse{Balance: balance, Entries: entries})
}

// Get handles GET /api/members/{id}.
func (h *MembersHandler) Get(w http.ResponseWriter, r *http.Request) {
	member, err := store.GetMember(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if member == nil || !member.Active() {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}

	jsonResponse(w, http.StatusOK, publicProfile{
		ID:          member.ID,
		DisplayName: member.DisplayName,
		Location:    member.Location,
		AvatarURL:   member.AvatarURL,
	})
}
