package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/store"
)

// NotificationsHandler serves a member's in-app notifications.
type NotificationsHandler struct {
	DB *sql.DB
}

// List handles GET /api/notifications. ?unread=true limits it to unread ones.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	unread := r.URL.Query().Get("unread") == "true"

	ns, err := store.ListNotifications(r.Context(), h.DB, claims.MemberID, unread)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []model.Notification{}
	}
	jsonResponse(w, http.StatusOK, ns)
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	if err := store.MarkNotificationRead(r.Context(), h.DB, r.PathValue("id"), claims.MemberID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
