package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/menjalnica/internal/swap"
)

// NewRouter creates the API router with all endpoints registered.
// welcomePoints is credited to every newly registered member.
func NewRouter(db *sql.DB, jwtSecret string, engine *swap.Engine, welcomePoints int64) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret, WelcomePoints: welcomePoints}
	membersHandler := &MembersHandler{DB: db, Engine: engine}
	itemsHandler := &ItemsHandler{DB: db}
	mediaHandler := &MediaHandler{DB: db}
	swapsHandler := &SwapsHandler{Engine: engine}
	notificationsHandler := &NotificationsHandler{DB: db}

	authMW := AuthMiddleware(jwtSecret, db)

	// Public.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/media/{id}", mediaHandler.Get)

	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Own profile and points.
	mux.Handle("GET /api/me", authMW(http.HandlerFunc(membersHandler.Me)))
	mux.Handle("PUT /api/me", authMW(http.HandlerFunc(membersHandler.UpdateMe)))
	mux.Handle("DELETE /api/me", authMW(http.HandlerFunc(membersHandler.Deactivate)))
	mux.Handle("GET /api/me/points", authMW(http.HandlerFunc(membersHandler.Points)))
	mux.Handle("GET /api/members/{id}", authMW(http.HandlerFunc(membersHandler.Get)))

	// Catalog.
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(http.HandlerFunc(itemsHandler.Create)))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Update)))
	mux.Handle("DELETE /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Delete)))
	mux.Handle("POST /api/media", authMW(http.HandlerFunc(mediaHandler.Upload)))

	// Swap requests.
	mux.Handle("GET /api/swaps", authMW(http.HandlerFunc(swapsHandler.List)))
	mux.Handle("POST /api/swaps", authMW(http.HandlerFunc(swapsHandler.Create)))
	mux.Handle("GET /api/swaps/{id}", authMW(http.HandlerFunc(swapsHandler.Get)))
	mux.Handle("POST /api/swaps/{id}/accept", authMW(http.HandlerFunc(swapsHandler.Accept)))
	mux.Handle("POST /api/swaps/{id}/decline", authMW(http.HandlerFunc(swapsHandler.Decline)))
	mux.Handle("POST /api/swaps/{id}/cancel", authMW(http.HandlerFunc(swapsHandler.Cancel)))
	mux.Handle("POST /api/swaps/{id}/complete", authMW(http.HandlerFunc(swapsHandler.Complete)))

	mux.Handle("GET /api/notifications", authMW(http.HandlerFunc(notificationsHandler.List)))
	mux.Handle("POST /api/notifications/{id}/read", authMW(http.HandlerFunc(notificationsHandler.MarkRead)))

	return mux
}
