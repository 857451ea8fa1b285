package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/menjalnica/internal/auth"
	"github.com/erazemk/menjalnica/internal/model"
	"github.com/erazemk/menjalnica/internal/store"
)

// AuthHandler handles registration and authentication endpoints.
type AuthHandler struct {
	DB            *sql.DB
	JWTSecret     string
	WelcomePoints int64
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Location    string `json:"location"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string        `json:"token"`
	Member *model.Member `json:"member"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	member, err := store.CreateMember(r.Context(), h.DB, store.MemberAttrs{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Location:     req.Location,
		PasswordHash: hash,
	}, h.WelcomePoints)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, member.ID, member.Email)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	slog.Info("member registered", "member", member.ID, "points", member.Points)
	jsonResponse(w, http.StatusCreated, tokenResponse{Token: token, Member: member})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "email and password required")
		return
	}

	email, err := store.NormalizeEmail(req.Email)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	member, err := store.GetMemberByEmail(r.Context(), h.DB, email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if member == nil || !member.Active() {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !auth.CheckPassword(member.PasswordHash, req.Password) {
		slog.Warn("login failed", "email", email, "remote", r.RemoteAddr)
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, member.ID, member.Email)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	slog.Info("member logged in", "member", member.ID)
	jsonResponse(w, http.StatusOK, tokenResponse{Token: token, Member: member})
}

// Logout handles POST /api/auth/logout by revoking the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := store.RevokeToken(r.Context(), h.DB, claims.ID, claims.ExpiresAt.Time); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("member logged out", "member", claims.MemberID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" {
		jsonError(w, http.StatusBadRequest, "current password required")
		return
	}
	if err := model.ValidatePassword(req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	member, err := store.GetMember(r.Context(), h.DB, claims.MemberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if member == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if !auth.CheckPassword(member.PasswordHash, req.CurrentPassword) {
		jsonError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := store.UpdateMemberPassword(r.Context(), h.DB, claims.MemberID, hash); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("member changed password", "member", claims.MemberID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
