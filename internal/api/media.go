package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/erazemk/menjalnica/internal/imaging"
	"github.com/erazemk/menjalnica/internal/store"
)

// MediaHandler stores and serves item photos.
type MediaHandler struct {
	DB *sql.DB
}

type mediaResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Upload handles POST /api/media. The body is the raw JPEG or PNG, or a
// multipart form with an "image" file field.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(1<<20))
	body := r.Body
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err == nil {
		file, _, err := r.FormFile("image")
		if err != nil {
			jsonError(w, http.StatusBadRequest, "image file required")
			return
		}
		defer file.Close()
		body = file
	} else if !errors.Is(err, http.ErrNotMultipart) {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	photo, err := imaging.Process(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := store.CreateMedia(r.Context(), h.DB, claims.MemberID, photo.Data, photo.MIME)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusCreated, mediaResponse{
		ID:     id,
		URL:    store.MediaURL(id),
		Width:  photo.Width,
		Height: photo.Height,
	})
}

// Get handles GET /api/media/{id}.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	data, mime, err := store.GetMedia(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "media not found")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
