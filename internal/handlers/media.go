package handlers

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vidtube/apiserver/internal/media"
)

// MediaHandler streams stored media objects. This is what the persisted
// avatar and cover URLs resolve to when no CDN fronts the bucket.
type MediaHandler struct {
	store *media.Store
}

func NewMediaHandler(store *media.Store) *MediaHandler {
	return &MediaHandler{store: store}
}

// MediaRouter registers the media routes on the given router.
func MediaRouter(r chi.Router, store *media.Store) {
	handler := NewMediaHandler(store)
	r.Get("/*", handler.Serve)
}

// Serve streams the object named by the remaining URL path.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid media key")
		return
	}

	object, err := h.store.Open(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	defer object.Close()

	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if _, err := io.Copy(w, object); err != nil {
		// Too late for an error envelope once the body started streaming.
		return
	}
}
