package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vidtube/apiserver/internal/services"
	"github.com/vidtube/apiserver/types"
)

// ProfileHandler provides the authenticated profile and channel endpoints.
type ProfileHandler struct {
	users *services.UserService
}

func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

// Me returns the sanitized account attached by RequireAuth.
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}
	writeData(w, http.StatusOK, user, "current user fetched successfully")
}

type UpdateDetailsRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
}

// UpdateDetails changes fullname and email.
func (h *ProfileHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	var req UpdateDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.users.UpdateDetails(r.Context(), user.ID, req.Fullname, req.Email)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated, "account details updated successfully")
}

// UpdateAvatar replaces the profile image.
func (h *ProfileHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, formFieldAvatar, h.users.UpdateAvatar, "avatar updated successfully")
}

// UpdateCoverImage replaces the channel banner.
func (h *ProfileHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, formFieldCover, h.users.UpdateCoverImage, "cover image updated successfully")
}

func (h *ProfileHandler) updateImage(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	update func(ctx context.Context, id int64, upload *services.FileUpload) (types.User, error),
	message string,
) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	upload, closeUpload, err := formFileUpload(r, field)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" file is missing")
		return
	}
	defer closeUpload()

	updated, err := update(r.Context(), user.ID, upload)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated, message)
}

// ChannelProfile returns the aggregated channel view for a username.
func (h *ProfileHandler) ChannelProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	profile, err := h.users.ChannelProfile(r.Context(), chi.URLParam(r, "username"), user.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile, "channel profile fetched successfully")
}

// Subscribe makes the caller follow the named channel.
func (h *ProfileHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	if err := h.users.Subscribe(r.Context(), user.ID, chi.URLParam(r, "username")); err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "subscribed successfully")
}

// Unsubscribe removes the caller's subscription to the named channel.
func (h *ProfileHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	if err := h.users.Unsubscribe(r.Context(), user.ID, chi.URLParam(r, "username")); err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "unsubscribed successfully")
}
