package handlers

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vidtube/apiserver/internal/services"
)

const (
	maxMultipartMemory = 32 << 20

	formFieldFullname = "fullname"
	formFieldEmail    = "email"
	formFieldUsername = "username"
	formFieldPassword = "password"
	formFieldAvatar   = "avatar"
	formFieldCover    = "coverImage"
)

// AuthHandler provides the registration and session lifecycle endpoints.
type AuthHandler struct {
	sessions      *services.SessionService
	users         *services.UserService
	secureCookies bool
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(sessions *services.SessionService, users *services.UserService, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		sessions:      sessions,
		users:         users,
		secureCookies: secureCookies,
	}
}

// UserRouter registers all user-facing routes on the given router.
func UserRouter(r chi.Router, sessions *services.SessionService, users *services.UserService, secureCookies bool) {
	auth := NewAuthHandler(sessions, users, secureCookies)
	profile := NewProfileHandler(users)

	r.Post("/register", auth.Register)
	r.Post("/login", auth.Login)
	r.Post("/refresh-token", auth.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Post("/logout", auth.Logout)
		r.Patch("/change-password", auth.ChangePassword)
		r.Get("/me", profile.Me)
		r.Patch("/me", profile.UpdateDetails)
		r.Patch("/me/avatar", profile.UpdateAvatar)
		r.Patch("/me/cover-image", profile.UpdateCoverImage)
		r.Get("/channel/{username}", profile.ChannelProfile)
		r.Post("/channel/{username}/subscription", profile.Subscribe)
		r.Delete("/channel/{username}/subscription", profile.Unsubscribe)
	})
}

// RequireAuth validates the access token from the accessToken cookie or
// the Authorization header, in that order, and attaches the sanitized
// account to the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := accessTokenFromRequest(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized request")
			return
		}

		user, err := h.sessions.Authenticate(r.Context(), tokenString)
		if err != nil {
			respondError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a new account from a multipart form with an avatar and
// an optional cover image.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	input := services.RegisterInput{
		Fullname: r.FormValue(formFieldFullname),
		Email:    r.FormValue(formFieldEmail),
		Username: r.FormValue(formFieldUsername),
		Password: r.FormValue(formFieldPassword),
	}

	avatar, closeAvatar, err := formFileUpload(r, formFieldAvatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar image is required")
		return
	}
	defer closeAvatar()
	input.Avatar = avatar

	cover, closeCover, err := formFileUpload(r, formFieldCover)
	if err == nil {
		defer closeCover()
		input.CoverImage = cover
	}

	user, err := h.users.Register(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}

	writeData(w, http.StatusCreated, user, "user registered successfully")
}

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the login/refresh payload: the sanitized account plus
// the issued token pair.
type LoginResult struct {
	User         any    `json:"user,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login verifies credentials and issues an access/refresh pair, returned
// in the body and as httpOnly cookies.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, pair, err := h.sessions.Login(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	setAuthCookies(w, pair, h.secureCookies, h.sessions.AccessTTL(), h.sessions.RefreshTTL())
	writeData(w, http.StatusOK, LoginResult{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "user logged in successfully")
}

// Logout clears the stored refresh token and the auth cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	if err := h.sessions.Logout(r.Context(), user.ID); err != nil {
		respondError(w, err)
		return
	}

	clearAuthCookies(w, h.secureCookies)
	writeData(w, http.StatusOK, nil, "user logged out successfully")
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the presented refresh token, taken from the
// refreshToken cookie or the request body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := refreshTokenFromRequest(r)
	if presented == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	_, pair, err := h.sessions.Refresh(r.Context(), presented)
	if err != nil {
		respondError(w, err)
		return
	}

	setAuthCookies(w, pair, h.secureCookies, h.sessions.AccessTTL(), h.sessions.RefreshTTL())
	writeData(w, http.StatusOK, LoginResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "access token refreshed successfully")
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword re-hashes after verifying the old password. The active
// session survives.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized request")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}

	h.users.NotifyPasswordChanged(r.Context(), user)
	writeData(w, http.StatusOK, nil, "password changed successfully")
}

func accessTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(cookieAccessToken); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(cookieRefreshToken); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return strings.TrimSpace(req.RefreshToken)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func formFileUpload(r *http.Request, field string) (*services.FileUpload, func(), error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return uploadFromHeader(file, header), func() { _ = file.Close() }, nil
}

func uploadFromHeader(file multipart.File, header *multipart.FileHeader) *services.FileUpload {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &services.FileUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Content:     file,
	}
}
