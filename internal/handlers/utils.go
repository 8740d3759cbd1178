package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidtube/apiserver/internal/apierr"
	"github.com/vidtube/apiserver/internal/services"
	"github.com/vidtube/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

const (
	cookieAccessToken  = "accessToken"
	cookieRefreshToken = "refreshToken"
)

// APIResponse is the uniform success envelope.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// APIError is the uniform error envelope.
type APIError struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIError{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     []string{},
	})
}

// respondError renders a service error; anything that is not an
// *apierr.Error becomes an opaque 500.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func setAuthCookies(w http.ResponseWriter, pair services.TokenPair, secure bool, accessMaxAge, refreshMaxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieAccessToken,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   accessMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieRefreshToken,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   refreshMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{cookieAccessToken, cookieRefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
