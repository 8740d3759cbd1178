package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vidtube/apiserver/internal/services"
	"github.com/vidtube/apiserver/internal/store"
	"github.com/vidtube/apiserver/internal/token"
	"github.com/vidtube/apiserver/types"
)

// memUserRepo is a minimal in-memory services.UserRepository.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, users: map[int64]types.User{}}
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if (username != "" && user.Username == username) || (email != "" && user.Email == email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdateDetails(ctx context.Context, id int64, fullname, email string) (types.User, error) {
	return r.update(id, func(user *types.User) { user.Fullname = fullname; user.Email = email })
}

func (r *memUserRepo) UpdateAvatarURL(ctx context.Context, id int64, url string) (types.User, error) {
	return r.update(id, func(user *types.User) { user.AvatarURL = url })
}

func (r *memUserRepo) UpdateCoverImageURL(ctx context.Context, id int64, url string) (types.User, error) {
	return r.update(id, func(user *types.User) { user.CoverImageURL = url })
}

func (r *memUserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	_, err := r.update(id, func(user *types.User) { user.PasswordHash = hash })
	return err
}

func (r *memUserRepo) SetRefreshToken(ctx context.Context, id int64, tok string) error {
	_, err := r.update(id, func(user *types.User) { user.RefreshToken = tok })
	return err
}

func (r *memUserRepo) ClearRefreshToken(ctx context.Context, id int64) error {
	_, err := r.update(id, func(user *types.User) { user.RefreshToken = "" })
	return err
}

func (r *memUserRepo) update(id int64, apply func(*types.User)) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	apply(&user)
	r.users[id] = user
	return user, nil
}

type memSubsRepo struct{}

func (memSubsRepo) GetChannelProfile(ctx context.Context, username string, viewerID int64) (types.ChannelProfile, error) {
	return types.ChannelProfile{}, store.ErrNotFound
}
func (memSubsRepo) Subscribe(ctx context.Context, subscriberID, channelID int64) error   { return nil }
func (memSubsRepo) Unsubscribe(ctx context.Context, subscriberID, channelID int64) error { return nil }

type memMedia struct{ counter int }

func (m *memMedia) Upload(ctx context.Context, folder, filename string, r io.Reader, size int64, contentType string) (string, error) {
	m.counter++
	return fmt.Sprintf("/media/%s/object-%d", folder, m.counter), nil
}

func (m *memMedia) RemoveURL(ctx context.Context, url string) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	issuer, err := token.NewIssuer(token.Options{
		AccessSecret:  []byte("test-access-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("test-refresh-secret"),
		RefreshTTL:    10 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	repo := newMemUserRepo()
	sessions := services.NewSessionService(repo, issuer)
	users := services.NewUserService(repo, memSubsRepo{}, &memMedia{}, nil)

	router := chi.NewRouter()
	router.Route("/api/v1/users", func(r chi.Router) {
		UserRouter(r, sessions, users, false)
	})
	return router
}

func registerForm(t *testing.T, username, email, password string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	_ = form.WriteField("fullname", "Ana Example")
	_ = form.WriteField("email", email)
	_ = form.WriteField("username", username)
	_ = form.WriteField("password", password)
	file, err := form.CreateFormFile("avatar", "avatar.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := file.Write([]byte("png-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return body, form.FormDataContentType()
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, recorder.Body.String())
	}
	return envelope
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestRegisterEndpoint(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := registerForm(t, "Ana", "Ana@X.com", "p@ss1234")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	envelope := decodeEnvelope(t, recorder)
	if envelope["success"] != true {
		t.Fatalf("expected success envelope: %v", envelope)
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object: %v", envelope)
	}
	if data["username"] != "ana" {
		t.Fatalf("expected normalized username, got %v", data["username"])
	}
	raw := recorder.Body.String()
	if strings.Contains(raw, "password") || strings.Contains(raw, "refresh") {
		t.Fatalf("sanitized account leaked credentials: %s", raw)
	}
}

func TestRegisterDuplicateEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for attempt := 0; attempt < 2; attempt++ {
		body, contentType := registerForm(t, "ana", "ana@x.com", "p@ss1234")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
		req.Header.Set("Content-Type", contentType)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)

		if attempt == 0 && recorder.Code != http.StatusCreated {
			t.Fatalf("first register: expected 201, got %d", recorder.Code)
		}
		if attempt == 1 {
			if recorder.Code != http.StatusConflict {
				t.Fatalf("second register: expected 409, got %d", recorder.Code)
			}
			envelope := decodeEnvelope(t, recorder)
			if envelope["success"] != false {
				t.Fatalf("expected failure envelope: %v", envelope)
			}
			if _, ok := envelope["errors"].([]any); !ok {
				t.Fatalf("error envelope must carry an errors array: %v", envelope)
			}
		}
	}
}

func TestAuthLifecycle(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := registerForm(t, "ana", "ana@x.com", "p@ss1234")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Login sets both auth cookies and returns the pair.
	login := doJSON(t, router, http.MethodPost, "/api/v1/users/login", LoginRequest{
		Username: "ana",
		Password: "p@ss1234",
	}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", login.Code, login.Body.String())
	}
	cookies := login.Result().Cookies()
	accessCookie := cookieByName(cookies, cookieAccessToken)
	refreshCookie := cookieByName(cookies, cookieRefreshToken)
	if accessCookie == nil || refreshCookie == nil {
		t.Fatalf("login must set both auth cookies")
	}
	if !accessCookie.HttpOnly || !refreshCookie.HttpOnly {
		t.Fatalf("auth cookies must be httpOnly")
	}

	// Protected call via Authorization header.
	me := doJSON(t, router, http.MethodGet, "/api/v1/users/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessCookie.Value)
	})
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", me.Code, me.Body.String())
	}
	envelope := decodeEnvelope(t, me)
	data := envelope["data"].(map[string]any)
	if data["username"] != "ana" {
		t.Fatalf("me: unexpected user %v", data)
	}

	// Protected call without a token gets the uniform error envelope.
	anon := doJSON(t, router, http.MethodGet, "/api/v1/users/me", nil, nil)
	if anon.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me: expected 401, got %d", anon.Code)
	}
	envelope = decodeEnvelope(t, anon)
	if envelope["success"] != false || envelope["statusCode"] != float64(http.StatusUnauthorized) {
		t.Fatalf("unexpected error envelope: %v", envelope)
	}

	// Rotation via the refresh cookie.
	refresh := doJSON(t, router, http.MethodPost, "/api/v1/users/refresh-token", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	if refresh.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", refresh.Code, refresh.Body.String())
	}
	rotated := cookieByName(refresh.Result().Cookies(), cookieRefreshToken)
	if rotated == nil || rotated.Value == refreshCookie.Value {
		t.Fatalf("refresh must rotate the refresh token")
	}

	// Replaying the stolen pre-rotation token is rejected.
	replay := doJSON(t, router, http.MethodPost, "/api/v1/users/refresh-token", nil, func(r *http.Request) {
		r.AddCookie(refreshCookie)
	})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", replay.Code)
	}
	envelope = decodeEnvelope(t, replay)
	if envelope["message"] != "Refresh Token is Expired or Used" {
		t.Fatalf("unexpected replay message: %v", envelope["message"])
	}

	// Refresh via request body with the current token still works.
	bodyRefresh := doJSON(t, router, http.MethodPost, "/api/v1/users/refresh-token", RefreshRequest{
		RefreshToken: rotated.Value,
	}, nil)
	if bodyRefresh.Code != http.StatusOK {
		t.Fatalf("body refresh: expected 200, got %d: %s", bodyRefresh.Code, bodyRefresh.Body.String())
	}
	current := cookieByName(bodyRefresh.Result().Cookies(), cookieRefreshToken)

	// Logout clears cookies and kills the session.
	logout := doJSON(t, router, http.MethodPost, "/api/v1/users/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessCookie.Value)
	})
	if logout.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", logout.Code, logout.Body.String())
	}
	cleared := cookieByName(logout.Result().Cookies(), cookieRefreshToken)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("logout must expire the refresh cookie")
	}

	afterLogout := doJSON(t, router, http.MethodPost, "/api/v1/users/refresh-token", RefreshRequest{
		RefreshToken: current.Value,
	}, nil)
	if afterLogout.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", afterLogout.Code)
	}

	// Logout twice succeeds.
	again := doJSON(t, router, http.MethodPost, "/api/v1/users/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessCookie.Value)
	})
	if again.Code != http.StatusOK {
		t.Fatalf("second logout: expected 200, got %d", again.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	router := newTestRouter(t)

	body, contentType := registerForm(t, "ana", "ana@x.com", "p@ss1234")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", recorder.Code)
	}

	login := doJSON(t, router, http.MethodPost, "/api/v1/users/login", LoginRequest{
		Username: "ana",
		Password: "p@ss1234",
	}, nil)
	accessCookie := cookieByName(login.Result().Cookies(), cookieAccessToken)

	wrong := doJSON(t, router, http.MethodPatch, "/api/v1/users/change-password", ChangePasswordRequest{
		OldPassword: "nope",
		NewPassword: "newpass123",
	}, func(r *http.Request) { r.AddCookie(accessCookie) })
	if wrong.Code != http.StatusBadRequest {
		t.Fatalf("wrong old password: expected 400, got %d", wrong.Code)
	}

	change := doJSON(t, router, http.MethodPatch, "/api/v1/users/change-password", ChangePasswordRequest{
		OldPassword: "p@ss1234",
		NewPassword: "newpass123",
	}, func(r *http.Request) { r.AddCookie(accessCookie) })
	if change.Code != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d: %s", change.Code, change.Body.String())
	}

	relogin := doJSON(t, router, http.MethodPost, "/api/v1/users/login", LoginRequest{
		Username: "ana",
		Password: "newpass123",
	}, nil)
	if relogin.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", relogin.Code)
	}

	stale := doJSON(t, router, http.MethodPost, "/api/v1/users/login", LoginRequest{
		Username: "ana",
		Password: "p@ss1234",
	}, nil)
	if stale.Code != http.StatusUnauthorized {
		t.Fatalf("login with old password: expected 401, got %d", stale.Code)
	}
}
