package services

import (
	"context"
	"errors"
	"strings"

	"github.com/vidtube/apiserver/internal/apierr"
	"github.com/vidtube/apiserver/internal/password"
	"github.com/vidtube/apiserver/internal/store"
	"github.com/vidtube/apiserver/internal/token"
	"github.com/vidtube/apiserver/types"
)

// UserRepository defines persistence operations for user accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateDetails(ctx context.Context, id int64, fullname, email string) (types.User, error)
	UpdateAvatarURL(ctx context.Context, id int64, url string) (types.User, error)
	UpdateCoverImageURL(ctx context.Context, id int64, url string) (types.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	SetRefreshToken(ctx context.Context, id int64, token string) error
	ClearRefreshToken(ctx context.Context, id int64) error
}

// TokenPair is an access/refresh token pair issued together.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionService implements the login/logout/refresh lifecycle. An account
// holds at most one valid refresh token: every login and every rotation
// overwrites it, and logout clears it.
type SessionService struct {
	repo   UserRepository
	issuer *token.Issuer
}

func NewSessionService(repo UserRepository, issuer *token.Issuer) *SessionService {
	return &SessionService{repo: repo, issuer: issuer}
}

// Login verifies credentials by username or email, issues a fresh token
// pair, and persists the refresh token, invalidating any prior session.
// No token is issued or persisted on any failure path.
func (s *SessionService) Login(ctx context.Context, username, email, plaintext string) (types.User, TokenPair, error) {
	username = normalize(username)
	email = normalize(email)
	if username == "" && email == "" {
		return types.User{}, TokenPair{}, apierr.BadRequest("username or email is required")
	}
	if plaintext == "" {
		return types.User{}, TokenPair{}, apierr.BadRequest("password is required")
	}

	user, err := s.repo.GetByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// One message for both fields: do not reveal which lookup missed.
			return types.User{}, TokenPair{}, apierr.NotFound("user does not exist")
		}
		return types.User{}, TokenPair{}, apierr.Internal("failed to authenticate")
	}

	if !password.Verify(plaintext, user.PasswordHash) {
		return types.User{}, TokenPair{}, apierr.Unauthorized("invalid user credentials")
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return types.User{}, TokenPair{}, err
	}
	user.RefreshToken = pair.RefreshToken
	return sanitize(user), pair, nil
}

// Logout clears the stored refresh token. Idempotent: logging out an
// account with no active session succeeds.
func (s *SessionService) Logout(ctx context.Context, userID int64) error {
	if err := s.repo.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.NotFound("user does not exist")
		}
		return apierr.Internal("failed to log out")
	}
	return nil
}

// Refresh rotates a presented refresh token for a brand-new pair. The
// presented token must verify against the refresh secret and byte-equal
// the stored token; a mismatch means a superseded token is being replayed.
func (s *SessionService) Refresh(ctx context.Context, presented string) (types.User, TokenPair, error) {
	if presented == "" {
		return types.User{}, TokenPair{}, apierr.Unauthorized("unauthorized request")
	}

	claims, err := s.issuer.VerifyRefreshToken(presented)
	if err != nil {
		return types.User{}, TokenPair{}, apierr.Unauthorized("Invalid Refresh Token")
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, TokenPair{}, apierr.Unauthorized("Invalid Refresh Token")
		}
		return types.User{}, TokenPair{}, apierr.Internal("failed to refresh session")
	}

	if presented != user.RefreshToken {
		return types.User{}, TokenPair{}, apierr.Unauthorized("Refresh Token is Expired or Used")
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return types.User{}, TokenPair{}, err
	}
	user.RefreshToken = pair.RefreshToken
	return sanitize(user), pair, nil
}

// ChangePassword re-hashes after verifying the old password. The active
// session's refresh token deliberately survives a password change.
func (s *SessionService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apierr.BadRequest("old and new passwords are required")
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.NotFound("user does not exist")
		}
		return apierr.Internal("failed to change password")
	}

	if !password.Verify(oldPassword, user.PasswordHash) {
		return apierr.BadRequest("invalid old password")
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return apierr.Internal("failed to change password")
	}
	if err := s.repo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return apierr.Internal("failed to change password")
	}
	return nil
}

// Authenticate validates an inbound access token and resolves it to the
// sanitized account. Read-only: never mutates state. Every failure is a
// uniform Unauthorized.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (types.User, error) {
	if accessToken == "" {
		return types.User{}, apierr.Unauthorized("unauthorized request")
	}

	claims, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		return types.User{}, apierr.Unauthorized("invalid access token")
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		// Account deleted after issuance is an expected transient state.
		return types.User{}, apierr.Unauthorized("invalid access token")
	}
	return sanitize(user), nil
}

// AccessTTL exposes the access token lifetime for cookie expiry.
func (s *SessionService) AccessTTL() int {
	return int(s.issuer.AccessTTL().Seconds())
}

// RefreshTTL exposes the refresh token lifetime for cookie expiry.
func (s *SessionService) RefreshTTL() int {
	return int(s.issuer.RefreshTTL().Seconds())
}

func (s *SessionService) issuePair(ctx context.Context, user types.User) (TokenPair, error) {
	accessToken, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, apierr.Internal("failed to generate access and refresh tokens")
	}
	refreshToken, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, apierr.Internal("failed to generate access and refresh tokens")
	}
	if err := s.repo.SetRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return TokenPair{}, apierr.Internal("failed to generate access and refresh tokens")
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// sanitize strips credentials from an account view before it is returned
// to any caller.
func sanitize(user types.User) types.User {
	user.PasswordHash = ""
	user.RefreshToken = ""
	return user
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
