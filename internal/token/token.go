// Package token issues and verifies the signed access and refresh tokens
// of the session protocol. Access and refresh tokens are signed with
// distinct secrets so that compromise of one does not compromise the other.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vidtube/apiserver/types"
)

// ErrInvalidToken is the uniform verification failure. Signature, expiry,
// and structural failures are deliberately indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are embedded in access tokens: identity plus the display
// fields the client renders without a profile round-trip.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Fullname string `json:"fullname"`
}

// RefreshClaims carry only the account id.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
}

// Options configures an Issuer. Secrets must be non-empty and distinct.
type Options struct {
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
}

// Issuer mints and verifies HS256-signed token pairs.
type Issuer struct {
	opts Options
}

func NewIssuer(opts Options) (*Issuer, error) {
	if len(opts.AccessSecret) == 0 || len(opts.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(opts.AccessSecret) == string(opts.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 10 * 24 * time.Hour
	}
	return &Issuer{opts: opts}, nil
}

// IssueAccessToken signs a short-lived access token for the user.
func (i *Issuer) IssueAccessToken(user types.User) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.AccessTTL)),
		},
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Fullname: user.Fullname,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.opts.AccessSecret)
}

// IssueRefreshToken signs a long-lived refresh token carrying only the id.
func (i *Issuer) IssueRefreshToken(user types.User) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.RefreshTTL)),
		},
		UserID: user.ID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.opts.RefreshSecret)
}

// VerifyAccessToken checks signature and expiry against the access secret
// and returns the embedded claims.
func (i *Issuer) VerifyAccessToken(tokenString string) (AccessClaims, error) {
	claims := AccessClaims{}
	if err := i.verify(tokenString, &claims, i.opts.AccessSecret); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry against the refresh secret
// and returns the embedded claims.
func (i *Issuer) VerifyRefreshToken(tokenString string) (RefreshClaims, error) {
	claims := RefreshClaims{}
	if err := i.verify(tokenString, &claims, i.opts.RefreshSecret); err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return RefreshClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.opts.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.opts.RefreshTTL
}

func (i *Issuer) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
