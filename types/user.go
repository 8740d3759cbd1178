package types

import (
	"encoding/json"
	"time"
)

// User represents an account in the system.
// It contains identity, profile, and session metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Username is the unique login name, stored lowercase and trimmed.
	Username string `json:"username" db:"username"`

	// Email is the user's email address, stored lowercase and trimmed.
	Email string `json:"email" db:"email"`

	// Fullname is the user's display name.
	Fullname string `json:"fullname" db:"fullname"`

	// AvatarURL points at the user's profile image in the media store.
	AvatarURL string `json:"avatarUrl" db:"avatar_url"`

	// CoverImageURL points at the user's channel banner, empty if unset.
	CoverImageURL string `json:"coverImageUrl" db:"cover_image_url"`

	// WatchHistory is an opaque list of watched video references.
	WatchHistory json.RawMessage `json:"watchHistory,omitempty" db:"watch_history"`

	// PasswordHash stores the bcrypt digest of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the single currently valid refresh token for this
	// account, empty when no session is active. Never exposed.
	RefreshToken string `json:"-" db:"refresh_token"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
