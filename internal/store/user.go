package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/vidtube/apiserver/types"
)

const uniqueViolation = "23505"

const userColumns = `
	id, username, email, fullname, avatar_url, cover_image_url,
	watch_history, password_hash, refresh_token, created_at, updated_at`

// UserRepository handles persistence for user accounts.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	const query = `
		SELECT` + userColumns + `
		FROM users
		WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByUsernameOrEmail looks an account up by either field in one query.
// The unique indexes guarantee at most one row per field; LIMIT 1 applies
// first-match if both fields point at different accounts.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error) {
	const query = `
		SELECT` + userColumns + `
		FROM users
		WHERE username = $1 OR email = $2
		LIMIT 1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.WatchHistory == nil {
		user.WatchHistory = []byte("[]")
	}

	const query = `
		INSERT INTO users (
			username, email, fullname, avatar_url, cover_image_url,
			watch_history, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Fullname,
		user.AvatarURL,
		user.CoverImageURL,
		[]byte(user.WatchHistory),
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return types.User{}, mapConstraintError(err)
	}
	return user, nil
}

// UpdateDetails changes fullname and email and returns the updated account.
func (r *UserRepository) UpdateDetails(ctx context.Context, id int64, fullname, email string) (types.User, error) {
	const query = `
		UPDATE users
		SET fullname = $1,
			email = $2,
			updated_at = $3
		WHERE id = $4
		RETURNING` + userColumns
	row := r.db.QueryRowContext(ctx, query, fullname, email, time.Now(), id)
	user, err := r.scanUser(row)
	if err != nil {
		return types.User{}, mapConstraintError(err)
	}
	return user, nil
}

// UpdateAvatarURL persists a new avatar location.
func (r *UserRepository) UpdateAvatarURL(ctx context.Context, id int64, url string) (types.User, error) {
	const query = `
		UPDATE users
		SET avatar_url = $1,
			updated_at = $2
		WHERE id = $3
		RETURNING` + userColumns
	return r.scanUser(r.db.QueryRowContext(ctx, query, url, time.Now(), id))
}

// UpdateCoverImageURL persists a new cover image location.
func (r *UserRepository) UpdateCoverImageURL(ctx context.Context, id int64, url string) (types.User, error) {
	const query = `
		UPDATE users
		SET cover_image_url = $1,
			updated_at = $2
		WHERE id = $3
		RETURNING` + userColumns
	return r.scanUser(r.db.QueryRowContext(ctx, query, url, time.Now(), id))
}

// UpdatePasswordHash replaces the stored password digest.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			updated_at = $2
		WHERE id = $3`
	return r.execExpectingRow(ctx, query, hash, time.Now(), id)
}

// SetRefreshToken stores the single currently valid refresh token.
// This is a plain overwrite: concurrent rotations are last-writer-wins.
// A conditional UPDATE predicated on the prior token value is the place
// to harden this if strict single-use rotation is ever required.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id int64, token string) error {
	const query = `
		UPDATE users
		SET refresh_token = $1,
			updated_at = $2
		WHERE id = $3`
	return r.execExpectingRow(ctx, query, token, time.Now(), id)
}

// ClearRefreshToken ends the account's active session.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, id int64) error {
	const query = `
		UPDATE users
		SET refresh_token = '',
			updated_at = $1
		WHERE id = $2`
	return r.execExpectingRow(ctx, query, time.Now(), id)
}

func (r *UserRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	var watchHistory []byte
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Fullname,
		&user.AvatarURL,
		&user.CoverImageURL,
		&watchHistory,
		&user.PasswordHash,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.WatchHistory = watchHistory
	return user, nil
}

func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
