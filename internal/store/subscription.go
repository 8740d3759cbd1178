package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vidtube/apiserver/types"
)

// SubscriptionRepository handles persistence for channel subscriptions.
type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetChannelProfile aggregates a channel's public fields with its
// subscriber counts and whether viewerID is subscribed to it.
func (r *SubscriptionRepository) GetChannelProfile(ctx context.Context, username string, viewerID int64) (types.ChannelProfile, error) {
	const query = `
		SELECT u.id, u.username, u.fullname, u.avatar_url, u.cover_image_url,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = u.id),
			(SELECT COUNT(*) FROM subscriptions s WHERE s.subscriber_id = u.id),
			EXISTS (
				SELECT 1 FROM subscriptions s
				WHERE s.channel_id = u.id AND s.subscriber_id = $2
			)
		FROM users u
		WHERE u.username = $1`
	var profile types.ChannelProfile
	err := r.db.QueryRowContext(ctx, query, username, viewerID).Scan(
		&profile.ID,
		&profile.Username,
		&profile.Fullname,
		&profile.AvatarURL,
		&profile.CoverImageURL,
		&profile.SubscriberCount,
		&profile.SubscribedToCount,
		&profile.IsSubscribed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ChannelProfile{}, ErrNotFound
		}
		return types.ChannelProfile{}, err
	}
	return profile, nil
}

// Subscribe records that subscriberID follows channelID. Idempotent.
func (r *SubscriptionRepository) Subscribe(ctx context.Context, subscriberID, channelID int64) error {
	const query = `
		INSERT INTO subscriptions (subscriber_id, channel_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, channel_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, subscriberID, channelID, time.Now())
	return err
}

// Unsubscribe removes the relation if present. Idempotent.
func (r *SubscriptionRepository) Unsubscribe(ctx context.Context, subscriberID, channelID int64) error {
	const query = `
		DELETE FROM subscriptions
		WHERE subscriber_id = $1 AND channel_id = $2`
	_, err := r.db.ExecContext(ctx, query, subscriberID, channelID)
	return err
}
