package types

import "time"

// Subscription records that one user (the subscriber) follows another
// user's channel.
type Subscription struct {
	ID           int64     `json:"id" db:"id"`
	SubscriberID int64     `json:"subscriberId" db:"subscriber_id"`
	ChannelID    int64     `json:"channelId" db:"channel_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ChannelProfile is the aggregated public view of a user's channel.
type ChannelProfile struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	Fullname          string `json:"fullname"`
	AvatarURL         string `json:"avatarUrl"`
	CoverImageURL     string `json:"coverImageUrl"`
	SubscriberCount   int    `json:"subscriberCount"`
	SubscribedToCount int    `json:"subscribedToCount"`
	IsSubscribed      bool   `json:"isSubscribed"`
}
