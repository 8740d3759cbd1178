// Package events publishes user domain events to a message broker.
// Publishing is fire-and-forget from the caller's perspective: a broker
// failure is logged by the caller, never surfaced to the client.
package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vidtube/apiserver/config"
)

const (
	UserRegistered  = "user.registered"
	PasswordChanged = "user.password_changed"
)

// Event is the payload published for account lifecycle changes.
type Event struct {
	Name       string    `json:"name"`
	UserID     int64     `json:"userId"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends events to the configured broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewPublisher constructs the publisher selected by config, or nil when
// event publishing is disabled.
func NewPublisher(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		return NewRabbitMQPublisher(cfg)
	case "pubsub":
		return NewPubSubPublisher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func encodeEvent(event Event) ([]byte, map[string]string, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, err
	}
	attrs := map[string]string{"event": event.Name}
	return data, attrs, nil
}

func newMessageID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
