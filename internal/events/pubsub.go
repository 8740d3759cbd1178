package events

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/vidtube/apiserver/config"
	"google.golang.org/api/option"
)

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher constructs a Pub/Sub publisher and ensures the topic
// exists.
func NewPubSubPublisher(ctx context.Context, cfg config.EventsConfig) (*PubSubPublisher, error) {
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("events topic is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.PubSub.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(cfg.Topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, cfg.Topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	return &PubSubPublisher{client: client, topic: topic}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	data, attrs, err := encodeEvent(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err = result.Get(ctx)
	return err
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
