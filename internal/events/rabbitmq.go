package events

import (
	"context"
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vidtube/apiserver/config"
)

// RabbitMQPublisher publishes events to a RabbitMQ queue.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	durable bool
}

// NewRabbitMQPublisher dials RabbitMQ and declares the event queue.
func NewRabbitMQPublisher(cfg config.EventsConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.RabbitMQ.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("events topic is required")
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	p := &RabbitMQPublisher{
		conn:    conn,
		channel: ch,
		queue:   cfg.Topic,
		durable: cfg.RabbitMQ.QueueDurable,
	}
	if _, err := p.channel.QueueDeclare(p.queue, p.durable, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	data, attrs, err := encodeEvent(event)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	return p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   newMessageID(),
		Headers:     headers,
		Body:        data,
	})
}

func (p *RabbitMQPublisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}
