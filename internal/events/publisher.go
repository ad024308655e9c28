// Package events publishes session and broadcast lifecycle events to a
// RabbitMQ topic exchange for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

// Routing keys used by the core.
const (
	KeySessionConnected    = "session.connected"
	KeySessionDisconnected = "session.disconnected"
	KeyBroadcastCompleted  = "broadcast.completed"
)

type envelope struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewPublisher(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{conn: conn, exchange: exchange}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, payload any) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	msgID := uuid.NewString()
	body, err := json.Marshal(envelope{
		ID:        msgID,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msgID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		slog.Info("event published", "key", key, "exchange", r.exchange)
	}
	return err
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}
