// Package queue publishes JSON payloads to durable RabbitMQ queues. All
// publishes are best-effort: errors are returned for the caller to log,
// never to interrupt the primary request flow.
package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	SecurityEventsQueue     = "auth.security_events"
	PasswordResetEmailQueue = "auth.password_reset_emails"
)

// PublishJSON declares the queue (idempotent, durable) and publishes the
// payload as a persistent JSON message.
func PublishJSON(ctx context.Context, url, queueName string, payload any) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}
