package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"minicrm/internal/dispatch"
)

// Publisher publishes dispatch jobs to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if err := declareQueue(conn, queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}, nil
}

// Enqueue publishes a dispatch job as a persistent message
func (p *Publisher) Enqueue(ctx context.Context, job dispatch.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.MessageID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	return nil
}

// declareQueue declares the durable, non-auto-delete job queue
func declareQueue(conn *Connection, queueName string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}
