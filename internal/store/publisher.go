package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/lexking/tracker/internal/event"
)

// QueuePublisher is the fire-and-forget append strategy: events go to a
// durable RabbitMQ queue and the ingest worker persists them. The visitor
// response no longer blocks on the database, at the cost of a delivery
// window bounded by the worker's batch flush.
type QueuePublisher struct {
	ch    *amqp091.Channel
	queue string
}

// NewQueuePublisher declares the click queue and returns a publisher bound
// to it. The queue is durable so events survive a broker restart.
func NewQueuePublisher(ch *amqp091.Channel, queue string) (*QueuePublisher, error) {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	return &QueuePublisher{ch: ch, queue: queue}, nil
}

func (p *QueuePublisher) Append(ctx context.Context, ev *event.ClickEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal click event: %w", err)
	}
	err = p.ch.PublishWithContext(
		ctx,
		"", p.queue, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish click event: %w", err)
	}
	return nil
}
