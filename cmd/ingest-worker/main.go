package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexking/tracker/internal/event"
	applog "github.com/lexking/tracker/internal/logger"
	"github.com/lexking/tracker/internal/store"
)

// The worker persists click events published by the tracker in queue append
// mode. Delivery is at-least-once: a failed batch is nacked back to the
// queue, so rows may occasionally duplicate but are never silently lost.

const (
	batchSize     = 100
	flushInterval = 2 * time.Second
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, relying on env vars", "err", err)
	}

	applog.InitFromEnv()

	db, err := gorm.Open(postgres.Open(os.Getenv("DB_URL")), &gorm.Config{
		Logger: applog.NewGormLogger(os.Getenv("GORM_LOG_LEVEL")),
	})
	if err != nil {
		slog.Error("Unable to connect to database", "err", err)
		os.Exit(1)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		slog.Error("Failed to migrate database", "err", err)
		os.Exit(1)
	}

	rabbitConn, err := amqp091.Dial(os.Getenv("RABBITMQ_URL"))
	if err != nil {
		slog.Error("Unable to connect to RabbitMQ", "err", err)
		os.Exit(1)
	}
	defer rabbitConn.Close()

	rabbitCH, err := rabbitConn.Channel()
	if err != nil {
		slog.Error("Unable to open RabbitMQ channel", "err", err)
		os.Exit(1)
	}
	defer rabbitCH.Close()

	queueName := os.Getenv("CLICK_QUEUE_NAME")
	if queueName == "" {
		queueName = "click_events"
	}
	q, err := rabbitCH.QueueDeclare(
		queueName,
		true, false, false, false, nil,
	)
	if err != nil {
		slog.Error("Failed to declare queue", "err", err)
		os.Exit(1)
	}

	// One batch worth of messages in flight at a time.
	if err := rabbitCH.Qos(batchSize, 0, false); err != nil {
		slog.Error("Failed to set QoS", "err", err)
		os.Exit(1)
	}

	msgs, err := rabbitCH.Consume(
		q.Name, "", false, false, false, false, nil,
	)
	if err != nil {
		slog.Error("Failed to register consumer", "err", err)
		os.Exit(1)
	}

	slog.Info("Ingest worker started. Waiting for click events...", "queue", q.Name)

	var forever chan struct{}
	var events []event.ClickEvent
	var deliveries []amqp091.Delivery

	ticker := time.NewTicker(flushInterval)

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					slog.Warn("RabbitMQ channel closed")
					return
				}
				var ev event.ClickEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					slog.Error("Error decoding message. Rejecting.", "err", err)
					// 'false' means don't re-queue
					d.Reject(false)
					continue
				}
				ev.ID = 0 // the store assigns ids, never the wire
				events = append(events, ev)
				deliveries = append(deliveries, d)

				if len(events) >= batchSize {
					persistBatch(st, events, deliveries)
					events, deliveries = nil, nil
					ticker.Reset(flushInterval)
				}

			case <-ticker.C:
				if len(events) > 0 {
					slog.Info("Timer flush: persisting queued events", "count", len(events))
					persistBatch(st, events, deliveries)
					events, deliveries = nil, nil
				}
			}
		}
	}()

	// Block forever
	<-forever
}

func persistBatch(st *store.Store, events []event.ClickEvent, deliveries []amqp091.Delivery) {
	if len(events) == 0 {
		return
	}
	slog.Info("Persisting batch of click events", "count", len(events))

	if err := st.AppendBatch(context.Background(), events); err != nil {
		slog.Error("Failed to persist batch. Nacking messages.", "err", err)
		// Re-queue for another try
		for _, d := range deliveries {
			d.Nack(false, true)
		}
		return
	}

	for _, d := range deliveries {
		d.Ack(false)
	}
	slog.Info("Successfully persisted and acked click events", "count", len(deliveries))
}
