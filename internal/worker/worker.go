package worker

import (
	"context"
	"encoding/json"
	"log"

	"ev-commerce/internal/broker"
	"ev-commerce/internal/models"

	"github.com/segmentio/kafka-go"
)

// NotificationStore persists delivered notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// NotificationWorker consumes the notification topic and persists each
// notification. Delivery is best-effort by design: the producers never wait
// on this path.
type NotificationWorker struct {
	consumer *broker.Consumer
	store    NotificationStore
}

// NewNotificationWorker creates a notification worker.
func NewNotificationWorker(consumer *broker.Consumer, store NotificationStore) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		store:    store,
	}
}

// Start starts the worker.
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var baseEvent models.BaseEvent
		if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
			log.Printf("Failed to unmarshal event: %v", err)
			return nil
		}

		if baseEvent.EventType != models.EventTypeNotification {
			return nil
		}

		var event models.NotificationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("Failed to unmarshal notification event: %v", err)
			return nil
		}

		return w.store.CreateNotification(ctx, &models.Notification{
			UserID:  event.UserID,
			Title:   event.Title,
			Message: event.Message,
			Type:    event.Type,
			Payload: event.Payload,
		})
	})
}

// Stop stops the worker.
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
