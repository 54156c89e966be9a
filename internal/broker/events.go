package broker

import (
	"context"
	"fmt"
	"time"

	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is the fire-and-forget notification sink contract. Delivery
// failures are logged, never returned to the business operation.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, message, notifType string, payload []byte)
}

// EventPublisher publishes domain and notification events to Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

// Notify publishes a notification event best-effort. The publish runs on
// the request goroutine but any error stops here.
func (ep *EventPublisher) Notify(ctx context.Context, userID int64, title, message, notifType string, payload []byte) {
	event := &models.NotificationEvent{
		BaseEvent: newBaseEvent(models.EventTypeNotification),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      notifType,
		Payload:   payload,
	}

	key := fmt.Sprintf("user-%d", userID)
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		ep.logger.Error("Failed to publish notification event",
			zap.Int64("user_id", userID),
			zap.String("type", notifType),
			zap.Error(err))
	}
}

// PublishOrderCheckout publishes an OrderCheckout event best-effort.
func (ep *EventPublisher) PublishOrderCheckout(ctx context.Context, event *models.OrderCheckoutEvent) {
	event.BaseEvent = newBaseEvent(models.EventTypeOrderCheckout)
	ep.publish(ctx, fmt.Sprintf("order-%d", event.OrderID), event)
}

// PublishBookingRequested publishes a BookingRequested event best-effort.
func (ep *EventPublisher) PublishBookingRequested(ctx context.Context, event *models.BookingRequestedEvent) {
	event.BaseEvent = newBaseEvent(models.EventTypeBookingRequested)
	ep.publish(ctx, fmt.Sprintf("booking-%d", event.BookingID), event)
}

// PublishPaymentCaptured publishes a PaymentCaptured event best-effort.
func (ep *EventPublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) {
	event.BaseEvent = newBaseEvent(models.EventTypePaymentCaptured)
	ep.publish(ctx, "payment-"+event.GatewayOrderID, event)
}

// PublishRefundInitiated publishes a RefundInitiated event best-effort.
func (ep *EventPublisher) PublishRefundInitiated(ctx context.Context, event *models.RefundInitiatedEvent) {
	event.BaseEvent = newBaseEvent(models.EventTypeRefundInitiated)
	ep.publish(ctx, "refund-"+event.PaymentID, event)
}

func (ep *EventPublisher) publish(ctx context.Context, key string, event interface{}) {
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		ep.logger.Error("Failed to publish event",
			zap.String("key", key),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
