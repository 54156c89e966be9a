package service

import (
	"context"

	"ev-commerce/internal/models"
)

// Publisher is the event/notification side channel used by the services.
// Implemented by broker.EventPublisher; publishing is best-effort and never
// fails the caller.
type Publisher interface {
	Notify(ctx context.Context, userID int64, title, message, notifType string, payload []byte)
	PublishOrderCheckout(ctx context.Context, event *models.OrderCheckoutEvent)
	PublishBookingRequested(ctx context.Context, event *models.BookingRequestedEvent)
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent)
	PublishRefundInitiated(ctx context.Context, event *models.RefundInitiatedEvent)
}
