package models

import "time"

// Kafka event types.
const (
	EventTypeNotification     = "NOTIFICATION"
	EventTypeOrderCheckout    = "ORDER_CHECKOUT"
	EventTypeBookingRequested = "BOOKING_REQUESTED"
	EventTypePaymentCaptured  = "PAYMENT_CAPTURED"
	EventTypeRefundInitiated  = "REFUND_INITIATED"
)

// BaseEvent contains common fields for all published events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent is the fire-and-forget notification payload. Delivery
// failure never fails the operation that emitted it.
type NotificationEvent struct {
	BaseEvent
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
}

// OrderCheckoutEvent published when a checkout creates a pending order.
type OrderCheckoutEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	UserID         int64  `json:"user_id"`
	VehicleID      int64  `json:"vehicle_id"`
	Quantity       int    `json:"quantity"`
	TotalAmount    int64  `json:"total_amount"`
	GatewayOrderID string `json:"gateway_order_id"`
}

// BookingRequestedEvent published when a test ride booking is created.
type BookingRequestedEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	UserID           int64  `json:"user_id"`
	VehicleID        int64  `json:"vehicle_id"`
	RideDate         string `json:"ride_date"`
	RideTime         string `json:"ride_time"`
	ConfirmationCode string `json:"confirmation_code"`
}

// PaymentCapturedEvent published when either the verify path or the webhook
// path lands a payment.
type PaymentCapturedEvent struct {
	BaseEvent
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	EntityType       string `json:"entity_type"`
	EntityID         int64  `json:"entity_id"`
	Amount           int64  `json:"amount"`
}

// RefundInitiatedEvent published when a refund is sent to the gateway.
type RefundInitiatedEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}
