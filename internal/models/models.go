package models

import (
	"database/sql"
	"time"
)

// Role of the acting user, resolved by the auth layer upstream.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDealer   Role = "dealer"
	RoleAdmin    Role = "admin"
)

// Vehicle represents a sellable electric vehicle.
type Vehicle struct {
	ID            int64     `db:"id" json:"id"`
	Model         string    `db:"model" json:"model"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a vehicle purchase order.
type Order struct {
	ID               int64          `db:"id" json:"id"`
	UserID           int64          `db:"user_id" json:"user_id"`
	VehicleID        int64          `db:"vehicle_id" json:"vehicle_id"`
	Quantity         int            `db:"quantity" json:"quantity"`
	UnitPrice        int64          `db:"unit_price" json:"unit_price"`
	Discount         int64          `db:"discount" json:"discount"`
	Tax              int64          `db:"tax" json:"tax"`
	TotalAmount      int64          `db:"total_amount" json:"total_amount"`
	OrderStatus      string         `db:"order_status" json:"order_status"`
	PaymentStatus    string         `db:"payment_status" json:"payment_status"`
	GatewayOrderID   sql.NullString `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID sql.NullString `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	TrackingNumber   sql.NullString `db:"tracking_number" json:"tracking_number,omitempty"`
	CancelReason     sql.NullString `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ConfirmedAt      sql.NullTime   `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ShippedAt        sql.NullTime   `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt      sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt      sql.NullTime   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// TestRideBooking represents a scheduled test ride with a refundable deposit.
type TestRideBooking struct {
	ID               int64          `db:"id" json:"id"`
	UserID           int64          `db:"user_id" json:"user_id"`
	VehicleID        int64          `db:"vehicle_id" json:"vehicle_id"`
	DealerID         sql.NullInt64  `db:"dealer_id" json:"dealer_id,omitempty"`
	RideDate         string         `db:"ride_date" json:"ride_date"`
	RideTime         string         `db:"ride_time" json:"ride_time"`
	ConfirmedDate    sql.NullString `db:"confirmed_date" json:"confirmed_date,omitempty"`
	ConfirmedTime    sql.NullString `db:"confirmed_time" json:"confirmed_time,omitempty"`
	Status           string         `db:"status" json:"status"`
	PaymentStatus    string         `db:"payment_status" json:"payment_status"`
	DepositAmount    int64          `db:"deposit_amount" json:"deposit_amount"`
	ConfirmationCode string         `db:"confirmation_code" json:"confirmation_code"`
	GatewayOrderID   sql.NullString `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID sql.NullString `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	CancelReason     sql.NullString `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// ScheduledAt parses the confirmed slot if present, else the requested one.
func (b *TestRideBooking) ScheduledAt() (time.Time, error) {
	date, tm := b.RideDate, b.RideTime
	if b.ConfirmedDate.Valid && b.ConfirmedTime.Valid {
		date, tm = b.ConfirmedDate.String, b.ConfirmedTime.String
	}
	return time.Parse("2006-01-02 15:04", date+" "+tm)
}

// StockReservation soft-reserves stock during checkout. Advisory only:
// authoritative stock changes happen via the conditional decrement on
// payment capture, never at reservation time.
type StockReservation struct {
	ID            int64     `db:"id" json:"id"`
	OrderID       int64     `db:"order_id" json:"order_id"`
	VehicleID     int64     `db:"vehicle_id" json:"vehicle_id"`
	Quantity      int       `db:"quantity" json:"quantity"`
	ReservedUntil time.Time `db:"reserved_until" json:"reserved_until"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the reservation window has lapsed. Expired rows
// are non-binding wherever reservations are consulted.
func (r *StockReservation) Expired(now time.Time) bool {
	return now.After(r.ReservedUntil)
}

// EntityType tags the business entity a gateway order belongs to.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityTestRide EntityType = "test_ride"
)

// GatewayOrder mirrors the payment provider's order object. Notes carry
// enough context to reconstruct the business operation from a bare webhook.
type GatewayOrder struct {
	ID         string     `db:"id" json:"id"`
	Amount     int64      `db:"amount" json:"amount"`
	AmountPaid int64      `db:"amount_paid" json:"amount_paid"`
	AmountDue  int64      `db:"amount_due" json:"amount_due"`
	Currency   string     `db:"currency" json:"currency"`
	Status     string     `db:"status" json:"status"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   int64      `db:"entity_id" json:"entity_id"`
	Notes      []byte     `db:"notes" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Gateway order statuses.
const (
	GatewayOrderCreated  = "created"
	GatewayOrderPartial  = "partial"
	GatewayOrderCaptured = "captured"
	GatewayOrderFailed   = "failed"
)

// Refund tracks money returned against a captured payment.
type Refund struct {
	ID              int64      `db:"id" json:"id"`
	GatewayRefundID string     `db:"gateway_refund_id" json:"gateway_refund_id"`
	PaymentID       string     `db:"payment_id" json:"payment_id"`
	Amount          int64      `db:"amount" json:"amount"`
	Reason          string     `db:"reason" json:"reason"`
	Status          string     `db:"status" json:"status"`
	EntityType      EntityType `db:"entity_type" json:"entity_type"`
	EntityID        int64      `db:"entity_id" json:"entity_id"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Refund statuses.
const (
	RefundProcessing = "processing"
	RefundProcessed  = "processed"
	RefundFailed     = "failed"
)

// IdempotencyRecord stores the first successful response for a derived
// request key. Created once, read on replays, never mutated.
type IdempotencyRecord struct {
	Key       string    `db:"key" json:"key"`
	Response  []byte    `db:"response" json:"response"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WebhookEvent is the audit row for every inbound gateway event, persisted
// regardless of handling outcome.
type WebhookEvent struct {
	ID         int64          `db:"id" json:"id"`
	EventID    string         `db:"event_id" json:"event_id"`
	EventType  string         `db:"event_type" json:"event_type"`
	Payload    []byte         `db:"payload" json:"-"`
	Processed  bool           `db:"processed" json:"processed"`
	HandlerErr sql.NullString `db:"handler_err" json:"handler_err,omitempty"`
	ReceivedAt time.Time      `db:"received_at" json:"received_at"`
}

// Notification is a persisted best-effort user notification.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	Payload   []byte    `db:"payload" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
