package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/gateway"
	"ev-commerce/internal/models"

	"github.com/lib/pq"
)

// fakeStore is an in-memory stand-in for *store.Store implementing every
// repository interface the services consume. Guarded updates mirror the SQL
// semantics: conditional writes report whether a row matched.
type fakeStore struct {
	mu sync.Mutex

	vehicles      map[int64]*models.Vehicle
	orders        map[int64]*models.Order
	bookings      map[int64]*models.TestRideBooking
	gatewayOrders map[string]*models.GatewayOrder
	reservations  map[int64]*models.StockReservation
	refunds       map[string]*models.Refund
	idempotency   map[string]*models.IdempotencyRecord
	webhookEvents map[string]*models.WebhookEvent
	notifications []*models.Notification

	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vehicles:      make(map[int64]*models.Vehicle),
		orders:        make(map[int64]*models.Order),
		bookings:      make(map[int64]*models.TestRideBooking),
		gatewayOrders: make(map[string]*models.GatewayOrder),
		reservations:  make(map[int64]*models.StockReservation),
		refunds:       make(map[string]*models.Refund),
		idempotency:   make(map[string]*models.IdempotencyRecord),
		webhookEvents: make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeStore) nextSeq() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addVehicle(id int64, price int64, stock int, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vehicles[id] = &models.Vehicle{
		ID: id, Model: fmt.Sprintf("ev-%d", id),
		Price: price, StockQuantity: stock, Active: active,
	}
}

func (f *fakeStore) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[id]
	if !ok {
		return nil, apperr.NotFound("vehicle", fmt.Sprintf("%d", id))
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) GetVehicleStock(ctx context.Context, vehicleID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[vehicleID]
	if !ok {
		return 0, apperr.NotFound("vehicle", fmt.Sprintf("%d", vehicleID))
	}
	return v.StockQuantity, nil
}

func (f *fakeStore) DecrementStockIfAvailable(ctx context.Context, vehicleID int64, quantity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[vehicleID]
	if !ok || v.StockQuantity < quantity {
		return false, nil
	}
	v.StockQuantity -= quantity
	return true, nil
}

func (f *fakeStore) RestoreStock(ctx context.Context, vehicleID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vehicles[vehicleID]; ok {
		v.StockQuantity += quantity
	}
	return nil
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.nextSeq()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", fmt.Sprintf("%d", id))
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) AttachGatewayOrderID(ctx context.Context, orderID int64, gatewayOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.GatewayOrderID.String = gatewayOrderID
		o.GatewayOrderID.Valid = true
	}
	return nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.OrderStatus != from {
		return false, nil
	}
	o.OrderStatus = to
	return true, nil
}

func (f *fakeStore) MarkOrderPaid(ctx context.Context, orderID int64, gatewayPaymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending ||
		o.OrderStatus == models.OrderStatusCancelled {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusPaid
	o.OrderStatus = models.OrderStatusConfirmed
	o.GatewayPaymentID.String = gatewayPaymentID
	o.GatewayPaymentID.Valid = true
	o.ConfirmedAt.Time = time.Now()
	o.ConfirmedAt.Valid = true
	return true, nil
}

func (f *fakeStore) RecordOrderPaymentCapture(ctx context.Context, orderID int64, gatewayPaymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return nil
	}
	o.PaymentStatus = models.PaymentStatusPaid
	o.GatewayPaymentID.String = gatewayPaymentID
	o.GatewayPaymentID.Valid = true
	return nil
}

func (f *fakeStore) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.PaymentStatus = status
	}
	return nil
}

func (f *fakeStore) SetOrderShipped(ctx context.Context, orderID int64, trackingNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.OrderStatus = models.OrderStatusShipped
		o.TrackingNumber.String = trackingNumber
		o.TrackingNumber.Valid = true
		o.ShippedAt.Time = time.Now()
		o.ShippedAt.Valid = true
	}
	return nil
}

func (f *fakeStore) SetOrderDelivered(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.OrderStatus = models.OrderStatusDelivered
		o.DeliveredAt.Time = time.Now()
		o.DeliveredAt.Valid = true
	}
	return nil
}

func (f *fakeStore) SetOrderCancelled(ctx context.Context, orderID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.OrderStatus = models.OrderStatusCancelled
		o.CancelReason.String = reason
		o.CancelReason.Valid = true
		o.CancelledAt.Time = time.Now()
		o.CancelledAt.Valid = true
	}
	return nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, b *models.TestRideBooking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.bookings {
		if existing.UserID == b.UserID && existing.VehicleID == b.VehicleID &&
			existing.RideDate == b.RideDate && existing.RideTime == b.RideTime &&
			(existing.Status == models.BookingStatusPending || existing.Status == models.BookingStatusConfirmed) {
			return &pq.Error{Code: "23505"}
		}
	}
	b.ID = f.nextSeq()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	f.bookings[b.ID] = &cp
	return nil
}

func (f *fakeStore) GetBookingByID(ctx context.Context, id int64) (*models.TestRideBooking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking", fmt.Sprintf("%d", id))
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) HasActiveBooking(ctx context.Context, userID, vehicleID int64, rideDate, rideTime string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.UserID == userID && b.VehicleID == vehicleID &&
			b.RideDate == rideDate && b.RideTime == rideTime &&
			(b.Status == models.BookingStatusPending || b.Status == models.BookingStatusConfirmed) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountBookingsCreatedToday(ctx context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, b := range f.bookings {
		if b.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) AttachBookingGatewayOrderID(ctx context.Context, bookingID int64, gatewayOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[bookingID]; ok {
		b.GatewayOrderID.String = gatewayOrderID
		b.GatewayOrderID.Valid = true
	}
	return nil
}

func (f *fakeStore) MarkBookingPaid(ctx context.Context, bookingID int64, gatewayPaymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.PaymentStatus != models.PaymentStatusPending ||
		b.Status == models.BookingStatusCancelled {
		return false, nil
	}
	b.PaymentStatus = models.PaymentStatusPaid
	b.Status = models.BookingStatusConfirmed
	b.GatewayPaymentID.String = gatewayPaymentID
	b.GatewayPaymentID.Valid = true
	return true, nil
}

func (f *fakeStore) RecordBookingPaymentCapture(ctx context.Context, bookingID int64, gatewayPaymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.PaymentStatus != models.PaymentStatusPending {
		return nil
	}
	b.PaymentStatus = models.PaymentStatusPaid
	b.GatewayPaymentID.String = gatewayPaymentID
	b.GatewayPaymentID.Valid = true
	return nil
}

func (f *fakeStore) ConfirmBooking(ctx context.Context, bookingID int64, confirmedDate, confirmedTime string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.Status != models.BookingStatusPending {
		return false, nil
	}
	b.Status = models.BookingStatusConfirmed
	b.ConfirmedDate.String = confirmedDate
	b.ConfirmedDate.Valid = true
	b.ConfirmedTime.String = confirmedTime
	b.ConfirmedTime.Valid = true
	return true, nil
}

func (f *fakeStore) SetBookingStatus(ctx context.Context, bookingID int64, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (f *fakeStore) CancelBooking(ctx context.Context, bookingID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[bookingID]; ok {
		b.Status = models.BookingStatusCancelled
		b.CancelReason.String = reason
		b.CancelReason.Valid = true
	}
	return nil
}

func (f *fakeStore) UpdateBookingPaymentStatus(ctx context.Context, bookingID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[bookingID]; ok {
		b.PaymentStatus = status
	}
	return nil
}

func (f *fakeStore) CreateGatewayOrder(ctx context.Context, g *models.GatewayOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	f.gatewayOrders[g.ID] = &cp
	return nil
}

func (f *fakeStore) GetGatewayOrder(ctx context.Context, id string) (*models.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatewayOrders[id]
	if !ok {
		return nil, apperr.NotFound("gateway order", id)
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) MarkGatewayOrderCaptured(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatewayOrders[id]
	if !ok || g.Status == models.GatewayOrderCaptured {
		return false, nil
	}
	g.Status = models.GatewayOrderCaptured
	g.AmountPaid = g.Amount
	g.AmountDue = 0
	return true, nil
}

func (f *fakeStore) MarkGatewayOrderFailed(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatewayOrders[id]
	if !ok || (g.Status != models.GatewayOrderCreated && g.Status != models.GatewayOrderPartial) {
		return false, nil
	}
	g.Status = models.GatewayOrderFailed
	return true, nil
}

func (f *fakeStore) ApplyGatewayOrderPayment(ctx context.Context, id string, amountPaid int64) (*models.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatewayOrders[id]
	if !ok {
		return nil, apperr.NotFound("gateway order", id)
	}
	g.AmountPaid = amountPaid
	g.AmountDue = g.Amount - amountPaid
	if g.AmountDue < 0 {
		g.AmountDue = 0
	}
	if amountPaid >= g.Amount {
		g.Status = models.GatewayOrderCaptured
	} else {
		g.Status = models.GatewayOrderPartial
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) CreateReservation(ctx context.Context, r *models.StockReservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextSeq()
	cp := *r
	f.reservations[r.OrderID] = &cp
	return nil
}

func (f *fakeStore) GetActiveReservations(ctx context.Context, vehicleID int64) ([]models.StockReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StockReservation
	for _, r := range f.reservations {
		if r.VehicleID == vehicleID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteReservationByOrderID(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reservations, orderID)
	return nil
}

func (f *fakeStore) CreateRefund(ctx context.Context, r *models.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextSeq()
	cp := *r
	f.refunds[r.GatewayRefundID] = &cp
	return nil
}

func (f *fakeStore) GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[gatewayRefundID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) SumProcessedRefunds(ctx context.Context, paymentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status == models.RefundProcessed {
			total += r.Amount
		}
	}
	return total, nil
}

func (f *fakeStore) UpdateRefundStatus(ctx context.Context, gatewayRefundID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.refunds[gatewayRefundID]; ok {
		r.Status = status
	}
	return nil
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.idempotency[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) CreateIdempotencyRecord(ctx context.Context, key string, response []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.idempotency[key]; ok {
		return &pq.Error{Code: "23505"}
	}
	f.idempotency[key] = &models.IdempotencyRecord{
		Key: key, Response: response, CreatedAt: time.Now(),
	}
	return nil
}

func (f *fakeStore) CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.webhookEvents[e.EventID]; ok {
		return nil
	}
	cp := *e
	f.webhookEvents[e.EventID] = &cp
	return nil
}

func (f *fakeStore) RecordWebhookOutcome(ctx context.Context, eventID string, processed bool, handlerErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.webhookEvents[eventID]; ok {
		e.Processed = processed
		e.HandlerErr.String = handlerErr
		e.HandlerErr.Valid = handlerErr != ""
	}
	return nil
}

func (f *fakeStore) IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.webhookEvents[eventID]; ok {
		return e.Processed, nil
	}
	return false, nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

// fakeGateway implements gateway.Gateway with real HMAC signatures so
// verification tests exercise the production signing scheme.
type fakeGateway struct {
	keySecret     string
	webhookSecret string

	createErr error
	refundErr error

	createCalls int
	refundCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		keySecret:     "test-key-secret",
		webhookSecret: "test-webhook-secret",
	}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*gateway.RemoteOrder, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.createCalls++
	return &gateway.RemoteOrder{
		ID:       fmt.Sprintf("gwo_%03d", g.createCalls),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.RemotePayment, error) {
	return &gateway.RemotePayment{ID: paymentID, Status: "captured"}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*gateway.RemoteRefund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refundCalls++
	return &gateway.RemoteRefund{
		ID:        fmt.Sprintf("rfnd_%03d", g.refundCalls),
		PaymentID: paymentID,
		Amount:    amount,
		Status:    "processing",
	}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return gateway.SignPayment(orderID, paymentID, g.keySecret) == signature
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return gateway.SignWebhook(body, g.webhookSecret) == signature
}

// fakePublisher records fire-and-forget events and notifications.
type fakePublisher struct {
	mu            sync.Mutex
	notifications []string
	checkouts     int
	bookings      int
	captures      int
	refunds       int
}

func (p *fakePublisher) Notify(ctx context.Context, userID int64, title, message, notifType string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, notifType)
}

func (p *fakePublisher) PublishOrderCheckout(ctx context.Context, event *models.OrderCheckoutEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts++
}

func (p *fakePublisher) PublishBookingRequested(ctx context.Context, event *models.BookingRequestedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings++
}

func (p *fakePublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
}

func (p *fakePublisher) PublishRefundInitiated(ctx context.Context, event *models.RefundInitiatedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds++
}

// fixture wires every service over the shared in-memory store.
type fixture struct {
	store        *fakeStore
	gw           *fakeGateway
	pub          *fakePublisher
	guard        *IdempotencyGuard
	reservations *ReservationManager
	payments     *PaymentService
	orders       *OrderService
	bookings     *BookingService
	webhooks     *WebhookReconciler
}

func newFixture() *fixture {
	st := newFakeStore()
	gw := newFakeGateway()
	pub := &fakePublisher{}

	guard := NewIdempotencyGuard(st, nil, time.Hour)
	reservations := NewReservationManager(st, 30*time.Minute)
	payments := NewPaymentService(st, gw, reservations, pub, nil)
	orders := NewOrderService(st, gw, guard, reservations, payments, pub, "INR")
	bookings := NewBookingService(st, gw, guard, pub, 2000, 3, 24*time.Hour, "INR")
	webhooks := NewWebhookReconciler(st, gw, payments, reservations)

	return &fixture{
		store:        st,
		gw:           gw,
		pub:          pub,
		guard:        guard,
		reservations: reservations,
		payments:     payments,
		orders:       orders,
		bookings:     bookings,
		webhooks:     webhooks,
	}
}
