package service

import (
	"context"
	"fmt"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/gateway"
	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"go.uber.org/zap"
)

// PaymentStore is the persistence the payment service needs.
type PaymentStore interface {
	GetGatewayOrder(ctx context.Context, id string) (*models.GatewayOrder, error)
	MarkGatewayOrderCaptured(ctx context.Context, id string) (bool, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64, gatewayPaymentID string) (bool, error)
	RecordOrderPaymentCapture(ctx context.Context, orderID int64, gatewayPaymentID string) error
	GetBookingByID(ctx context.Context, id int64) (*models.TestRideBooking, error)
	MarkBookingPaid(ctx context.Context, bookingID int64, gatewayPaymentID string) (bool, error)
	RecordBookingPaymentCapture(ctx context.Context, bookingID int64, gatewayPaymentID string) error
	DecrementStockIfAvailable(ctx context.Context, vehicleID int64, quantity int) (bool, error)
	CreateRefund(ctx context.Context, r *models.Refund) error
	SumProcessedRefunds(ctx context.Context, paymentID string) (int64, error)
}

// Locker is the optional dedupe lock used to collapse concurrent
// verification calls. Implemented by redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// PaymentService owns signature verification, capture application and
// refund initiation. The synchronous verify path and the webhook path both
// converge on ApplyCapture.
type PaymentService struct {
	store        PaymentStore
	gw           gateway.Gateway
	reservations *ReservationManager
	publisher    Publisher
	locker       Locker
	logger       *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil.
func NewPaymentService(
	st PaymentStore,
	gw gateway.Gateway,
	reservations *ReservationManager,
	publisher Publisher,
	locker Locker,
) *PaymentService {
	return &PaymentService{
		store:        st,
		gw:           gw,
		reservations: reservations,
		publisher:    publisher,
		locker:       locker,
		logger:       util.GetLogger(),
	}
}

// VerifyPaymentRequest is the client-side payment verification call.
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// VerifyPaymentResponse reports the confirmed entity.
type VerifyPaymentResponse struct {
	EntityType       string `json:"entity_type"`
	EntityID         int64  `json:"entity_id"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`
	AlreadyVerified  bool   `json:"already_verified"`
}

// VerifyPayment checks the callback signature and applies the capture. A
// replayed call lands in the already-verified branch without re-applying
// side effects or re-notifying.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	if !s.gw.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		util.SignatureFailuresTotal.WithLabelValues("payment").Inc()
		s.logger.Warn("Payment signature mismatch, possible tampering",
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		return nil, apperr.Signature("payment")
	}

	mirror, err := s.store.GetGatewayOrder(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		acquired, lerr := s.locker.AcquireLock(ctx, "verify:"+req.GatewayOrderID, 10*time.Second)
		if lerr != nil {
			s.logger.Warn("Verify lock unavailable, proceeding on store guards", zap.Error(lerr))
		} else if acquired {
			defer func() {
				_ = s.locker.ReleaseLock(ctx, "verify:"+req.GatewayOrderID)
			}()
		}
	}

	applied, err := s.ApplyCapture(ctx, mirror, req.GatewayPaymentID)
	if err != nil {
		return nil, err
	}

	util.PaymentsVerifiedTotal.Inc()

	resp := &VerifyPaymentResponse{
		EntityType:      string(mirror.EntityType),
		EntityID:        mirror.EntityID,
		Status:          models.OrderStatusConfirmed,
		PaymentStatus:   models.PaymentStatusPaid,
		AlreadyVerified: !applied,
	}
	switch mirror.EntityType {
	case models.EntityOrder:
		if order, oerr := s.store.GetOrderByID(ctx, mirror.EntityID); oerr == nil {
			resp.Status = order.OrderStatus
			resp.PaymentStatus = order.PaymentStatus
		}
	case models.EntityTestRide:
		if booking, berr := s.store.GetBookingByID(ctx, mirror.EntityID); berr == nil {
			resp.Status = booking.Status
			resp.PaymentStatus = booking.PaymentStatus
			resp.ConfirmationCode = booking.ConfirmationCode
		}
	}
	return resp, nil
}

// ApplyCapture marks the gateway order captured and drives the linked
// entity to paid/confirmed. Safe against replays: the entity transition is
// guarded by the current payment status, and stock is decremented only when
// that guard is won. Returns false when the capture was already applied.
func (s *PaymentService) ApplyCapture(ctx context.Context, mirror *models.GatewayOrder, paymentID string) (bool, error) {
	if _, err := s.store.MarkGatewayOrderCaptured(ctx, mirror.ID); err != nil {
		return false, fmt.Errorf("failed to mark gateway order captured: %w", err)
	}

	switch mirror.EntityType {
	case models.EntityOrder:
		return s.captureOrder(ctx, mirror, paymentID)
	case models.EntityTestRide:
		return s.captureBooking(ctx, mirror, paymentID)
	default:
		return false, fmt.Errorf("unknown entity type on gateway order %s: %s", mirror.ID, mirror.EntityType)
	}
}

func (s *PaymentService) captureOrder(ctx context.Context, mirror *models.GatewayOrder, paymentID string) (bool, error) {
	won, err := s.store.MarkOrderPaid(ctx, mirror.EntityID, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	if !won {
		order, gerr := s.store.GetOrderByID(ctx, mirror.EntityID)
		if gerr != nil {
			return false, gerr
		}
		if order.OrderStatus == models.OrderStatusCancelled && order.PaymentStatus == models.PaymentStatusPending {
			// The order was cancelled while this payment was in flight.
			// Cancellation stands: record the capture and send the money back.
			return false, s.refundLateCapture(ctx, mirror, paymentID)
		}
		return false, nil
	}

	order, err := s.store.GetOrderByID(ctx, mirror.EntityID)
	if err != nil {
		return true, err
	}

	decremented, err := s.store.DecrementStockIfAvailable(ctx, order.VehicleID, order.Quantity)
	if err != nil {
		return true, err
	}
	if !decremented {
		// Oversold inside the reservation window: payment is authoritative,
		// stock stays at zero and fulfilment resolves the shortfall.
		s.logger.Error("Captured order exceeds remaining stock",
			zap.Int64("order_id", order.ID),
			zap.Int64("vehicle_id", order.VehicleID),
			zap.Int("quantity", order.Quantity))
	}

	if rerr := s.reservations.Release(ctx, order.ID); rerr != nil {
		s.logger.Error("Failed to release reservation after capture",
			zap.Int64("order_id", order.ID), zap.Error(rerr))
	}

	s.publisher.PublishPaymentCaptured(ctx, &models.PaymentCapturedEvent{
		GatewayOrderID:   mirror.ID,
		GatewayPaymentID: paymentID,
		EntityType:       string(models.EntityOrder),
		EntityID:         order.ID,
		Amount:           mirror.Amount,
	})
	s.publisher.Notify(ctx, order.UserID, "Payment received",
		fmt.Sprintf("Order #%d is confirmed.", order.ID),
		"order_paid", nil)

	s.logger.Info("Order payment captured",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_payment_id", paymentID))
	return true, nil
}

func (s *PaymentService) captureBooking(ctx context.Context, mirror *models.GatewayOrder, paymentID string) (bool, error) {
	won, err := s.store.MarkBookingPaid(ctx, mirror.EntityID, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking paid: %w", err)
	}
	if !won {
		booking, gerr := s.store.GetBookingByID(ctx, mirror.EntityID)
		if gerr != nil {
			return false, gerr
		}
		if booking.Status == models.BookingStatusCancelled && booking.PaymentStatus == models.PaymentStatusPending {
			return false, s.refundLateCapture(ctx, mirror, paymentID)
		}
		return false, nil
	}

	booking, err := s.store.GetBookingByID(ctx, mirror.EntityID)
	if err != nil {
		return true, err
	}

	s.publisher.PublishPaymentCaptured(ctx, &models.PaymentCapturedEvent{
		GatewayOrderID:   mirror.ID,
		GatewayPaymentID: paymentID,
		EntityType:       string(models.EntityTestRide),
		EntityID:         booking.ID,
		Amount:           mirror.Amount,
	})
	s.publisher.Notify(ctx, booking.UserID, "Test ride confirmed",
		fmt.Sprintf("Deposit received, your test ride %s is confirmed.", booking.ConfirmationCode),
		"booking_paid", nil)

	s.logger.Info("Booking deposit captured",
		zap.Int64("booking_id", booking.ID),
		zap.String("gateway_payment_id", paymentID))
	return true, nil
}

// refundLateCapture handles money landing on an already-cancelled entity.
// The capture is recorded against the dead row, then refunded in full; stock
// is never touched because the cancellation already settled it.
func (s *PaymentService) refundLateCapture(ctx context.Context, mirror *models.GatewayOrder, paymentID string) error {
	var err error
	switch mirror.EntityType {
	case models.EntityOrder:
		err = s.store.RecordOrderPaymentCapture(ctx, mirror.EntityID, paymentID)
	case models.EntityTestRide:
		err = s.store.RecordBookingPaymentCapture(ctx, mirror.EntityID, paymentID)
	}
	if err != nil {
		return fmt.Errorf("failed to record late payment capture: %w", err)
	}

	s.logger.Warn("Payment captured for a cancelled entity, refunding",
		zap.String("entity_type", string(mirror.EntityType)),
		zap.Int64("entity_id", mirror.EntityID),
		zap.String("gateway_payment_id", paymentID))

	if _, rerr := s.InitiateRefund(ctx, RefundInput{
		PaymentID:      paymentID,
		GatewayOrderID: mirror.ID,
		Amount:         mirror.Amount,
		Reason:         "payment captured after cancellation",
		EntityType:     mirror.EntityType,
		EntityID:       mirror.EntityID,
	}); rerr != nil {
		s.logger.Error("Failed to refund late capture, needs operator reconciliation",
			zap.String("entity_type", string(mirror.EntityType)),
			zap.Int64("entity_id", mirror.EntityID),
			zap.String("gateway_payment_id", paymentID),
			zap.Error(rerr))
	}
	return nil
}

// RefundInput starts a refund against a captured payment.
type RefundInput struct {
	PaymentID      string
	GatewayOrderID string
	Amount         int64
	Reason         string
	EntityType     models.EntityType
	EntityID       int64
}

// InitiateRefund enforces the refund bound, calls the gateway and records
// the refund as processing until the webhook confirms it.
func (s *PaymentService) InitiateRefund(ctx context.Context, in RefundInput) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiateRefund")
	defer span.End()

	mirror, err := s.store.GetGatewayOrder(ctx, in.GatewayOrderID)
	if err != nil {
		return nil, err
	}

	refunded, err := s.store.SumProcessedRefunds(ctx, in.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum processed refunds: %w", err)
	}
	if refunded+in.Amount > mirror.Amount {
		return nil, apperr.Conflict("refund of %d exceeds remaining refundable amount %d",
			in.Amount, mirror.Amount-refunded)
	}

	remote, err := s.gw.Refund(ctx, in.PaymentID, in.Amount, map[string]string{
		"entity_type": string(in.EntityType),
		"entity_id":   fmt.Sprintf("%d", in.EntityID),
		"reason":      in.Reason,
	})
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{
		GatewayRefundID: remote.ID,
		PaymentID:       in.PaymentID,
		Amount:          in.Amount,
		Reason:          in.Reason,
		Status:          models.RefundProcessing,
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
	}
	if err := s.store.CreateRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	util.RefundsInitiatedTotal.Inc()
	s.publisher.PublishRefundInitiated(ctx, &models.RefundInitiatedEvent{
		PaymentID: in.PaymentID,
		Amount:    in.Amount,
		Reason:    in.Reason,
	})

	s.logger.Info("Refund initiated",
		zap.String("payment_id", in.PaymentID),
		zap.Int64("amount", in.Amount))
	return refund, nil
}
