package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/gateway"
	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook event types delivered by the gateway.
const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookPaymentFailed   = "payment.failed"
	WebhookOrderPaid       = "order.paid"
	WebhookRefundProcessed = "refund.processed"
)

// WebhookStore is the persistence the reconciler needs.
type WebhookStore interface {
	CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
	IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error)
	RecordWebhookOutcome(ctx context.Context, eventID string, processed bool, handlerErr string) error
	GetGatewayOrder(ctx context.Context, id string) (*models.GatewayOrder, error)
	MarkGatewayOrderFailed(ctx context.Context, id string) (bool, error)
	ApplyGatewayOrderPayment(ctx context.Context, id string, amountPaid int64) (*models.GatewayOrder, error)
	SetOrderCancelled(ctx context.Context, orderID int64, reason string) error
	UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error
	CancelBooking(ctx context.Context, bookingID int64, reason string) error
	UpdateBookingPaymentStatus(ctx context.Context, bookingID int64, status string) error
	GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.Refund, error)
	CreateRefund(ctx context.Context, r *models.Refund) error
	UpdateRefundStatus(ctx context.Context, gatewayRefundID, status string) error
	SumProcessedRefunds(ctx context.Context, paymentID string) (int64, error)
}

// WebhookEnvelope is the gateway's event wrapper.
type WebhookEnvelope struct {
	ID      string         `json:"id"`
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload carries the objects relevant to each event type.
type WebhookPayload struct {
	Payment struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id"`
		Amount  int64  `json:"amount"`
	} `json:"payment"`
	Order struct {
		ID         string `json:"id"`
		AmountPaid int64  `json:"amount_paid"`
	} `json:"order"`
	Refund struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
		OrderID   string `json:"order_id"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
	} `json:"refund"`
}

// WebhookReconciler consumes asynchronous gateway events and drives state
// transitions idempotently, independent of the synchronous request path.
type WebhookReconciler struct {
	store        WebhookStore
	gw           gateway.Gateway
	payments     *PaymentService
	reservations *ReservationManager
	logger       *zap.Logger
}

// NewWebhookReconciler creates a webhook reconciler.
func NewWebhookReconciler(
	st WebhookStore,
	gw gateway.Gateway,
	payments *PaymentService,
	reservations *ReservationManager,
) *WebhookReconciler {
	return &WebhookReconciler{
		store:        st,
		gw:           gw,
		payments:     payments,
		reservations: reservations,
		logger:       util.GetLogger(),
	}
}

// Handle verifies the transport signature and processes the event. Only a
// signature mismatch is returned as an error; handler failures are logged
// and swallowed so the sender's retries never block on application bugs.
func (w *WebhookReconciler) Handle(ctx context.Context, body []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.Handle")
	defer span.End()

	if !w.gw.VerifyWebhookSignature(body, signature) {
		util.SignatureFailuresTotal.WithLabelValues("webhook").Inc()
		w.logger.Warn("Webhook signature mismatch, rejecting")
		return apperr.Signature("webhook")
	}

	var envelope WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Signed but unparseable. Still persist the raw body for audit
		// under a generated id before acknowledging.
		w.logger.Error("Unparseable webhook body, acknowledged and dropped", zap.Error(err))
		audit := &models.WebhookEvent{
			EventID:   "unparsed-" + uuid.New().String(),
			EventType: "unparseable",
			Payload:   body,
		}
		if perr := w.store.CreateWebhookEvent(ctx, audit); perr != nil {
			w.logger.Error("Failed to persist unparseable webhook event", zap.Error(perr))
		}
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(envelope.Event).Inc()

	// Audit row first: every verified event is persisted regardless of
	// handling outcome.
	audit := &models.WebhookEvent{
		EventID:   envelope.ID,
		EventType: envelope.Event,
		Payload:   body,
	}
	if err := w.store.CreateWebhookEvent(ctx, audit); err != nil {
		w.logger.Error("Failed to persist webhook event",
			zap.String("event_id", envelope.ID), zap.Error(err))
	}

	processed, err := w.store.IsWebhookEventProcessed(ctx, envelope.ID)
	if err != nil {
		w.logger.Error("Failed to check webhook replay marker", zap.Error(err))
	}
	if processed {
		w.logger.Info("Webhook event already processed, skipping",
			zap.String("event_id", envelope.ID))
		return nil
	}

	if err := w.dispatch(ctx, &envelope); err != nil {
		util.WebhookHandlerErrorsTotal.WithLabelValues(envelope.Event).Inc()
		w.logger.Error("Webhook handler failed",
			zap.String("event_id", envelope.ID),
			zap.String("event", envelope.Event),
			zap.Error(err))
		if rerr := w.store.RecordWebhookOutcome(ctx, envelope.ID, false, err.Error()); rerr != nil {
			w.logger.Error("Failed to record webhook outcome", zap.Error(rerr))
		}
		return nil
	}

	if err := w.store.RecordWebhookOutcome(ctx, envelope.ID, true, ""); err != nil {
		w.logger.Error("Failed to record webhook outcome", zap.Error(err))
	}
	return nil
}

func (w *WebhookReconciler) dispatch(ctx context.Context, envelope *WebhookEnvelope) error {
	switch envelope.Event {
	case WebhookPaymentCaptured:
		return w.handlePaymentCaptured(ctx, envelope)
	case WebhookPaymentFailed:
		return w.handlePaymentFailed(ctx, envelope)
	case WebhookOrderPaid:
		return w.handleOrderPaid(ctx, envelope)
	case WebhookRefundProcessed:
		return w.handleRefundProcessed(ctx, envelope)
	default:
		w.logger.Info("Unhandled webhook event type",
			zap.String("event", envelope.Event))
		return nil
	}
}

// handlePaymentCaptured converges with the verify path on ApplyCapture.
// Replays re-apply the same terminal state without double-decrementing.
func (w *WebhookReconciler) handlePaymentCaptured(ctx context.Context, envelope *WebhookEnvelope) error {
	mirror, err := w.store.GetGatewayOrder(ctx, envelope.Payload.Payment.OrderID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway order: %w", err)
	}

	_, err = w.payments.ApplyCapture(ctx, mirror, envelope.Payload.Payment.ID)
	return err
}

func (w *WebhookReconciler) handlePaymentFailed(ctx context.Context, envelope *WebhookEnvelope) error {
	mirror, err := w.store.GetGatewayOrder(ctx, envelope.Payload.Payment.OrderID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway order: %w", err)
	}

	won, err := w.store.MarkGatewayOrderFailed(ctx, mirror.ID)
	if err != nil {
		return fmt.Errorf("failed to mark gateway order failed: %w", err)
	}
	if !won {
		// The gateway order already left the open states, typically because
		// a capture raced ahead of this failure. The paid entity stands.
		w.logger.Info("Stale payment failure ignored",
			zap.String("gateway_order_id", mirror.ID))
		return nil
	}

	switch mirror.EntityType {
	case models.EntityOrder:
		if err := w.store.UpdateOrderPaymentStatus(ctx, mirror.EntityID, models.PaymentStatusFailed); err != nil {
			return err
		}
		if err := w.store.SetOrderCancelled(ctx, mirror.EntityID, "payment failed"); err != nil {
			return err
		}
		if err := w.reservations.Release(ctx, mirror.EntityID); err != nil {
			w.logger.Error("Failed to release reservation on payment failure",
				zap.Int64("order_id", mirror.EntityID), zap.Error(err))
		}
	case models.EntityTestRide:
		if err := w.store.UpdateBookingPaymentStatus(ctx, mirror.EntityID, models.PaymentStatusFailed); err != nil {
			return err
		}
		if err := w.store.CancelBooking(ctx, mirror.EntityID, "payment failed"); err != nil {
			return err
		}
	}
	return nil
}

// handleOrderPaid updates paid/due amounts; a partial payment leaves the
// gateway order open, a full one converges on the capture path.
func (w *WebhookReconciler) handleOrderPaid(ctx context.Context, envelope *WebhookEnvelope) error {
	mirror, err := w.store.ApplyGatewayOrderPayment(ctx, envelope.Payload.Order.ID, envelope.Payload.Order.AmountPaid)
	if err != nil {
		return fmt.Errorf("failed to apply gateway order payment: %w", err)
	}

	if mirror.Status != models.GatewayOrderCaptured {
		w.logger.Info("Partial payment applied",
			zap.String("gateway_order_id", mirror.ID),
			zap.Int64("amount_paid", mirror.AmountPaid),
			zap.Int64("amount_due", mirror.AmountDue))
		return nil
	}

	_, err = w.payments.ApplyCapture(ctx, mirror, envelope.Payload.Payment.ID)
	return err
}

func (w *WebhookReconciler) handleRefundProcessed(ctx context.Context, envelope *WebhookEnvelope) error {
	refund := envelope.Payload.Refund

	mirror, err := w.store.GetGatewayOrder(ctx, refund.OrderID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway order for refund: %w", err)
	}

	existing, err := w.store.GetRefundByGatewayRefundID(ctx, refund.ID)
	if err != nil {
		return fmt.Errorf("failed to look up refund: %w", err)
	}

	if existing == nil {
		row := &models.Refund{
			GatewayRefundID: refund.ID,
			PaymentID:       refund.PaymentID,
			Amount:          refund.Amount,
			Reason:          refund.Reason,
			Status:          models.RefundProcessed,
			EntityType:      mirror.EntityType,
			EntityID:        mirror.EntityID,
		}
		if err := w.store.CreateRefund(ctx, row); err != nil {
			return fmt.Errorf("failed to record webhook refund: %w", err)
		}
	} else if existing.Status != models.RefundProcessed {
		if err := w.store.UpdateRefundStatus(ctx, refund.ID, models.RefundProcessed); err != nil {
			return fmt.Errorf("failed to update refund status: %w", err)
		}
	}

	util.RefundsProcessedTotal.Inc()

	refunded, err := w.store.SumProcessedRefunds(ctx, refund.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to sum processed refunds: %w", err)
	}

	paymentStatus := models.PaymentStatusPartialRefund
	if refunded >= mirror.Amount {
		paymentStatus = models.PaymentStatusRefunded
	}

	switch mirror.EntityType {
	case models.EntityOrder:
		return w.store.UpdateOrderPaymentStatus(ctx, mirror.EntityID, paymentStatus)
	case models.EntityTestRide:
		return w.store.UpdateBookingPaymentStatus(ctx, mirror.EntityID, paymentStatus)
	}
	return nil
}
