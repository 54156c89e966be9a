package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/gateway"
	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"go.uber.org/zap"
)

// OrderStore is the persistence the order service needs.
type OrderStore interface {
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	AttachGatewayOrderID(ctx context.Context, orderID int64, gatewayOrderID string) error
	CreateGatewayOrder(ctx context.Context, g *models.GatewayOrder) error
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error)
	SetOrderShipped(ctx context.Context, orderID int64, trackingNumber string) error
	SetOrderDelivered(ctx context.Context, orderID int64) error
	SetOrderCancelled(ctx context.Context, orderID int64, reason string) error
	RestoreStock(ctx context.Context, vehicleID int64, quantity int) error
}

// RefundInitiator starts a refund against a captured payment. Implemented
// by PaymentService.
type RefundInitiator interface {
	InitiateRefund(ctx context.Context, in RefundInput) (*models.Refund, error)
}

// OrderService drives checkout and the order status state machine.
type OrderService struct {
	store        OrderStore
	gw           gateway.Gateway
	guard        *IdempotencyGuard
	reservations *ReservationManager
	refunds      RefundInitiator
	publisher    Publisher
	currency     string
	logger       *zap.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	st OrderStore,
	gw gateway.Gateway,
	guard *IdempotencyGuard,
	reservations *ReservationManager,
	refunds RefundInitiator,
	publisher Publisher,
	currency string,
) *OrderService {
	return &OrderService{
		store:        st,
		gw:           gw,
		guard:        guard,
		reservations: reservations,
		refunds:      refunds,
		publisher:    publisher,
		currency:     currency,
		logger:       util.GetLogger(),
	}
}

// CheckoutRequest creates a vehicle order.
type CheckoutRequest struct {
	UserID    int64  `json:"-"`
	VehicleID int64  `json:"vehicle_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Contact   string `json:"contact" binding:"required"`
	Address   string `json:"address"`
}

// CheckoutResponse is the pending order plus gateway handoff data.
type CheckoutResponse struct {
	OrderID        int64  `json:"order_id"`
	OrderStatus    string `json:"order_status"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Contact        string `json:"contact"`
}

// Checkout creates a pending order, soft-reserves stock and opens a remote
// payment order. Identical requests within the dedupe window replay the
// first response without re-executing side effects.
func (s *OrderService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	key := s.guard.DeriveKey(req.UserID,
		"checkout",
		fmt.Sprintf("%d", req.VehicleID),
		fmt.Sprintf("%d", req.Quantity))

	if prior, err := s.guard.Check(ctx, key); err != nil {
		return nil, err
	} else if prior != nil {
		return decodeCheckoutResponse(prior)
	}

	vehicle, err := s.store.GetVehicleByID(ctx, req.VehicleID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("vehicle_not_found").Inc()
		return nil, err
	}
	if !vehicle.Active {
		util.OrdersFailedTotal.WithLabelValues("vehicle_inactive").Inc()
		return nil, apperr.NotFound("vehicle", fmt.Sprintf("%d", req.VehicleID))
	}

	// Raw stock read: rejects hopeless checkouts before any gateway call.
	// The authoritative check is the conditional decrement at capture time.
	available, err := s.reservations.CheckAvailable(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if available < req.Quantity {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, apperr.Conflict("only %d units available", available)
	}

	subtotal := vehicle.Price * int64(req.Quantity)
	order := &models.Order{
		UserID:        req.UserID,
		VehicleID:     req.VehicleID,
		Quantity:      req.Quantity,
		UnitPrice:     vehicle.Price,
		TotalAmount:   subtotal,
		OrderStatus:   models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", req.UserID))

	if _, err := s.reservations.Reserve(ctx, order.ID, req.VehicleID, req.Quantity); err != nil {
		s.logger.Error("Failed to reserve stock", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	notes := map[string]string{
		"entity_type": string(models.EntityOrder),
		"entity_id":   fmt.Sprintf("%d", order.ID),
		"user_id":     fmt.Sprintf("%d", req.UserID),
		"contact":     req.Contact,
	}

	receipt := fmt.Sprintf("order_%d", order.ID)
	remote, err := s.gw.CreateOrder(ctx, order.TotalAmount, s.currency, receipt, notes)
	if err != nil {
		// The pending order row stays: it is reconcilable state, retried or
		// expired later, never silently dropped.
		util.OrdersFailedTotal.WithLabelValues("gateway_error").Inc()
		if rerr := s.reservations.Release(ctx, order.ID); rerr != nil {
			s.logger.Error("Failed to release reservation after gateway failure",
				zap.Int64("order_id", order.ID), zap.Error(rerr))
		}
		return nil, err
	}

	notesJSON, _ := json.Marshal(notes)
	mirror := &models.GatewayOrder{
		ID:         remote.ID,
		Amount:     order.TotalAmount,
		AmountDue:  order.TotalAmount,
		Currency:   s.currency,
		Status:     models.GatewayOrderCreated,
		EntityType: models.EntityOrder,
		EntityID:   order.ID,
		Notes:      notesJSON,
	}
	if err := s.store.CreateGatewayOrder(ctx, mirror); err != nil {
		return nil, fmt.Errorf("failed to persist gateway order: %w", err)
	}

	if err := s.store.AttachGatewayOrderID(ctx, order.ID, remote.ID); err != nil {
		return nil, fmt.Errorf("failed to attach gateway order id: %w", err)
	}

	resp := &CheckoutResponse{
		OrderID:        order.ID,
		OrderStatus:    models.OrderStatusPending,
		GatewayOrderID: remote.ID,
		Amount:         order.TotalAmount,
		Currency:       s.currency,
		Contact:        req.Contact,
	}

	respBytes, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	stored, err := s.guard.Store(ctx, key, respBytes)
	if err != nil {
		return nil, err
	}

	s.publisher.PublishOrderCheckout(ctx, &models.OrderCheckoutEvent{
		OrderID:        order.ID,
		UserID:         order.UserID,
		VehicleID:      order.VehicleID,
		Quantity:       order.Quantity,
		TotalAmount:    order.TotalAmount,
		GatewayOrderID: remote.ID,
	})
	s.publisher.Notify(ctx, order.UserID, "Order placed",
		fmt.Sprintf("Your order #%d is awaiting payment.", order.ID),
		"order_created", nil)

	return decodeCheckoutResponse(stored)
}

func decodeCheckoutResponse(data []byte) (*CheckoutResponse, error) {
	var resp CheckoutResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode stored checkout response: %w", err)
	}
	return &resp, nil
}

// TransitionRequest carries a dealer/admin status change.
type TransitionRequest struct {
	OrderID        int64
	TargetStatus   string
	ActorRole      models.Role
	TrackingNumber string
	Reason         string
}

// Transition validates and applies an order status change. Side effects are
// bound to specific transitions: shipped attaches tracking, delivered stamps
// the delivery time, cancelling a paid order restores stock and starts a
// refund.
func (s *OrderService) Transition(ctx context.Context, req *TransitionRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition")
	defer span.End()

	if !models.ValidOrderStatus(req.TargetStatus) {
		return nil, apperr.Validation("status", "unknown order status")
	}
	if !models.RoleMayDriveOrder(req.ActorRole, req.TargetStatus) {
		return nil, apperr.Forbidden(string(req.ActorRole), "set order status "+req.TargetStatus)
	}

	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionOrder(order.OrderStatus, req.TargetStatus) {
		return nil, apperr.InvalidTransition("order", order.OrderStatus, req.TargetStatus)
	}

	switch req.TargetStatus {
	case models.OrderStatusShipped:
		if err := s.store.SetOrderShipped(ctx, order.ID, req.TrackingNumber); err != nil {
			return nil, fmt.Errorf("failed to mark order shipped: %w", err)
		}

	case models.OrderStatusDelivered:
		if err := s.store.SetOrderDelivered(ctx, order.ID); err != nil {
			return nil, fmt.Errorf("failed to mark order delivered: %w", err)
		}

	case models.OrderStatusCancelled:
		reason := req.Reason
		if reason == "" {
			reason = "cancelled by operator"
		}
		if err := s.cancel(ctx, order, reason); err != nil {
			return nil, err
		}

	default:
		applied, err := s.store.UpdateOrderStatus(ctx, order.ID, order.OrderStatus, req.TargetStatus)
		if err != nil {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		if !applied {
			// Another actor moved the order first.
			return nil, apperr.InvalidTransition("order", order.OrderStatus, req.TargetStatus)
		}
	}

	util.OrderTransitionsTotal.WithLabelValues(req.TargetStatus).Inc()
	s.logger.Info("Order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", order.OrderStatus),
		zap.String("to", req.TargetStatus))

	return s.store.GetOrderByID(ctx, order.ID)
}

// cancel applies cancellation side effects. For paid orders the sold units
// return to stock and a refund is started against the captured payment.
func (s *OrderService) cancel(ctx context.Context, order *models.Order, reason string) error {
	if err := s.store.SetOrderCancelled(ctx, order.ID, reason); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if rerr := s.reservations.Release(ctx, order.ID); rerr != nil {
		s.logger.Error("Failed to release reservation on cancel",
			zap.Int64("order_id", order.ID), zap.Error(rerr))
	}

	if order.PaymentStatus != models.PaymentStatusPaid {
		return nil
	}

	if err := s.store.RestoreStock(ctx, order.VehicleID, order.Quantity); err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	if !order.GatewayPaymentID.Valid || !order.GatewayOrderID.Valid {
		s.logger.Error("Paid order missing gateway ids, refund skipped",
			zap.Int64("order_id", order.ID))
		return nil
	}

	_, err := s.refunds.InitiateRefund(ctx, RefundInput{
		PaymentID:      order.GatewayPaymentID.String,
		GatewayOrderID: order.GatewayOrderID.String,
		Amount:         order.TotalAmount,
		Reason:         reason,
		EntityType:     models.EntityOrder,
		EntityID:       order.ID,
	})
	if err != nil {
		// Refund failure must not resurrect the order; operators retry it.
		s.logger.Error("Failed to initiate refund for cancelled order",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return nil
	}

	s.publisher.Notify(ctx, order.UserID, "Order cancelled",
		fmt.Sprintf("Order #%d was cancelled and a refund has been started.", order.ID),
		"order_cancelled", nil)
	return nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}
