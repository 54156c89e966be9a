package store

import (
	"context"
	"database/sql"
	"fmt"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/models"
)

// CreateOrder inserts a new pending order.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, vehicle_id, quantity, unit_price, discount, tax,
			total_amount, order_status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.UserID, order.VehicleID, order.Quantity, order.UnitPrice,
		order.Discount, order.Tax, order.TotalAmount,
		order.OrderStatus, order.PaymentStatus)
}

// GetOrderByID retrieves an order by ID.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayOrderID resolves an order from the gateway's own id,
// used by the webhook path.
func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order", gatewayOrderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// AttachGatewayOrderID stores the remote order id as a durable foreign key.
func (s *Store) AttachGatewayOrderID(ctx context.Context, orderID int64, gatewayOrderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_order_id = $1, updated_at = NOW() WHERE id = $2",
		gatewayOrderID, orderID)
	return err
}

// UpdateOrderStatus conditionally advances order_status. The WHERE clause on
// the current status makes concurrent verify/webhook transitions commute:
// the second writer matches zero rows. Returns false when nothing matched.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = NOW() WHERE id = $2 AND order_status = $3",
		to, orderID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// MarkOrderPaid sets payment fields and confirms the order if still pending.
// The status guard keeps a late capture from resurrecting a cancelled order;
// cancelled is terminal regardless of payment timing.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, gatewayPaymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, order_status = $2, gateway_payment_id = $3,
			confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND payment_status = $5 AND order_status != $6`,
		models.PaymentStatusPaid, models.OrderStatusConfirmed,
		gatewayPaymentID, orderID, models.PaymentStatusPending,
		models.OrderStatusCancelled)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// RecordOrderPaymentCapture stores a captured payment on an order without
// touching order_status. Used when the money lands after the order was
// cancelled: the capture is recorded so the refund accounting lines up.
func (s *Store) RecordOrderPaymentCapture(ctx context.Context, orderID int64, gatewayPaymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET payment_status = $1, gateway_payment_id = $2, updated_at = NOW()
		WHERE id = $3 AND payment_status = $4`,
		models.PaymentStatusPaid, gatewayPaymentID, orderID, models.PaymentStatusPending)
	return err
}

// UpdateOrderPaymentStatus updates payment_status unconditionally.
func (s *Store) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// SetOrderShipped stamps shipment data.
func (s *Store) SetOrderShipped(ctx context.Context, orderID int64, trackingNumber string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET order_status = $1, tracking_number = $2,
			shipped_at = NOW(), updated_at = NOW()
		WHERE id = $3`,
		models.OrderStatusShipped, trackingNumber, orderID)
	return err
}

// SetOrderDelivered stamps the delivery time.
func (s *Store) SetOrderDelivered(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET order_status = $1, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $2`,
		models.OrderStatusDelivered, orderID)
	return err
}

// SetOrderCancelled stamps cancellation time and the human-readable reason.
func (s *Store) SetOrderCancelled(ctx context.Context, orderID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET order_status = $1, cancel_reason = $2,
			cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $3`,
		models.OrderStatusCancelled, reason, orderID)
	return err
}

// GetOrdersByUserID retrieves orders for a user, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}
