package store

import (
	"context"
	"database/sql"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/models"
)

// CreateGatewayOrder persists the gateway order mirror with its entity link.
func (s *Store) CreateGatewayOrder(ctx context.Context, g *models.GatewayOrder) error {
	query := `
		INSERT INTO gateway_orders (id, amount, amount_paid, amount_due, currency,
			status, entity_type, entity_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, g, query,
		g.ID, g.Amount, g.AmountPaid, g.AmountDue, g.Currency,
		g.Status, g.EntityType, g.EntityID, g.Notes)
}

// GetGatewayOrder retrieves the gateway order mirror by the gateway's id.
func (s *Store) GetGatewayOrder(ctx context.Context, id string) (*models.GatewayOrder, error) {
	var g models.GatewayOrder
	err := s.db.GetContext(ctx, &g, "SELECT * FROM gateway_orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("gateway order", id)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// MarkGatewayOrderCaptured sets captured only while not already captured,
// so webhook replays are no-ops.
func (s *Store) MarkGatewayOrderCaptured(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gateway_orders
		SET status = $1, amount_paid = amount, amount_due = 0, updated_at = NOW()
		WHERE id = $2 AND status != $1`,
		models.GatewayOrderCaptured, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// MarkGatewayOrderFailed sets the failed status only while the order is still
// open. A stale failure event arriving after the capture matches zero rows,
// so a paid entity is never torn down. Returns whether the guard won.
func (s *Store) MarkGatewayOrderFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE gateway_orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`,
		models.GatewayOrderFailed, id,
		models.GatewayOrderCreated, models.GatewayOrderPartial)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// ApplyGatewayOrderPayment records a (possibly partial) payment against the
// gateway order and marks it captured once nothing remains due.
func (s *Store) ApplyGatewayOrderPayment(ctx context.Context, id string, amountPaid int64) (*models.GatewayOrder, error) {
	query := `
		UPDATE gateway_orders
		SET amount_paid = $1,
			amount_due = GREATEST(amount - $1, 0),
			status = CASE WHEN $1 >= amount THEN $2 ELSE $3 END,
			updated_at = NOW()
		WHERE id = $4
		RETURNING *`

	var g models.GatewayOrder
	err := s.db.GetContext(ctx, &g, query,
		amountPaid, models.GatewayOrderCaptured, models.GatewayOrderPartial, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("gateway order", id)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateRefund inserts a refund row.
func (s *Store) CreateRefund(ctx context.Context, r *models.Refund) error {
	query := `
		INSERT INTO refunds (gateway_refund_id, payment_id, amount, reason, status,
			entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, r, query,
		r.GatewayRefundID, r.PaymentID, r.Amount, r.Reason, r.Status,
		r.EntityType, r.EntityID)
}

// GetRefundByGatewayRefundID retrieves a refund by the gateway's refund id.
func (s *Store) GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	var r models.Refund
	err := s.db.GetContext(ctx, &r,
		"SELECT * FROM refunds WHERE gateway_refund_id = $1", gatewayRefundID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SumProcessedRefunds totals processed refund amounts for a payment.
func (s *Store) SumProcessedRefunds(ctx context.Context, paymentID string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM refunds
		WHERE payment_id = $1 AND status = $2`,
		paymentID, models.RefundProcessed)
	return total, err
}

// UpdateRefundStatus updates a refund's status by gateway refund id.
func (s *Store) UpdateRefundStatus(ctx context.Context, gatewayRefundID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, updated_at = NOW() WHERE gateway_refund_id = $2",
		status, gatewayRefundID)
	return err
}

// GetIdempotencyRecord fetches a stored response by key; nil when absent.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM idempotency_records WHERE key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotencyRecord stores the first successful response for a key.
// Unique key; a violation means another request won the race.
func (s *Store) CreateIdempotencyRecord(ctx context.Context, key string, response []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO idempotency_records (key, response) VALUES ($1, $2)",
		key, response)
	return err
}

// CreateWebhookEvent persists a raw inbound event for audit. ON CONFLICT
// keeps replays from erroring the insert.
func (s *Store) CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.EventType, e.Payload)
	return err
}

// RecordWebhookOutcome records the handling outcome on the audit row. A
// failed handler leaves processed false so a gateway redelivery retries it.
func (s *Store) RecordWebhookOutcome(ctx context.Context, eventID string, processed bool, handlerErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed = $1, handler_err = NULLIF($2, '')
		WHERE event_id = $3`,
		processed, handlerErr, eventID)
	return err
}

// IsWebhookEventProcessed reports whether the event was already handled.
func (s *Store) IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := s.db.GetContext(ctx, &processed, `
		SELECT COALESCE(
			(SELECT processed FROM webhook_events WHERE event_id = $1), FALSE)`,
		eventID)
	return processed, err
}
