package store

import (
	"context"

	"ev-commerce/internal/models"
)

// CreateReservation inserts an advisory stock reservation row.
func (s *Store) CreateReservation(ctx context.Context, r *models.StockReservation) error {
	query := `
		INSERT INTO stock_reservations (order_id, vehicle_id, quantity, reserved_until)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, r, query,
		r.OrderID, r.VehicleID, r.Quantity, r.ReservedUntil)
}

// GetActiveReservations returns unexpired reservations for a vehicle.
// Expired rows are dropped opportunistically: the TTL is never swept by a
// timer, so this read is where lapsed reservations stop binding.
func (s *Store) GetActiveReservations(ctx context.Context, vehicleID int64) ([]models.StockReservation, error) {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM stock_reservations WHERE vehicle_id = $1 AND reserved_until < NOW()",
		vehicleID); err != nil {
		return nil, err
	}

	var reservations []models.StockReservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM stock_reservations WHERE vehicle_id = $1 AND reserved_until >= NOW()",
		vehicleID)
	return reservations, err
}

// DeleteReservationByOrderID releases the reservation for an order.
func (s *Store) DeleteReservationByOrderID(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM stock_reservations WHERE order_id = $1", orderID)
	return err
}
