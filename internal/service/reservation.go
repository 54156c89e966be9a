package service

import (
	"context"
	"fmt"
	"time"

	"ev-commerce/internal/models"
	"ev-commerce/internal/util"

	"go.uber.org/zap"
)

// ReservationStore is the persistence the reservation manager needs.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r *models.StockReservation) error
	GetActiveReservations(ctx context.Context, vehicleID int64) ([]models.StockReservation, error)
	DeleteReservationByOrderID(ctx context.Context, orderID int64) error
	GetVehicleStock(ctx context.Context, vehicleID int64) (int, error)
}

// ReservationManager soft-reserves stock for a bounded window during
// checkout. Reservations never touch the authoritative stock counter; that
// is decremented only on confirmed payment. Expiry is lazy: nothing sweeps
// the TTL, expired rows stop binding at the next consult.
type ReservationManager struct {
	store  ReservationStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewReservationManager creates a reservation manager.
func NewReservationManager(st ReservationStore, ttl time.Duration) *ReservationManager {
	return &ReservationManager{
		store:  st,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Reserve writes an advisory reservation row for the order.
func (rm *ReservationManager) Reserve(ctx context.Context, orderID, vehicleID int64, quantity int) (*models.StockReservation, error) {
	reservation := &models.StockReservation{
		OrderID:       orderID,
		VehicleID:     vehicleID,
		Quantity:      quantity,
		ReservedUntil: time.Now().Add(rm.ttl),
	}

	if err := rm.store.CreateReservation(ctx, reservation); err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	util.StockReservationsTotal.Inc()
	rm.logger.Info("Stock reserved",
		zap.Int64("order_id", orderID),
		zap.Int64("vehicle_id", vehicleID),
		zap.Int("quantity", quantity),
		zap.Time("reserved_until", reservation.ReservedUntil))

	return reservation, nil
}

// Release drops the reservation for an order. Called on payment failure,
// checkout abandonment and webhook-driven cancellation.
func (rm *ReservationManager) Release(ctx context.Context, orderID int64) error {
	if err := rm.store.DeleteReservationByOrderID(ctx, orderID); err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	util.StockReservationsReleased.Inc()
	return nil
}

// CheckAvailable reads the raw stock field. Reservations are advisory and
// deliberately not subtracted: two concurrent checkouts can both pass this
// check. The money path stays correct because payment capture goes through
// the conditional decrement.
func (rm *ReservationManager) CheckAvailable(ctx context.Context, vehicleID int64) (int, error) {
	return rm.store.GetVehicleStock(ctx, vehicleID)
}

// ActiveReservedQuantity sums unexpired reservations for a vehicle, used
// for reporting rather than admission control.
func (rm *ReservationManager) ActiveReservedQuantity(ctx context.Context, vehicleID int64) (int, error) {
	reservations, err := rm.store.GetActiveReservations(ctx, vehicleID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	total := 0
	for i := range reservations {
		if !reservations[i].Expired(now) {
			total += reservations[i].Quantity
		}
	}
	return total, nil
}
