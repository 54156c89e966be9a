package store

import (
	"context"
	"database/sql"
	"fmt"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/models"
)

// CreateBooking inserts a new test ride booking. A partial unique index on
// (user_id, vehicle_id, ride_date, ride_time) over active statuses backs
// the one-active-booking-per-slot invariant; races surface as unique
// violations (see IsUniqueViolation).
func (s *Store) CreateBooking(ctx context.Context, b *models.TestRideBooking) error {
	query := `
		INSERT INTO test_ride_bookings (user_id, vehicle_id, dealer_id, ride_date,
			ride_time, status, payment_status, deposit_amount, confirmation_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, b, query,
		b.UserID, b.VehicleID, b.DealerID, b.RideDate, b.RideTime,
		b.Status, b.PaymentStatus, b.DepositAmount, b.ConfirmationCode)
}

// GetBookingByID retrieves a booking by ID.
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.TestRideBooking, error) {
	var b models.TestRideBooking
	err := s.db.GetContext(ctx, &b, "SELECT * FROM test_ride_bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("booking", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByGatewayOrderID resolves a booking from the gateway order id.
func (s *Store) GetBookingByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.TestRideBooking, error) {
	var b models.TestRideBooking
	err := s.db.GetContext(ctx, &b,
		"SELECT * FROM test_ride_bookings WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("booking", gatewayOrderID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// HasActiveBooking reports whether a pending or confirmed booking exists
// for the same (user, vehicle, date, time) slot.
func (s *Store) HasActiveBooking(ctx context.Context, userID, vehicleID int64, rideDate, rideTime string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM test_ride_bookings
			WHERE user_id = $1 AND vehicle_id = $2 AND ride_date = $3 AND ride_time = $4
				AND status IN ($5, $6))`,
		userID, vehicleID, rideDate, rideTime,
		models.BookingStatusPending, models.BookingStatusConfirmed)
	return exists, err
}

// CountBookingsCreatedToday counts bookings the user created today (by
// creation time, not the requested ride date). Backs the daily quota guard.
func (s *Store) CountBookingsCreatedToday(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM test_ride_bookings
		WHERE user_id = $1 AND created_at >= date_trunc('day', NOW())`,
		userID)
	return count, err
}

// AttachBookingGatewayOrderID stores the remote order id on the booking.
func (s *Store) AttachBookingGatewayOrderID(ctx context.Context, bookingID int64, gatewayOrderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE test_ride_bookings SET gateway_order_id = $1, updated_at = NOW() WHERE id = $2",
		gatewayOrderID, bookingID)
	return err
}

// MarkBookingPaid sets paid+confirmed only while payment is still pending,
// making verify and webhook replays no-ops after the first capture. The
// status guard keeps a late deposit capture out of a cancelled booking.
func (s *Store) MarkBookingPaid(ctx context.Context, bookingID int64, gatewayPaymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_ride_bookings
		SET payment_status = $1, status = $2, gateway_payment_id = $3, updated_at = NOW()
		WHERE id = $4 AND payment_status = $5 AND status != $6`,
		models.PaymentStatusPaid, models.BookingStatusConfirmed,
		gatewayPaymentID, bookingID, models.PaymentStatusPending,
		models.BookingStatusCancelled)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// RecordBookingPaymentCapture stores a captured deposit on a booking without
// touching its status. Used when the deposit lands after cancellation.
func (s *Store) RecordBookingPaymentCapture(ctx context.Context, bookingID int64, gatewayPaymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE test_ride_bookings
		SET payment_status = $1, gateway_payment_id = $2, updated_at = NOW()
		WHERE id = $3 AND payment_status = $4`,
		models.PaymentStatusPaid, gatewayPaymentID, bookingID, models.PaymentStatusPending)
	return err
}

// ConfirmBooking records the dealer-confirmed slot and moves the booking to
// confirmed while it is still pending.
func (s *Store) ConfirmBooking(ctx context.Context, bookingID int64, confirmedDate, confirmedTime string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_ride_bookings
		SET status = $1, confirmed_date = $2, confirmed_time = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		models.BookingStatusConfirmed, confirmedDate, confirmedTime,
		bookingID, models.BookingStatusPending)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// SetBookingStatus advances a booking from one status to another.
func (s *Store) SetBookingStatus(ctx context.Context, bookingID int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_ride_bookings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		to, bookingID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// CancelBooking stamps the cancellation reason.
func (s *Store) CancelBooking(ctx context.Context, bookingID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE test_ride_bookings SET status = $1, cancel_reason = $2, updated_at = NOW()
		WHERE id = $3`,
		models.BookingStatusCancelled, reason, bookingID)
	return err
}

// UpdateBookingPaymentStatus updates the booking's payment status.
func (s *Store) UpdateBookingPaymentStatus(ctx context.Context, bookingID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE test_ride_bookings SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, bookingID)
	return err
}
