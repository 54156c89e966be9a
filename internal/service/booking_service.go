package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/gateway"
	"ev-commerce/internal/models"
	"ev-commerce/internal/store"
	"ev-commerce/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingStore is the persistence the booking service needs.
type BookingStore interface {
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
	CreateBooking(ctx context.Context, b *models.TestRideBooking) error
	GetBookingByID(ctx context.Context, id int64) (*models.TestRideBooking, error)
	HasActiveBooking(ctx context.Context, userID, vehicleID int64, rideDate, rideTime string) (bool, error)
	CountBookingsCreatedToday(ctx context.Context, userID int64) (int, error)
	AttachBookingGatewayOrderID(ctx context.Context, bookingID int64, gatewayOrderID string) error
	CreateGatewayOrder(ctx context.Context, g *models.GatewayOrder) error
	ConfirmBooking(ctx context.Context, bookingID int64, confirmedDate, confirmedTime string) (bool, error)
	SetBookingStatus(ctx context.Context, bookingID int64, from, to string) (bool, error)
	CancelBooking(ctx context.Context, bookingID int64, reason string) error
}

// BookingService drives test ride booking creation and its state machine.
type BookingService struct {
	store         BookingStore
	gw            gateway.Gateway
	guard         *IdempotencyGuard
	publisher     Publisher
	depositAmount int64
	dailyQuota    int
	cancelCutoff  time.Duration
	currency      string
	logger        *zap.Logger
	now           func() time.Time
}

// NewBookingService creates a new booking service.
func NewBookingService(
	st BookingStore,
	gw gateway.Gateway,
	guard *IdempotencyGuard,
	publisher Publisher,
	depositAmount int64,
	dailyQuota int,
	cancelCutoff time.Duration,
	currency string,
) *BookingService {
	return &BookingService{
		store:         st,
		gw:            gw,
		guard:         guard,
		publisher:     publisher,
		depositAmount: depositAmount,
		dailyQuota:    dailyQuota,
		cancelCutoff:  cancelCutoff,
		currency:      currency,
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

// CreateBookingRequest books a test ride slot.
type CreateBookingRequest struct {
	UserID    int64  `json:"-"`
	VehicleID int64  `json:"vehicle_id" binding:"required"`
	DealerID  int64  `json:"dealer_id"`
	RideDate  string `json:"ride_date" binding:"required"`
	RideTime  string `json:"ride_time" binding:"required"`
	Contact   string `json:"contact" binding:"required"`
}

// CreateBookingResponse is the pending booking plus gateway handoff data.
type CreateBookingResponse struct {
	BookingID        int64  `json:"booking_id"`
	Status           string `json:"status"`
	ConfirmationCode string `json:"confirmation_code"`
	DepositAmount    int64  `json:"deposit_amount"`
	GatewayOrderID   string `json:"gateway_order_id"`
	Currency         string `json:"currency"`
}

// CreateBooking enforces the three creation guards, writes the booking row
// and opens a remote order for the deposit. Duplicate payloads within the
// dedupe window replay the first response.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking")
	defer span.End()

	key := s.guard.DeriveKey(req.UserID,
		"test_ride",
		fmt.Sprintf("%d", req.VehicleID),
		req.RideDate,
		req.RideTime,
		fmt.Sprintf("%d", req.DealerID))

	if prior, err := s.guard.Check(ctx, key); err != nil {
		return nil, err
	} else if prior != nil {
		return decodeBookingResponse(prior)
	}

	scheduled, err := time.Parse("2006-01-02 15:04", req.RideDate+" "+req.RideTime)
	if err != nil {
		return nil, apperr.Validation("ride_date", "expected date 2006-01-02 and time 15:04")
	}
	if scheduled.Before(s.now()) {
		util.BookingsRejectedTotal.WithLabelValues("past_slot").Inc()
		return nil, apperr.Validation("ride_date", "requested slot is in the past")
	}

	vehicle, err := s.store.GetVehicleByID(ctx, req.VehicleID)
	if err != nil {
		util.BookingsRejectedTotal.WithLabelValues("vehicle_not_found").Inc()
		return nil, err
	}
	if !vehicle.Active {
		util.BookingsRejectedTotal.WithLabelValues("vehicle_inactive").Inc()
		return nil, apperr.NotFound("vehicle", fmt.Sprintf("%d", req.VehicleID))
	}

	duplicate, err := s.store.HasActiveBooking(ctx, req.UserID, req.VehicleID, req.RideDate, req.RideTime)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate booking: %w", err)
	}
	if duplicate {
		util.BookingsRejectedTotal.WithLabelValues("duplicate_slot").Inc()
		return nil, apperr.Conflict("you already have a booking for this vehicle at this time, choose another time")
	}

	// Quota counts bookings created today, not the requested ride date.
	createdToday, err := s.store.CountBookingsCreatedToday(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily bookings: %w", err)
	}
	if createdToday >= s.dailyQuota {
		util.BookingsRejectedTotal.WithLabelValues("daily_quota").Inc()
		return nil, apperr.Conflict("daily booking limit reached, try tomorrow")
	}

	booking := &models.TestRideBooking{
		UserID:           req.UserID,
		VehicleID:        req.VehicleID,
		RideDate:         req.RideDate,
		RideTime:         req.RideTime,
		Status:           models.BookingStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		DepositAmount:    s.depositAmount,
		ConfirmationCode: newConfirmationCode(),
	}
	if req.DealerID != 0 {
		booking.DealerID.Int64 = req.DealerID
		booking.DealerID.Valid = true
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if store.IsUniqueViolation(err) {
			util.BookingsRejectedTotal.WithLabelValues("duplicate_slot").Inc()
			return nil, apperr.Conflict("you already have a booking for this vehicle at this time, choose another time")
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Test ride booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("confirmation_code", booking.ConfirmationCode))

	notes := map[string]string{
		"entity_type": string(models.EntityTestRide),
		"entity_id":   fmt.Sprintf("%d", booking.ID),
		"user_id":     fmt.Sprintf("%d", req.UserID),
		"contact":     req.Contact,
	}

	receipt := fmt.Sprintf("test_ride_%d", booking.ID)
	remote, err := s.gw.CreateOrder(ctx, s.depositAmount, s.currency, receipt, notes)
	if err != nil {
		// Pending row persists for retry or later expiry.
		return nil, err
	}

	notesJSON, _ := json.Marshal(notes)
	mirror := &models.GatewayOrder{
		ID:         remote.ID,
		Amount:     s.depositAmount,
		AmountDue:  s.depositAmount,
		Currency:   s.currency,
		Status:     models.GatewayOrderCreated,
		EntityType: models.EntityTestRide,
		EntityID:   booking.ID,
		Notes:      notesJSON,
	}
	if err := s.store.CreateGatewayOrder(ctx, mirror); err != nil {
		return nil, fmt.Errorf("failed to persist gateway order: %w", err)
	}

	if err := s.store.AttachBookingGatewayOrderID(ctx, booking.ID, remote.ID); err != nil {
		return nil, fmt.Errorf("failed to attach gateway order id: %w", err)
	}

	resp := &CreateBookingResponse{
		BookingID:        booking.ID,
		Status:           models.BookingStatusPending,
		ConfirmationCode: booking.ConfirmationCode,
		DepositAmount:    s.depositAmount,
		GatewayOrderID:   remote.ID,
		Currency:         s.currency,
	}

	respBytes, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	stored, err := s.guard.Store(ctx, key, respBytes)
	if err != nil {
		return nil, err
	}

	s.publisher.PublishBookingRequested(ctx, &models.BookingRequestedEvent{
		BookingID:        booking.ID,
		UserID:           booking.UserID,
		VehicleID:        booking.VehicleID,
		RideDate:         booking.RideDate,
		RideTime:         booking.RideTime,
		ConfirmationCode: booking.ConfirmationCode,
	})
	s.publisher.Notify(ctx, booking.UserID, "Test ride requested",
		fmt.Sprintf("Your test ride %s is awaiting the deposit payment.", booking.ConfirmationCode),
		"booking_created", nil)

	return decodeBookingResponse(stored)
}

func decodeBookingResponse(data []byte) (*CreateBookingResponse, error) {
	var resp CreateBookingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode stored booking response: %w", err)
	}
	return &resp, nil
}

func newConfirmationCode() string {
	return "TR-" + strings.ToUpper(uuid.New().String()[:8])
}

// BookingUpdateRequest carries a dealer/admin booking status change.
type BookingUpdateRequest struct {
	BookingID     int64
	TargetStatus  string
	ActorRole     models.Role
	ConfirmedDate string
	ConfirmedTime string
	Reason        string
	// BypassPayment allows confirming an unpaid booking, intended for
	// staff-assisted or free bookings only.
	BypassPayment bool
}

// UpdateStatus validates and applies a dealer-side booking transition.
func (s *BookingService) UpdateStatus(ctx context.Context, req *BookingUpdateRequest) (*models.TestRideBooking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.UpdateStatus")
	defer span.End()

	if req.ActorRole != models.RoleDealer && req.ActorRole != models.RoleAdmin {
		return nil, apperr.Forbidden(string(req.ActorRole), "update booking status")
	}
	if !models.ValidBookingStatus(req.TargetStatus) {
		return nil, apperr.Validation("status", "unknown booking status")
	}

	booking, err := s.store.GetBookingByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionBooking(booking.Status, req.TargetStatus) {
		return nil, apperr.InvalidTransition("booking", booking.Status, req.TargetStatus)
	}

	switch req.TargetStatus {
	case models.BookingStatusConfirmed:
		if req.ConfirmedDate == "" || req.ConfirmedTime == "" {
			return nil, apperr.Validation("confirmed_date", "confirmed date and time are required")
		}
		if booking.PaymentStatus != models.PaymentStatusPaid && !req.BypassPayment {
			return nil, apperr.Conflict("booking deposit is unpaid, confirmation requires payment")
		}
		applied, err := s.store.ConfirmBooking(ctx, booking.ID, req.ConfirmedDate, req.ConfirmedTime)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm booking: %w", err)
		}
		if !applied {
			return nil, apperr.InvalidTransition("booking", booking.Status, req.TargetStatus)
		}

	case models.BookingStatusCancelled:
		reason := req.Reason
		if reason == "" {
			reason = "rejected by dealer"
		}
		if err := s.store.CancelBooking(ctx, booking.ID, reason); err != nil {
			return nil, fmt.Errorf("failed to cancel booking: %w", err)
		}

	case models.BookingStatusCompleted:
		applied, err := s.store.SetBookingStatus(ctx, booking.ID, models.BookingStatusConfirmed, models.BookingStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("failed to complete booking: %w", err)
		}
		if !applied {
			return nil, apperr.InvalidTransition("booking", booking.Status, req.TargetStatus)
		}
	}

	s.logger.Info("Booking transitioned",
		zap.Int64("booking_id", booking.ID),
		zap.String("from", booking.Status),
		zap.String("to", req.TargetStatus))

	s.publisher.Notify(ctx, booking.UserID, "Test ride update",
		fmt.Sprintf("Your test ride %s is now %s.", booking.ConfirmationCode, req.TargetStatus),
		"booking_"+req.TargetStatus, nil)

	return s.store.GetBookingByID(ctx, booking.ID)
}

// CancelByCustomer cancels the customer's own booking, rejected inside the
// cutoff window before the scheduled slot.
func (s *BookingService) CancelByCustomer(ctx context.Context, bookingID, userID int64, reason string) (*models.TestRideBooking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CancelByCustomer")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, apperr.NotFound("booking", fmt.Sprintf("%d", bookingID))
	}
	if !models.CanTransitionBooking(booking.Status, models.BookingStatusCancelled) {
		return nil, apperr.InvalidTransition("booking", booking.Status, models.BookingStatusCancelled)
	}

	scheduled, err := booking.ScheduledAt()
	if err != nil {
		// A slot that cannot be parsed cannot be checked against the cutoff.
		s.logger.Error("Malformed booking slot, refusing self-service cancel",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
		return nil, apperr.Conflict("booking slot cannot be verified, contact support to cancel")
	}
	if scheduled.Sub(s.now()) < s.cancelCutoff {
		return nil, apperr.Conflict("bookings cannot be cancelled less than %d hours before the ride",
			int(s.cancelCutoff.Hours()))
	}

	if reason == "" {
		reason = "cancelled by customer"
	}
	if err := s.store.CancelBooking(ctx, booking.ID, reason); err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	return s.store.GetBookingByID(ctx, booking.ID)
}

// GetBooking retrieves a booking by ID.
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64) (*models.TestRideBooking, error) {
	return s.store.GetBookingByID(ctx, bookingID)
}
