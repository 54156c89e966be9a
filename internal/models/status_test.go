package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOrder(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusProcessing, true},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, true},

		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusProcessing, false},
		{OrderStatusConfirmed, OrderStatusDelivered, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusDelivered, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionOrder(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestCanTransitionBooking(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusCompleted, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},

		{BookingStatusPending, BookingStatusCompleted, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionBooking(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestRoleMayDriveOrder(t *testing.T) {
	// Admin drives anything, including cancellation.
	assert.True(t, RoleMayDriveOrder(RoleAdmin, OrderStatusCancelled))
	assert.True(t, RoleMayDriveOrder(RoleAdmin, OrderStatusConfirmed))

	// Dealers handle fulfilment only.
	assert.True(t, RoleMayDriveOrder(RoleDealer, OrderStatusProcessing))
	assert.True(t, RoleMayDriveOrder(RoleDealer, OrderStatusShipped))
	assert.True(t, RoleMayDriveOrder(RoleDealer, OrderStatusDelivered))
	assert.False(t, RoleMayDriveOrder(RoleDealer, OrderStatusCancelled))
	assert.False(t, RoleMayDriveOrder(RoleDealer, OrderStatusConfirmed))

	// Customers never drive order status directly.
	assert.False(t, RoleMayDriveOrder(RoleCustomer, OrderStatusProcessing))
	assert.False(t, RoleMayDriveOrder(RoleCustomer, OrderStatusCancelled))
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusTerminal(OrderStatusDelivered))
	assert.True(t, OrderStatusTerminal(OrderStatusCancelled))
	assert.False(t, OrderStatusTerminal(OrderStatusPending))
	assert.False(t, OrderStatusTerminal(OrderStatusShipped))
}

func TestValidStatuses(t *testing.T) {
	assert.True(t, ValidOrderStatus(OrderStatusPending))
	assert.False(t, ValidOrderStatus("returned"))
	assert.True(t, ValidBookingStatus(BookingStatusCompleted))
	assert.False(t, ValidBookingStatus("no_show"))
}

func TestScheduledAtPrefersConfirmedSlot(t *testing.T) {
	b := &TestRideBooking{RideDate: "2026-03-15", RideTime: "14:00"}

	at, err := b.ScheduledAt()
	assert.NoError(t, err)
	assert.Equal(t, "2026-03-15 14:00", at.Format("2006-01-02 15:04"))

	b.ConfirmedDate.String = "2026-03-16"
	b.ConfirmedDate.Valid = true
	b.ConfirmedTime.String = "09:30"
	b.ConfirmedTime.Valid = true

	at, err = b.ScheduledAt()
	assert.NoError(t, err)
	assert.Equal(t, "2026-03-16 09:30", at.Format("2006-01-02 15:04"))
}
