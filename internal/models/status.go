package models

// Order statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses shared by orders and test ride bookings.
const (
	PaymentStatusPending       = "pending"
	PaymentStatusPaid          = "paid"
	PaymentStatusPartialRefund = "partial_refund"
	PaymentStatusRefunded      = "refunded"
	PaymentStatusFailed        = "failed"
)

// Test ride booking statuses.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
)

// orderTransitions is the allowed-successor set for order statuses.
// delivered and cancelled are terminal.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// bookingTransitions is the allowed-successor set for booking statuses.
var bookingTransitions = map[string][]string{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
	BookingStatusCancelled: {},
	BookingStatusCompleted: {},
}

// dealerOrderStatuses are the only order statuses a dealer may drive.
var dealerOrderStatuses = map[string]bool{
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
}

// CanTransitionOrder reports whether to is a valid successor of from.
func CanTransitionOrder(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionBooking reports whether to is a valid successor of from.
func CanTransitionBooking(from, to string) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RoleMayDriveOrder reports whether the role is allowed to request the
// target order status. Customers never drive order transitions directly.
func RoleMayDriveOrder(role Role, to string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleDealer:
		return dealerOrderStatuses[to]
	default:
		return false
	}
}

// OrderStatusTerminal reports whether the status admits no successors.
func OrderStatusTerminal(status string) bool {
	return len(orderTransitions[status]) == 0
}

// ValidOrderStatus reports whether the string names a known order status.
func ValidOrderStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok
}

// ValidBookingStatus reports whether the string names a known booking status.
func ValidBookingStatus(status string) bool {
	_, ok := bookingTransitions[status]
	return ok
}
