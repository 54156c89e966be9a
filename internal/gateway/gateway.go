package gateway

import (
	"context"
)

// RemoteOrder is the gateway's order object returned by CreateOrder.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// RemotePayment is the gateway's payment object.
type RemotePayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// RemoteRefund is the gateway's refund object returned by Refund.
type RemoteRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Gateway is the payment provider contract the core depends on. The HTTP
// client implements it for production; tests substitute a fake.
type Gateway interface {
	// CreateOrder creates a remote payment order. Notes travel with the
	// order and come back on webhooks, linking them to the business entity.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*RemoteOrder, error)

	// FetchPayment fetches a payment by the gateway's payment id.
	FetchPayment(ctx context.Context, paymentID string) (*RemotePayment, error)

	// Refund issues a refund against a captured payment.
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*RemoteRefund, error)

	// VerifyPaymentSignature checks the checkout callback signature
	// (HMAC over "orderID|paymentID") in constant time.
	VerifyPaymentSignature(orderID, paymentID, signature string) bool

	// VerifyWebhookSignature checks the webhook signature over the raw
	// request body in constant time.
	VerifyWebhookSignature(body []byte, signature string) bool
}
