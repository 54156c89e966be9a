package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ev-commerce/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentSignatureRoundTrip(t *testing.T) {
	c := NewClient("http://unused", "key_id", "key_secret", "wh_secret")

	sig := SignPayment("gwo_001", "pay_001", "key_secret")
	assert.True(t, c.VerifyPaymentSignature("gwo_001", "pay_001", sig))

	assert.False(t, c.VerifyPaymentSignature("gwo_001", "pay_002", sig), "different payment")
	assert.False(t, c.VerifyPaymentSignature("gwo_002", "pay_001", sig), "different order")
	assert.False(t, c.VerifyPaymentSignature("gwo_001", "pay_001", "forged"))
	assert.False(t, c.VerifyPaymentSignature("gwo_001", "pay_001", ""))
}

func TestWebhookSignatureRoundTrip(t *testing.T) {
	c := NewClient("http://unused", "key_id", "key_secret", "wh_secret")
	body := []byte(`{"id":"evt_001","event":"payment.captured"}`)

	sig := SignWebhook(body, "wh_secret")
	assert.True(t, c.VerifyWebhookSignature(body, sig))
	assert.False(t, c.VerifyWebhookSignature([]byte(`{"tampered":true}`), sig))
	assert.False(t, c.VerifyWebhookSignature(body, SignWebhook(body, "other_secret")))
}

func TestCreateOrderSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gwo_001","amount":200000,"currency":"INR","receipt":"order_1","status":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key_id", "key_secret", "wh_secret")
	order, err := c.CreateOrder(context.Background(), 200000, "INR", "order_1",
		map[string]string{"entity_type": "order", "entity_id": "1"})
	require.NoError(t, err)

	assert.Equal(t, "gwo_001", order.ID)
	assert.Equal(t, int64(200000), order.Amount)
	assert.Equal(t, "created", order.Status)
}

func TestCreateOrderMapsServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key_id", "key_secret", "wh_secret")
	_, err := c.CreateOrder(context.Background(), 1000, "INR", "order_1", nil)
	require.Error(t, err)

	gwErr, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.True(t, gwErr.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
}

func TestCreateOrderMapsClientErrorVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount must be at least 100"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key_id", "key_secret", "wh_secret")
	_, err := c.CreateOrder(context.Background(), 1, "INR", "order_1", nil)
	require.Error(t, err)

	gwErr, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.False(t, gwErr.Transient)
	assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	assert.Equal(t, "amount must be at least 100", gwErr.Description)
}

func TestCreateOrderNetworkErrorTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "key_id", "key_secret", "wh_secret")
	_, err := c.CreateOrder(context.Background(), 1000, "INR", "order_1", nil)
	require.Error(t, err)

	gwErr, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.True(t, gwErr.Transient)
}

func TestRefundPostsToPaymentPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_001/refund", r.URL.Path)
		w.Write([]byte(`{"id":"rfnd_001","payment_id":"pay_001","amount":50000,"status":"processing"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key_id", "key_secret", "wh_secret")
	refund, err := c.Refund(context.Background(), "pay_001", 50000, map[string]string{"reason": "damaged"})
	require.NoError(t, err)

	assert.Equal(t, "rfnd_001", refund.ID)
	assert.Equal(t, int64(50000), refund.Amount)
}
