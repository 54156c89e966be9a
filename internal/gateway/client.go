package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/util"

	"go.uber.org/zap"
)

// Client is a JSON-over-HTTP payment gateway client authenticated with a
// key id/secret pair.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient creates a gateway client.
func NewClient(baseURL, keyID, keySecret, webhookSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        util.GetLogger(),
	}
}

type gatewayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a remote payment order.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*RemoteOrder, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds())
	}()

	payload := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}

	var order RemoteOrder
	if err := c.post(ctx, "/v1/orders", payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchPayment fetches a payment by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*RemotePayment, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("fetch_payment").Observe(time.Since(start).Seconds())
	}()

	var payment RemotePayment
	if err := c.get(ctx, "/v1/payments/"+paymentID, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Refund issues a refund against a captured payment.
func (c *Client) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*RemoteRefund, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	}()

	payload := map[string]interface{}{
		"amount": amount,
		"notes":  notes,
	}

	var refund RemoteRefund
	if err := c.post(ctx, "/v1/payments/"+paymentID+"/refund", payload, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// VerifyPaymentSignature checks the checkout callback signature in constant
// time. The signed message is "orderID|paymentID".
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return verifyHMAC([]byte(orderID+"|"+paymentID), signature, c.keySecret)
}

// VerifyWebhookSignature checks the webhook signature over the raw body in
// constant time.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(body, signature, c.webhookSecret)
}

// verifyHMAC compares a hex HMAC-SHA256 of the message against the supplied
// signature using hmac.Equal to resist timing attacks.
func verifyHMAC(message []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayment produces the payment callback signature. Exposed for tests.
func SignPayment(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWebhook produces the webhook body signature. Exposed for tests.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.GatewayError{
			Description: err.Error(),
			Transient:   true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.GatewayError{
			StatusCode:  resp.StatusCode,
			Description: err.Error(),
			Transient:   true,
		}
	}

	if resp.StatusCode >= 500 {
		c.logger.Warn("Gateway returned server error",
			zap.Int("status", resp.StatusCode),
			zap.String("path", req.URL.Path))
		return &apperr.GatewayError{
			StatusCode:  resp.StatusCode,
			Description: string(respBody),
			Transient:   true,
		}
	}

	if resp.StatusCode >= 400 {
		var gwErr gatewayErrorBody
		_ = json.Unmarshal(respBody, &gwErr)
		return &apperr.GatewayError{
			StatusCode:  resp.StatusCode,
			Code:        gwErr.Error.Code,
			Description: gwErr.Error.Description,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
