package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/service"
	"ev-commerce/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers.
type Handler struct {
	orders   *service.OrderService
	bookings *service.BookingService
	payments *service.PaymentService
	webhooks *service.WebhookReconciler
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	orders *service.OrderService,
	bookings *service.BookingService,
	payments *service.PaymentService,
	webhooks *service.WebhookReconciler,
) *Handler {
	return &Handler{
		orders:   orders,
		bookings: bookings,
		payments: payments,
		webhooks: webhooks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The gateway signs webhook deliveries itself; no user context.
	router.POST("/webhooks/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(authContext())
	{
		v1.POST("/orders", h.checkout)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings/:id", h.getBooking)
		v1.PATCH("/bookings/:id/status", h.updateBookingStatus)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)

		v1.POST("/payments/verify", h.verifyPayment)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID, _ := currentUser(c)
	req.UserID = userID

	resp, err := h.orders.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type updateOrderStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
	Reason         string `json:"reason"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	_, role := currentUser(c)
	order, err := h.orders.Transition(c.Request.Context(), &service.TransitionRequest{
		OrderID:        orderID,
		TargetStatus:   req.Status,
		ActorRole:      role,
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID, _ := currentUser(c)
	req.UserID = userID

	resp, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getBooking(c *gin.Context) {
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

type updateBookingStatusRequest struct {
	Status        string `json:"status" binding:"required"`
	ConfirmedDate string `json:"confirmed_date"`
	ConfirmedTime string `json:"confirmed_time"`
	Reason        string `json:"reason"`
	BypassPayment bool   `json:"bypass_payment"`
}

func (h *Handler) updateBookingStatus(c *gin.Context) {
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	_, role := currentUser(c)
	booking, err := h.bookings.UpdateStatus(c.Request.Context(), &service.BookingUpdateRequest{
		BookingID:     bookingID,
		TargetStatus:  req.Status,
		ActorRole:     role,
		ConfirmedDate: req.ConfirmedDate,
		ConfirmedTime: req.ConfirmedTime,
		Reason:        req.Reason,
		BypassPayment: req.BypassPayment,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelBooking(c *gin.Context) {
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	var req cancelBookingRequest
	_ = c.ShouldBindJSON(&req)

	userID, _ := currentUser(c)
	booking, err := h.bookings.CancelByCustomer(c.Request.Context(), bookingID, userID, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.payments.VerifyPayment(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// paymentWebhook always acknowledges verified deliveries, even when the
// handler failed internally. Only a bad signature gets a rejection.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Gateway-Signature")
	if err := h.webhooks.Handle(c.Request.Context(), body, signature); err != nil {
		if apperr.IsSignature(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return
		}
		// Unreachable today; kept so a future handler contract change
		// cannot leak errors into the acknowledgement.
		h.logger.Error("Webhook handling returned unexpected error", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors to the HTTP taxonomy. Unexpected errors are
// logged with context and surfaced as a generic internal error.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperr.IsInvalidTransition(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case apperr.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case apperr.IsSignature(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		if gwErr, ok := apperr.AsGateway(err); ok {
			if gwErr.Transient {
				c.JSON(http.StatusBadGateway, gin.H{
					"error": "payment gateway unavailable, safe to retry",
				})
			} else {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": gwErr.Description,
					"code":  gwErr.Code,
				})
			}
			return
		}
		h.logger.Error("Unhandled error",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
