package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/middleware"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/internal/services"
)

// PaymentService is the payment gate surface the HTTP layer needs
type PaymentService interface {
	OnPaymentEvent(ctx context.Context, event models.PaymentEvent, source models.PaymentEventSource) error
	CancelIntent(ctx context.Context, intentID uuid.UUID, actor models.Actor) error
}

// PaymentHandler handles gateway callbacks and intent cancellation
type PaymentHandler struct {
	payments PaymentService
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentService, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// Webhook applies a gateway confirmation event. It always answers 200 so the
// gateway does not retry; failures are logged and audited instead.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var event models.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.WithError(err).Warn("Failed to parse webhook payload")
		c.JSON(http.StatusOK, gin.H{"error": "invalid webhook payload", "acknowledged": true})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"gateway_order_id":   event.GatewayOrderID,
		"gateway_payment_id": event.GatewayPaymentID,
		"succeeded":          event.Succeeded,
	}).Info("Payment webhook received")

	err := h.payments.OnPaymentEvent(withClient(c), event, models.PaymentSourceWebhook)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "webhook processed successfully", "acknowledged": true})
	case errors.Is(err, services.ErrAmountMismatch):
		h.logger.WithField("gateway_order_id", event.GatewayOrderID).Warn("Webhook amount does not match intent")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "note": "amount mismatch", "acknowledged": true})
	case errors.Is(err, services.ErrNotFound):
		h.logger.WithField("gateway_order_id", event.GatewayOrderID).Warn("Intent not found for webhook - may be stale")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "note": "intent not found", "acknowledged": true})
	default:
		h.logger.WithError(err).Error("Failed to apply payment webhook")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "error": "processing failed", "acknowledged": true})
	}
}

// ============================================================================
// CANCEL INTENT - POST /api/v1/payments/intents/:id/cancel
// ============================================================================

// CancelIntent cancels a pending payment intent and releases its reservations
func (h *PaymentHandler) CancelIntent(c *gin.Context) {
	intentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid intent id")
		return
	}

	if err := h.payments.CancelIntent(withClient(c), intentID, middleware.ActorFromContext(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "payment intent cancelled",
		"intent_id": intentID,
	})
}
