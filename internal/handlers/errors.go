package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/services"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps a service error to an HTTP status and error code
func statusFor(err error) (int, ErrorResponse) {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		storageErr    *services.StorageError
		gatewayErr    *services.PaymentGatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		switch validationErr.Code {
		case services.CodeDateInPast, services.CodeDateOutOfWindow:
			status = http.StatusUnprocessableEntity
		case services.CodeIntentFinal:
			status = http.StatusConflict
		}
		return status, ErrorResponse{Error: validationErr.Code, Message: validationErr.Message, Field: validationErr.Field}
	case errors.As(err, &conflictErr):
		return http.StatusConflict, ErrorResponse{Error: "slot_conflict", Message: conflictErr.Error()}
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Resource not found"}
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "You don't have permission to access this resource"}
	case errors.As(err, &storageErr):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "storage_unavailable", Message: "The request could not be completed, please retry"}
	case errors.As(err, &gatewayErr):
		message := "Payment could not be started"
		if gatewayErr.Detail != "" {
			message += ": " + gatewayErr.Detail
		}
		return http.StatusBadGateway, ErrorResponse{Error: "payment_gateway_error", Message: message}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "An unexpected error occurred"}
	}
}

// respondError writes the mapped error response. Server-side failures are logged.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"status": status,
			"error":  err.Error(),
		}).Error("Request failed")
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message})
}
