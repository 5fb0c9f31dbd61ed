package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/models"
)

// Validation error codes
const (
	CodeLocationNotFound = "location_not_found"
	CodeLocationInactive = "location_inactive"
	CodeDateInPast       = "date_in_past"
	CodeDateOutOfWindow  = "date_out_of_window"
	CodeSlotUnavailable  = "slot_unavailable"
	CodeMissingField     = "missing_field"
	CodeInvalidField     = "invalid_field"
	CodeNoTimeslot       = "no_timeslot_chosen"
	CodeInvalidRequest   = "invalid_request"
	CodeIntentFinal      = "intent_final"
)

// ReasonAlreadyBooked is the skip reason for a slot held by someone else
const ReasonAlreadyBooked = "already booked"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor may not act on a record
	ErrForbidden = errors.New("forbidden")
	// ErrAmountMismatch is returned when the gateway reports a different amount
	// than the intent asked for. The intent stays pending.
	ErrAmountMismatch = errors.New("payment amount does not match intent")
)

// ValidationError is bad input. It is always raised before any write.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports one slot that could not be written. It never aborts a batch.
type ConflictError struct {
	Date   models.Date `json:"date"`
	SlotID uuid.UUID   `json:"slot_id"`
	Reason string      `json:"reason"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s on %s: %s", e.SlotID, e.Date, e.Reason)
}

// StorageError is a transaction or connection failure. The unit was aborted and
// the whole request is safe to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Temporary marks storage failures as retryable for queue consumers
func (e *StorageError) Temporary() bool { return true }

// PaymentGatewayError is a failed payment link request. Reservations inserted for
// the request have already been removed when this is returned.
type PaymentGatewayError struct {
	Detail string
	Err    error
}

func (e *PaymentGatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway error: %s: %v", e.Detail, e.Err)
	}
	return "payment gateway error: " + e.Detail
}

func (e *PaymentGatewayError) Unwrap() error { return e.Err }

// DuplicateEventError marks a confirmation event for an intent that is already final.
// It is logged and audited, never returned to the event source.
type DuplicateEventError struct {
	IntentID uuid.UUID
	Status   models.PaymentIntentStatus
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("payment intent %s already %s", e.IntentID, e.Status)
}

func storageErr(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
