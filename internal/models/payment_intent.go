package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntentStatus represents the state of an outstanding or resolved payment request
type PaymentIntentStatus string

const (
	PaymentIntentPending   PaymentIntentStatus = "pending"   // link issued, awaiting gateway event
	PaymentIntentCompleted PaymentIntentStatus = "completed" // gateway reported success
	PaymentIntentFailed    PaymentIntentStatus = "failed"    // gateway reported failure
	PaymentIntentCancelled PaymentIntentStatus = "cancelled" // cancelled by user, admin or timeout
)

// IsFinal reports whether the intent can no longer change state
func (s PaymentIntentStatus) IsFinal() bool {
	return s != PaymentIntentPending
}

// ReservationOutcome maps a final intent status to the status its reservations take
func (s PaymentIntentStatus) ReservationOutcome() ReservationStatus {
	if s == PaymentIntentCompleted {
		return ReservationStatusConfirmed
	}
	return ReservationStatusCancelled
}

// PaymentIntent is the engine's record of a payment request issued to the gateway
type PaymentIntent struct {
	ID               uuid.UUID           `json:"id" db:"id"`
	ReservationID    *uuid.UUID          `json:"reservation_id,omitempty" db:"reservation_id"` // lead reservation
	ReservationIDs   UUIDArray           `json:"reservation_ids" db:"reservation_ids"`
	ProfileID        *uuid.UUID          `json:"profile_id,omitempty" db:"profile_id"`
	OrderID          string              `json:"order_id" db:"order_id"`
	GatewayLinkID    string              `json:"gateway_link_id" db:"gateway_link_id"`
	GatewayOrderID   string              `json:"gateway_order_id" db:"gateway_order_id"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	LinkURL          string              `json:"link_url" db:"link_url"`
	Amount           int64               `json:"amount" db:"amount"` // minor units
	Currency         string              `json:"currency" db:"currency"`
	Status           PaymentIntentStatus `json:"status" db:"status"`
	Metadata         JSONB               `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
	FinalizedAt      *time.Time          `json:"finalized_at,omitempty" db:"finalized_at"`
}

// PaymentLink is what a caller needs to send the customer to the gateway
type PaymentLink struct {
	IntentID uuid.UUID `json:"intent_id"`
	OrderID  string    `json:"order_id"`
	LinkURL  string    `json:"link_url"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
}

// PaymentEvent is a confirmation event delivered by the gateway (webhook, queue or poll)
type PaymentEvent struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	Succeeded        bool   `json:"succeeded"`
	Amount           string `json:"amount,omitempty"`   // decimal string, checked against the intent when present
	Currency         string `json:"currency,omitempty"` // defaults to the intent's currency
}
