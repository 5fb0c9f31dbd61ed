package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of audited payment event
type PaymentEventType string

const (
	PaymentEventLinkCreated    PaymentEventType = "link_created"
	PaymentEventLinkFailed     PaymentEventType = "link_failed"
	PaymentEventReceived       PaymentEventType = "event_received"
	PaymentEventSuccess        PaymentEventType = "payment_success"
	PaymentEventFailed         PaymentEventType = "payment_failed"
	PaymentEventCancelled      PaymentEventType = "payment_cancelled"
	PaymentEventDuplicate      PaymentEventType = "duplicate_event"
	PaymentEventStatusCheck    PaymentEventType = "status_check"
	PaymentEventCompensated    PaymentEventType = "reservations_compensated"
	PaymentEventAmountMismatch PaymentEventType = "amount_mismatch"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceWebhook PaymentEventSource = "webhook"
	PaymentSourceQueue   PaymentEventSource = "queue"
	PaymentSourcePoll    PaymentEventSource = "reconciliation"
	PaymentSourceUser    PaymentEventSource = "user"
	PaymentSourceSystem  PaymentEventSource = "system"
)

// PaymentAudit is an immutable audit log entry for a payment interaction
type PaymentAudit struct {
	ID               uuid.UUID          `json:"id" db:"id"`
	IntentID         *uuid.UUID         `json:"intent_id,omitempty" db:"intent_id"`
	OrderID          *string            `json:"order_id,omitempty" db:"order_id"`
	GatewayPaymentID *string            `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	EventType        PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource      PaymentEventSource `json:"event_source" db:"event_source"`
	ExpectedAmount   *int64             `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount   *int64             `json:"received_amount,omitempty" db:"received_amount"`
	Currency         *string            `json:"currency,omitempty" db:"currency"`
	AmountsMatch     *bool              `json:"amounts_match,omitempty" db:"amounts_match"`
	PaymentStatus    *string            `json:"payment_status,omitempty" db:"payment_status"`
	Payload          JSONB              `json:"payload,omitempty" db:"payload"`
	ErrorMessage     *string            `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate      bool               `json:"is_duplicate" db:"is_duplicate"`
	IPAddress        *string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        *string            `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetIntent sets the intent the event belongs to
func (pa *PaymentAudit) SetIntent(intent *PaymentIntent) *PaymentAudit {
	if intent == nil {
		return pa
	}
	pa.IntentID = &intent.ID
	pa.OrderID = &intent.OrderID
	return pa
}

// SetOrderID sets our order reference
func (pa *PaymentAudit) SetOrderID(orderID string) *PaymentAudit {
	pa.OrderID = &orderID
	return pa
}

// SetGatewayPaymentID sets the gateway's payment reference
func (pa *PaymentAudit) SetGatewayPaymentID(id string) *PaymentAudit {
	if id != "" {
		pa.GatewayPaymentID = &id
	}
	return pa
}

// SetAmounts records both amounts and returns whether they match.
// Amounts are minor units, so the comparison is exact.
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetExpectedAmount records the amount we asked the gateway for
func (pa *PaymentAudit) SetExpectedAmount(amount int64, currency string) *PaymentAudit {
	pa.ExpectedAmount = &amount
	pa.Currency = &currency
	return pa
}

// SetPaymentStatus sets the status reported by the gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetPayload attaches structured details
func (pa *PaymentAudit) SetPayload(payload JSONB) *PaymentAudit {
	pa.Payload = payload
	return pa
}

// MarkDuplicate flags the entry as a replayed event
func (pa *PaymentAudit) MarkDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

// SetClient records the caller's network metadata
func (pa *PaymentAudit) SetClient(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}
