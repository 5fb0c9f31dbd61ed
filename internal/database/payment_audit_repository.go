package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry.
// A failure is logged loudly; payment events must leave a trace somewhere.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, intent_id, order_id, gateway_payment_id,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, payload, error_message, is_duplicate,
			ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.IntentID, audit.OrderID, audit.GatewayPaymentID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.Payload, audit.ErrorMessage, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"audit_id":   audit.ID,
			"event_type": audit.EventType,
			"intent_id":  audit.IntentID,
			"error":      err.Error(),
		}).Error("CRITICAL: Failed to write payment audit log")
		return fmt.Errorf("failed to write payment audit: %w", err)
	}

	return nil
}

// ListByIntent returns the audit trail of an intent, oldest first
func (r *PaymentAuditRepository) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.PaymentAudit, error) {
	query := `
		SELECT id, intent_id, order_id, gateway_payment_id,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, payload, error_message, is_duplicate,
			ip_address, user_agent, created_at
		FROM payment_audits
		WHERE intent_id = $1
		ORDER BY created_at ASC`

	var audits []models.PaymentAudit
	if err := r.db.SelectContext(ctx, &audits, query, intentID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
