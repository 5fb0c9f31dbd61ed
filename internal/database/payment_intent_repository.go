package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/models"
)

// PaymentIntentRepository handles payment intent persistence
type PaymentIntentRepository struct {
	db DB
}

// NewPaymentIntentRepository creates a new payment intent repository
func NewPaymentIntentRepository(db DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

const intentColumns = `id, reservation_id, reservation_ids, profile_id, order_id,
	gateway_link_id, gateway_order_id, gateway_payment_id, link_url,
	amount, currency, status, metadata, created_at, updated_at, finalized_at`

// ============================================================================
// INTENT CRUD
// ============================================================================

// Create inserts a new pending intent
func (r *PaymentIntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			id, reservation_id, reservation_ids, profile_id, order_id,
			gateway_link_id, gateway_order_id, link_url,
			amount, currency, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.UpdatedAt = intent.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		intent.ID, intent.ReservationID, intent.ReservationIDs, intent.ProfileID, intent.OrderID,
		intent.GatewayLinkID, intent.GatewayOrderID, intent.LinkURL,
		intent.Amount, intent.Currency, intent.Status, intent.Metadata, intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// GetByID returns an intent by id, or nil if absent
func (r *PaymentIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// FindByOrderReference returns the intent whose gateway order id or own order id matches ref
func (r *PaymentIntentRepository) FindByOrderReference(ctx context.Context, ref string) (*models.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE gateway_order_id = $1 OR order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, ref)
}

// ListPendingOlderThan returns pending intents created before cutoff, oldest first
func (r *PaymentIntentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	var intents []models.PaymentIntent
	if err := r.db.SelectContext(ctx, &intents, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	return intents, nil
}

// CancelOrphanedReservations cancels pending reservations created before
// cutoff that no pending intent covers. Such rows are left behind when the
// process stops between committing a booking and recording its intent.
func (r *PaymentIntentRepository) CancelOrphanedReservations(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		UPDATE reservations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id IN (
			SELECT r.id
			FROM reservations r
			WHERE r.status = 'pending' AND r.created_at < $1
			  AND NOT EXISTS (
				SELECT 1 FROM payment_intents pi
				WHERE pi.status = 'pending' AND r.id = ANY(pi.reservation_ids)
			  )
			ORDER BY r.created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to cancel orphaned reservations: %w", err)
	}
	return ids, nil
}

func (r *PaymentIntentRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.GetContext(ctx, &intent, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &intent, nil
}

// ============================================================================
// STATE TRANSITIONS
// ============================================================================

// Finalize moves a pending intent to a final status and flips its pending
// reservations accordingly, atomically. When the intent is already final it
// is returned unchanged with applied=false.
func (r *PaymentIntentRepository) Finalize(
	ctx context.Context,
	intentID uuid.UUID,
	status models.PaymentIntentStatus,
	gatewayPaymentID string,
) (intent *models.PaymentIntent, applied bool, err error) {
	if !status.IsFinal() {
		return nil, false, fmt.Errorf("cannot finalize intent to %s", status)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Lock the intent row
	var current models.PaymentIntent
	err = tx.GetContext(ctx, &current, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, intentID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock payment intent: %w", err)
	}
	if current.Status.IsFinal() {
		return &current, false, nil
	}

	// 2. Transition the intent
	var paymentID *string
	if gatewayPaymentID != "" {
		paymentID = &gatewayPaymentID
	}
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, gateway_payment_id = COALESCE($3, gateway_payment_id),
		    finalized_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'`,
		intentID, status, paymentID, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update payment intent: %w", err)
	}

	// 3. Flip the reservations it paid for
	_, err = tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = $2, updated_at = $3
		WHERE id = ANY($1::uuid[]) AND status = 'pending'`,
		current.ReservationIDs, status.ReservationOutcome(), now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update reservations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	current.Status = status
	if paymentID != nil {
		current.GatewayPaymentID = paymentID
	}
	current.FinalizedAt = &now
	current.UpdatedAt = now
	return &current, true, nil
}
