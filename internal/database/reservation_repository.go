package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/slotworks/booking-engine/internal/models"
)

// ErrSlotTaken is returned when a write would create a second active
// reservation for the same (location, slot, date)
var ErrSlotTaken = errors.New("slot already booked")

const uniqueViolation = "23505"

// isUniqueViolation recognises unique violations from both supported drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

const reservationColumns = `r.id, r.location_id, r.time_slot_id, r.date,
	r.customer_name, r.customer_email, r.customer_phone,
	r.created_by, r.status, r.notes, r.created_at, r.updated_at`

// ReservationTx is the write side of a booking unit. Every method runs inside
// one database transaction.
type ReservationTx interface {
	// DeleteOwned deletes the given reservations. A nil owner deletes regardless of creator.
	DeleteOwned(ctx context.Context, ids []uuid.UUID, owner *uuid.UUID) ([]uuid.UUID, error)
	// LockByIDs loads and row-locks reservations by id
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Reservation, error)
	// LockActiveSlot loads and row-locks the active reservation holding key, if any
	LockActiveSlot(ctx context.Context, key models.SlotKey) (*models.Reservation, error)
	// Insert returns ErrSlotTaken when the slot is already held
	Insert(ctx context.Context, r *models.Reservation) error
	// Update returns ErrSlotTaken when a moved reservation lands on a held slot
	Update(ctx context.Context, r *models.Reservation) error
}

// ReservationRepository handles reservation persistence
type ReservationRepository struct {
	db DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// ============================================================================
// READS
// ============================================================================

// ListActiveByLocationDates returns pending and confirmed reservations at a location on the given dates
func (r *ReservationRepository) ListActiveByLocationDates(ctx context.Context, locationID uuid.UUID, dates []models.Date) ([]models.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations r
		WHERE r.location_id = $1
		  AND r.date = ANY($2::date[])
		  AND r.status IN ('pending', 'confirmed')
		ORDER BY r.date, r.time_slot_id`

	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, locationID, models.DateArray(dates)); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

// ListDetails returns reservations joined with location and slot data, newest date first
func (r *ReservationRepository) ListDetails(ctx context.Context, filter models.ReservationFilter) ([]models.ReservationDetail, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CreatedBy != nil {
		conditions = append(conditions, "r.created_by = "+arg(*filter.CreatedBy))
	}
	if filter.LocationID != nil {
		conditions = append(conditions, "r.location_id = "+arg(*filter.LocationID))
	}
	if filter.From != nil {
		conditions = append(conditions, "r.date >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "r.date <= "+arg(*filter.To))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, "r.status = ANY("+arg(pq.Array(statuses))+")")
	}

	query := `
		SELECT ` + reservationColumns + `,
			l.name AS location_name, t.start_time, t.end_time
		FROM reservations r
		JOIN locations l ON l.id = r.location_id
		JOIN time_slots t ON t.id = r.time_slot_id`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	// no LIMIT here: a row limit could cut a group in half
	query += "\n\t\tORDER BY r.date DESC, t.start_time ASC"

	var details []models.ReservationDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reservation details: %w", err)
	}
	return details, nil
}

// GetDetail returns one reservation with its location and slot data, or nil if absent
func (r *ReservationRepository) GetDetail(ctx context.Context, id uuid.UUID) (*models.ReservationDetail, error) {
	query := `
		SELECT ` + reservationColumns + `,
			l.name AS location_name, t.start_time, t.end_time
		FROM reservations r
		JOIN locations l ON l.id = r.location_id
		JOIN time_slots t ON t.id = r.time_slot_id
		WHERE r.id = $1`

	var detail models.ReservationDetail
	err := r.db.GetContext(ctx, &detail, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &detail, nil
}

// HasActiveReservation reports whether createdBy holds any active reservation at (location, date)
func (r *ReservationRepository) HasActiveReservation(ctx context.Context, locationID uuid.UUID, date models.Date, createdBy uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE location_id = $1 AND date = $2 AND created_by = $3
			  AND status IN ('pending', 'confirmed')
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, locationID, date, createdBy); err != nil {
		return false, fmt.Errorf("failed to check existing reservation: %w", err)
	}
	return exists, nil
}

// ============================================================================
// WRITES
// ============================================================================

// DeletePending removes pending reservations by id. Used to compensate a
// failed payment link; confirmed rows are never touched.
func (r *ReservationRepository) DeletePending(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `DELETE FROM reservations WHERE id = ANY($1::uuid[]) AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, models.UUIDArray(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending reservations: %w", err)
	}
	return result.RowsAffected()
}

// WithinTx runs fn in a transaction, committing if fn returns nil
func (r *ReservationRepository) WithinTx(ctx context.Context, fn func(tx ReservationTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&reservationTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type reservationTx struct {
	tx sqlxTx
}

// sqlxTx is the subset of *sqlx.Tx used by reservationTx
type sqlxTx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (t *reservationTx) DeleteOwned(ctx context.Context, ids []uuid.UUID, owner *uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		deleted []uuid.UUID
		err     error
	)
	if owner == nil {
		err = t.tx.SelectContext(ctx, &deleted,
			`DELETE FROM reservations WHERE id = ANY($1::uuid[]) RETURNING id`,
			models.UUIDArray(ids))
	} else {
		err = t.tx.SelectContext(ctx, &deleted,
			`DELETE FROM reservations WHERE id = ANY($1::uuid[]) AND created_by = $2 RETURNING id`,
			models.UUIDArray(ids), *owner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete reservations: %w", err)
	}
	return deleted, nil
}

func (t *reservationTx) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations r
		WHERE r.id = ANY($1::uuid[])
		ORDER BY r.id
		FOR UPDATE`

	var reservations []models.Reservation
	if err := t.tx.SelectContext(ctx, &reservations, query, models.UUIDArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to lock reservations: %w", err)
	}
	return reservations, nil
}

func (t *reservationTx) LockActiveSlot(ctx context.Context, key models.SlotKey) (*models.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations r
		WHERE r.location_id = $1 AND r.time_slot_id = $2 AND r.date = $3
		  AND r.status IN ('pending', 'confirmed')
		FOR UPDATE`

	var reservation models.Reservation
	err := t.tx.GetContext(ctx, &reservation, query, key.LocationID, key.TimeSlotID, key.Date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock slot: %w", err)
	}
	return &reservation, nil
}

func (t *reservationTx) Insert(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (
			id, location_id, time_slot_id, date,
			customer_name, customer_email, customer_phone,
			created_by, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	return t.withSavepoint(ctx, func() error {
		_, err := t.tx.ExecContext(ctx, query,
			r.ID, r.LocationID, r.TimeSlotID, r.Date,
			r.Name, r.Email, r.Phone,
			r.CreatedBy, r.Status, r.Notes,
		)
		return err
	})
}

func (t *reservationTx) Update(ctx context.Context, r *models.Reservation) error {
	query := `
		UPDATE reservations SET
			location_id = $2, time_slot_id = $3, date = $4,
			customer_name = $5, customer_email = $6, customer_phone = $7,
			notes = $8, updated_at = NOW()
		WHERE id = $1`

	return t.withSavepoint(ctx, func() error {
		_, err := t.tx.ExecContext(ctx, query,
			r.ID, r.LocationID, r.TimeSlotID, r.Date,
			r.Name, r.Email, r.Phone, r.Notes,
		)
		return err
	})
}

// withSavepoint isolates one slot write so a unique violation only undoes that write
func (t *reservationTx) withSavepoint(ctx context.Context, write func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT slot_write"); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := write(); err != nil {
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to write reservation: %w", err)
		}
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT slot_write"); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
		}
		return ErrSlotTaken
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT slot_write"); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}
