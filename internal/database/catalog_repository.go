package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/models"
)

// CatalogRepository reads locations and time slot templates
type CatalogRepository struct {
	db DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const locationColumns = `id, name, description, capacity, price_per_30min, currency, is_active, created_at, updated_at`

const timeSlotColumns = `id, start_time, end_time, is_active, created_at`

// GetLocation returns a location by id, or nil if it does not exist
func (r *CatalogRepository) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`

	var location models.Location
	err := r.db.GetContext(ctx, &location, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &location, nil
}

// ActiveLocations returns all active locations ordered by name
func (r *CatalogRepository) ActiveLocations(ctx context.Context) ([]models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE is_active = TRUE ORDER BY name`

	var locations []models.Location
	if err := r.db.SelectContext(ctx, &locations, query); err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// ActiveSlotTemplates returns all active time slot templates ordered by start time
func (r *CatalogRepository) ActiveSlotTemplates(ctx context.Context) ([]models.TimeSlotTemplate, error) {
	query := `SELECT ` + timeSlotColumns + ` FROM time_slots WHERE is_active = TRUE ORDER BY start_time`

	var slots []models.TimeSlotTemplate
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("failed to list time slots: %w", err)
	}
	return slots, nil
}

// ============================================================================
// SEEDING
// ============================================================================

// UpsertLocation inserts a location by name, leaving an existing one untouched.
// Returns true when a row was created.
func (r *CatalogRepository) UpsertLocation(ctx context.Context, location *models.Location) (bool, error) {
	query := `
		INSERT INTO locations (id, name, description, capacity, price_per_30min, currency, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (name) DO NOTHING`

	if location.ID == uuid.Nil {
		location.ID = uuid.New()
	}
	result, err := r.db.ExecContext(ctx, query,
		location.ID, location.Name, location.Description, location.Capacity,
		location.PricePer30, location.Currency,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert location: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpsertTimeSlot inserts a time slot template by window, leaving an existing one untouched.
// Returns true when a row was created.
func (r *CatalogRepository) UpsertTimeSlot(ctx context.Context, slot *models.TimeSlotTemplate) (bool, error) {
	if err := slot.Validate(); err != nil {
		return false, err
	}
	query := `
		INSERT INTO time_slots (id, start_time, end_time, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (start_time, end_time) DO NOTHING`

	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	result, err := r.db.ExecContext(ctx, query, slot.ID, slot.StartTime, slot.EndTime)
	if err != nil {
		return false, fmt.Errorf("failed to upsert time slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
