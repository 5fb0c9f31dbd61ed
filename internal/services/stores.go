package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/models"
)

// CatalogStore provides locations and slot templates. The engine never writes to it.
type CatalogStore interface {
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	ActiveLocations(ctx context.Context) ([]models.Location, error)
	ActiveSlotTemplates(ctx context.Context) ([]models.TimeSlotTemplate, error)
}

// ReservationStore reads reservations and runs booking writes in one transaction
type ReservationStore interface {
	ListActiveByLocationDates(ctx context.Context, locationID uuid.UUID, dates []models.Date) ([]models.Reservation, error)
	ListDetails(ctx context.Context, filter models.ReservationFilter) ([]models.ReservationDetail, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*models.ReservationDetail, error)
	HasActiveReservation(ctx context.Context, locationID uuid.UUID, date models.Date, createdBy uuid.UUID) (bool, error)
	DeletePending(ctx context.Context, ids []uuid.UUID) (int64, error)
	WithinTx(ctx context.Context, fn func(tx database.ReservationTx) error) error
}

// PaymentIntentStore persists payment intents
type PaymentIntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByOrderReference(ctx context.Context, ref string) (*models.PaymentIntent, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	Finalize(ctx context.Context, intentID uuid.UUID, status models.PaymentIntentStatus, gatewayPaymentID string) (*models.PaymentIntent, bool, error)
	CancelOrphanedReservations(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// PaymentAuditLogger records payment audit entries
type PaymentAuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

var (
	_ CatalogStore       = (*database.CatalogRepository)(nil)
	_ ReservationStore   = (*database.ReservationRepository)(nil)
	_ PaymentIntentStore = (*database.PaymentIntentRepository)(nil)
	_ PaymentAuditLogger = (*database.PaymentAuditRepository)(nil)
)
