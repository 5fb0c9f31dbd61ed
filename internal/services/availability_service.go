package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/models"
)

// MaxAvailabilityDates caps how many dates one availability query may span
const MaxAvailabilityDates = 92

// SlotState is the availability of one slot on one date as seen by a requester
type SlotState string

const (
	SlotFree        SlotState = "free"
	SlotHeldBySelf  SlotState = "held_by_self"
	SlotHeldByOther SlotState = "held_by_other"
)

// Availability maps date -> slot template id -> state
type Availability map[models.Date]map[uuid.UUID]SlotState

// AvailabilityService computes slot availability. It is a pure read; the
// booking write re-checks every slot under lock.
type AvailabilityService struct {
	catalog      CatalogStore
	reservations ReservationStore
	logger       *logrus.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(catalog CatalogStore, reservations ReservationStore, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{
		catalog:      catalog,
		reservations: reservations,
		logger:       logger,
	}
}

// ComputeAvailability reports every active slot template on every requested
// date as free, held by the requester or held by someone else. Anonymous
// requesters never match their own reservations.
func (s *AvailabilityService) ComputeAvailability(
	ctx context.Context,
	locationID uuid.UUID,
	dates []models.Date,
	requester models.Actor,
) (Availability, error) {
	ctx, span := tracer.Start(ctx, "availability.compute")
	defer span.End()

	dates = uniqueDates(dates)
	if len(dates) == 0 {
		return nil, newValidationError(CodeInvalidRequest, "dates", "at least one date is required")
	}
	if len(dates) > MaxAvailabilityDates {
		return nil, newValidationError(CodeInvalidRequest, "dates", "at most %d dates may be queried", MaxAvailabilityDates)
	}

	location, err := s.catalog.GetLocation(ctx, locationID)
	if err != nil {
		return nil, storageErr("get location", err)
	}
	if err := checkLocation(location); err != nil {
		return nil, err
	}

	templates, err := s.catalog.ActiveSlotTemplates(ctx)
	if err != nil {
		return nil, storageErr("list slot templates", err)
	}
	held, err := s.reservations.ListActiveByLocationDates(ctx, locationID, dates)
	if err != nil {
		return nil, storageErr("list reservations", err)
	}

	availability := make(Availability, len(dates))
	for _, d := range dates {
		slots := make(map[uuid.UUID]SlotState, len(templates))
		for _, t := range templates {
			slots[t.ID] = SlotFree
		}
		availability[d] = slots
	}

	for _, r := range held {
		slots, ok := availability[r.Date]
		if !ok {
			continue
		}
		if _, active := slots[r.TimeSlotID]; !active {
			continue
		}
		if r.OwnedBy(requester.UserID) {
			slots[r.TimeSlotID] = SlotHeldBySelf
		} else {
			slots[r.TimeSlotID] = SlotHeldByOther
		}
	}

	s.logger.WithFields(logrus.Fields{
		"location_id":  locationID,
		"dates":        len(dates),
		"reservations": len(held),
	}).Debug("Availability computed")

	return availability, nil
}

func checkLocation(location *models.Location) error {
	if location == nil {
		return newValidationError(CodeLocationNotFound, "location_id", "location does not exist")
	}
	if !location.IsActive {
		return newValidationError(CodeLocationInactive, "location_id", "location %s is not active", location.Name)
	}
	return nil
}

func uniqueDates(dates []models.Date) []models.Date {
	seen := make(map[models.Date]bool, len(dates))
	out := make([]models.Date, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	models.SortDates(out)
	return out
}
