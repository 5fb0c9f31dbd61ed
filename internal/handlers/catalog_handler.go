package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/middleware"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/internal/services"
)

// AvailabilityComputer answers slot availability queries
type AvailabilityComputer interface {
	ComputeAvailability(ctx context.Context, locationID uuid.UUID, dates []models.Date, requester models.Actor) (services.Availability, error)
}

// CatalogHandler serves locations, slot templates and availability
type CatalogHandler struct {
	catalog      services.CatalogStore
	availability AvailabilityComputer
	logger       *logrus.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalog services.CatalogStore, availability AvailabilityComputer, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog:      catalog,
		availability: availability,
		logger:       logger,
	}
}

// ListLocations handles GET /api/v1/catalog/locations
func (h *CatalogHandler) ListLocations(c *gin.Context) {
	locations, err := h.catalog.ActiveLocations(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, &services.StorageError{Op: "list locations", Err: err})
		return
	}
	if locations == nil {
		locations = []models.Location{}
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations})
}

// ListTimeSlots handles GET /api/v1/catalog/time-slots
func (h *CatalogHandler) ListTimeSlots(c *gin.Context) {
	slots, err := h.catalog.ActiveSlotTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, &services.StorageError{Op: "list time slots", Err: err})
		return
	}
	if slots == nil {
		slots = []models.TimeSlotTemplate{}
	}
	c.JSON(http.StatusOK, gin.H{"time_slots": slots})
}

// GetAvailability handles GET /api/v1/availability?location_id=...&dates=2026-05-02,2026-05-03
func (h *CatalogHandler) GetAvailability(c *gin.Context) {
	locationID, err := uuid.Parse(c.Query("location_id"))
	if err != nil {
		badRequest(c, "invalid location_id")
		return
	}

	dates, err := parseDateList(c.Query("dates"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	availability, err := h.availability.ComputeAvailability(c.Request.Context(), locationID, dates, middleware.ActorFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"location_id":  locationID,
		"availability": availability,
	})
}

// parseDateList parses a comma separated list of YYYY-MM-DD dates
func parseDateList(raw string) ([]models.Date, error) {
	var dates []models.Date
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := models.ParseDate(part)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// parseOptionalDate parses a YYYY-MM-DD query parameter; empty yields nil
func parseOptionalDate(raw string) (*models.Date, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
