package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/middleware"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/internal/services"
	"github.com/slotworks/booking-engine/internal/utils"
)

// BookingService is the orchestrator surface the HTTP layer needs
type BookingService interface {
	Submit(ctx context.Context, req *models.BookingRequest, actor models.Actor) (*services.BookingResult, error)
	DeleteGroup(ctx context.Context, ids []uuid.UUID, actor models.Actor) ([]uuid.UUID, error)
	ListGroups(ctx context.Context, filter models.ReservationFilter, actor models.Actor) ([]services.Group, error)
	GetReservation(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.ReservationDetail, error)
	CalendarEvents(ctx context.Context, from, to *models.Date, locationID *uuid.UUID, actor models.Actor) ([]services.CalendarEvent, error)
}

const maxGroupListLimit = 500

// BookingHandler handles booking submission and group management endpoints
type BookingHandler struct {
	bookings BookingService
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// withClient carries the caller's address into service calls for payment audits
func withClient(c *gin.Context) context.Context {
	return services.WithClientInfo(c.Request.Context(), services.ClientInfo{
		IP:        utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	})
}

// ============================================================================
// SUBMIT - POST /api/v1/bookings
// ============================================================================

// Submit books the selected slots. Slots someone else holds come back in
// "skipped" and never fail the request.
func (h *BookingHandler) Submit(c *gin.Context) {
	var req models.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	h.submit(c, &req)
}

// ============================================================================
// EDIT GROUP - PUT /api/v1/bookings/groups
// ============================================================================

// EditGroup moves or extends an existing group. The request is a Submit in
// edit mode naming the group's reservations.
func (h *BookingHandler) EditGroup(c *gin.Context) {
	var req models.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.EditReservationIDs) == 0 {
		badRequest(c, "edit_reservation_ids is required")
		return
	}
	req.Edit = true
	h.submit(c, &req)
}

func (h *BookingHandler) submit(c *gin.Context, req *models.BookingRequest) {
	actor := middleware.ActorFromContext(c)

	result, err := h.bookings.Submit(withClient(c), req, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"location_id": req.LocationID,
		"created":     len(result.CreatedIDs),
		"skipped":     len(result.Skipped),
		"edit":        req.Edit,
	}).Info("Booking submitted")

	status := http.StatusOK
	if len(result.CreatedIDs) > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// ============================================================================
// DELETE GROUP - DELETE /api/v1/bookings/groups
// ============================================================================

// DeleteGroup deletes every reservation of a group
func (h *BookingHandler) DeleteGroup(c *gin.Context) {
	var req models.DeleteGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	deleted, err := h.bookings.DeleteGroup(c.Request.Context(), req.ReservationIDs, middleware.ActorFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted_ids": deleted,
		"count":       len(deleted),
	})
}

// ============================================================================
// LIST GROUPS
// ============================================================================

// ListMyGroups handles GET /api/v1/bookings/groups for the caller's own reservations
func (h *BookingHandler) ListMyGroups(c *gin.Context) {
	h.listGroups(c)
}

// ListAllGroups handles GET /api/v1/admin/bookings/groups. The route is admin
// only, so the service returns every customer's groups.
func (h *BookingHandler) ListAllGroups(c *gin.Context) {
	h.listGroups(c)
}

func (h *BookingHandler) listGroups(c *gin.Context) {
	filter, err := parseReservationFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	groups, err := h.bookings.ListGroups(c.Request.Context(), filter, middleware.ActorFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// parseReservationFilter reads location_id, from, to, status and limit
func parseReservationFilter(c *gin.Context) (models.ReservationFilter, error) {
	var filter models.ReservationFilter

	if raw := c.Query("location_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errInvalidParam("location_id")
		}
		filter.LocationID = &id
	}

	from, err := parseOptionalDate(c.Query("from"))
	if err != nil {
		return filter, err
	}
	to, err := parseOptionalDate(c.Query("to"))
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to

	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.ReservationStatus(strings.TrimSpace(s))
			switch status {
			case models.ReservationStatusPending, models.ReservationStatusConfirmed, models.ReservationStatusCancelled:
				filter.Statuses = append(filter.Statuses, status)
			default:
				return filter, errInvalidParam("status")
			}
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errInvalidParam("limit")
		}
		if limit > maxGroupListLimit {
			limit = maxGroupListLimit
		}
		filter.Limit = limit
	}

	return filter, nil
}

// ============================================================================
// RESERVATION DETAIL - GET /api/v1/reservations/:id
// ============================================================================

// GetReservation returns one reservation to its owner or an admin
func (h *BookingHandler) GetReservation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid reservation id")
		return
	}

	detail, err := h.bookings.GetReservation(c.Request.Context(), id, middleware.ActorFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ============================================================================
// CALENDAR - GET /api/v1/calendar/events
// ============================================================================

// CalendarEvents returns one event per reservation group between start and end
func (h *BookingHandler) CalendarEvents(c *gin.Context) {
	start, err := parseOptionalDate(c.Query("start"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	end, err := parseOptionalDate(c.Query("end"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var locationID *uuid.UUID
	if raw := c.Query("location_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid location_id")
			return
		}
		locationID = &id
	}

	calendar, err := h.bookings.CalendarEvents(c.Request.Context(), start, end, locationID, middleware.ActorFromContext(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, calendar)
}

func errInvalidParam(name string) error {
	return fmt.Errorf("invalid %s", name)
}
