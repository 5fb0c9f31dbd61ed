package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/internal/database"
	"github.com/slotworks/booking-engine/internal/events"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/slotworks/booking-engine/pkg/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BookingPolicy holds the rules Submit enforces
type BookingPolicy struct {
	StandardWindowDays int            // advance window for standard and anonymous actors
	SpecialWindowDays  int            // advance window for special actors
	TimeZone           *time.Location // "today" is evaluated here
	DefaultCurrency    string         // used when a location has none
	CalendarDays       int            // default calendar feed span
}

// DefaultBookingPolicy returns the standard policy
func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		StandardWindowDays: 30,
		SpecialWindowDays:  90,
		TimeZone:           time.UTC,
		DefaultCurrency:    "JPY",
		CalendarDays:       30,
	}
}

// PolicyFromConfig builds the policy from booking configuration
func PolicyFromConfig(cfg config.BookingConfig) BookingPolicy {
	return BookingPolicy{
		StandardWindowDays: cfg.StandardWindowDays,
		SpecialWindowDays:  cfg.SpecialWindowDays,
		TimeZone:           cfg.Location(),
		DefaultCurrency:    cfg.DefaultCurrency,
		CalendarDays:       cfg.CalendarDays,
	}
}

// WindowDays returns how many days ahead actor may book
func (p BookingPolicy) WindowDays(actor models.Actor) int {
	if actor.Special {
		return p.SpecialWindowDays
	}
	return p.StandardWindowDays
}

// PaymentRequest asks the payment gate to collect payment for new reservations
type PaymentRequest struct {
	Location       *models.Location
	Actor          models.Actor
	Customer       models.CustomerInfo
	ReservationIDs []uuid.UUID
	Amount         int64
	Currency       string
}

// PaymentRequester issues payment links for committed pending reservations
type PaymentRequester interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (*models.PaymentLink, error)
}

// BookingResult enumerates exactly what a Submit did. Callers must not assume
// every requested slot was honored.
type BookingResult struct {
	CreatedIDs  []uuid.UUID              `json:"created_ids"`
	UpdatedIDs  []uuid.UUID              `json:"updated_ids"`
	DeletedIDs  []uuid.UUID              `json:"deleted_ids"`
	Skipped     []*ConflictError         `json:"skipped"`
	TotalAmount int64                    `json:"total_amount"` // every slot that was not skipped
	AmountDue   int64                    `json:"amount_due"`   // newly created slots only
	Currency    string                   `json:"currency"`
	Status      models.ReservationStatus `json:"status,omitempty"` // status of created reservations
	Payment     *models.PaymentLink      `json:"payment,omitempty"`
}

func newBookingResult(currency string) *BookingResult {
	return &BookingResult{
		CreatedIDs: []uuid.UUID{},
		UpdatedIDs: []uuid.UUID{},
		DeletedIDs: []uuid.UUID{},
		Skipped:    []*ConflictError{},
		Currency:   currency,
	}
}

func (r *BookingResult) skip(key models.SlotKey, reason string) {
	r.Skipped = append(r.Skipped, &ConflictError{Date: key.Date, SlotID: key.TimeSlotID, Reason: reason})
}

// BookingOrchestratorService validates booking requests and commits them
type BookingOrchestratorService struct {
	catalog      CatalogStore
	reservations ReservationStore
	payments     PaymentRequester
	publisher    events.Publisher
	policy       BookingPolicy
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	catalog CatalogStore,
	reservations ReservationStore,
	payments PaymentRequester,
	publisher events.Publisher,
	policy BookingPolicy,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if policy.TimeZone == nil {
		policy.TimeZone = time.UTC
	}
	return &BookingOrchestratorService{
		catalog:      catalog,
		reservations: reservations,
		payments:     payments,
		publisher:    publisher,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the clock used to determine "today"
func (s *BookingOrchestratorService) WithClock(now func() time.Time) *BookingOrchestratorService {
	s.now = now
	return s
}

func (s *BookingOrchestratorService) today() models.Date {
	return models.DateOf(s.now().In(s.policy.TimeZone))
}

// ============================================================================
// SUBMIT
// ============================================================================

// Submit validates a booking request and commits it in one transaction.
// Slots held by someone else are reported in Skipped; they never fail the
// request. When new reservations need payment a link is requested after the
// commit, and the new reservations are removed again if that fails.
func (s *BookingOrchestratorService) Submit(
	ctx context.Context,
	req *models.BookingRequest,
	actor models.Actor,
) (result *BookingResult, err error) {
	ctx, span := tracer.Start(ctx, "booking.submit", trace.WithAttributes(
		uuidAttr("location_id", req.LocationID),
		attribute.Bool("edit", req.Edit),
		attribute.Int("slots", req.Selections.Count()),
	))
	defer func() {
		recordErr(span, err)
		span.End()
	}()

	// "today" is fixed once so every date in the request is judged against the same day
	today := s.today()

	// 1. Validate everything before any write
	location, templates, customer, err := s.validate(ctx, req, actor, today)
	if err != nil {
		return nil, err
	}

	currency := location.Currency
	if currency == "" {
		currency = s.policy.DefaultCurrency
	}

	// 2. Commit the unit
	result = newBookingResult(currency)
	err = s.reservations.WithinTx(ctx, func(tx database.ReservationTx) error {
		return s.commit(ctx, tx, req, customer, actor, location, templates, result)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"location_id": location.ID,
			"error":       err.Error(),
		}).Error("Booking transaction failed")
		return nil, storageErr("commit booking", err)
	}
	if len(result.CreatedIDs) > 0 {
		result.Status = initialStatus(location)
	}

	s.logger.WithFields(logrus.Fields{
		"location_id":  location.ID,
		"created":      len(result.CreatedIDs),
		"updated":      len(result.UpdatedIDs),
		"deleted":      len(result.DeletedIDs),
		"skipped":      len(result.Skipped),
		"total_amount": result.TotalAmount,
		"amount_due":   result.AmountDue,
	}).Info("Booking committed")

	committed := events.NewBookingEvent(events.EventBookingCommitted)
	committed.LocationID = &location.ID
	committed.ActorID = actor.UserID
	committed.ReservationIDs = append(append([]uuid.UUID{}, result.CreatedIDs...), result.UpdatedIDs...)
	committed.Amount = result.TotalAmount
	committed.Currency = currency
	s.publish(ctx, committed)

	// 3. Payment gate. No reservation lock is held from here on.
	if result.AmountDue > 0 {
		link, err := s.payments.RequestPayment(ctx, PaymentRequest{
			Location:       location,
			Actor:          actor,
			Customer:       customer,
			ReservationIDs: result.CreatedIDs,
			Amount:         result.AmountDue,
			Currency:       currency,
		})
		if err != nil {
			s.compensate(ctx, location, result.CreatedIDs)
			var gwErr *PaymentGatewayError
			if !errors.As(err, &gwErr) {
				err = &PaymentGatewayError{Detail: "payment link request failed", Err: err}
			}
			return nil, err
		}
		result.Payment = link
	}

	return result, nil
}

// validate applies the checks in order; the first failure wins
func (s *BookingOrchestratorService) validate(
	ctx context.Context,
	req *models.BookingRequest,
	actor models.Actor,
	today models.Date,
) (*models.Location, map[uuid.UUID]*models.TimeSlotTemplate, models.CustomerInfo, error) {
	var customer models.CustomerInfo

	// 1. Location exists and is active
	location, err := s.catalog.GetLocation(ctx, req.LocationID)
	if err != nil {
		return nil, nil, customer, storageErr("get location", err)
	}
	if err := checkLocation(location); err != nil {
		return nil, nil, customer, err
	}

	// 2. Dates within the window, slots known
	dates := req.Selections.Dates()
	if !req.MultiDate && len(dates) != 1 {
		return nil, nil, customer, newValidationError(CodeInvalidRequest, "selections", "a single-date request must name exactly one date")
	}
	if len(dates) == 0 {
		return nil, nil, customer, newValidationError(CodeInvalidRequest, "selections", "no dates selected")
	}

	active, err := s.catalog.ActiveSlotTemplates(ctx)
	if err != nil {
		return nil, nil, customer, storageErr("list slot templates", err)
	}
	templates := make(map[uuid.UUID]*models.TimeSlotTemplate, len(active))
	for i := range active {
		templates[active[i].ID] = &active[i]
	}

	window := s.policy.WindowDays(actor)
	for _, d := range dates {
		// multi-date requests ignore dates with nothing selected
		if req.MultiDate && len(req.Selections[d]) == 0 {
			continue
		}
		if d.Before(today) {
			return nil, nil, customer, newValidationError(CodeDateInPast, "date", "%s is in the past", d)
		}
		if d.DaysSince(today) > window {
			return nil, nil, customer, newValidationError(CodeDateOutOfWindow, "date", "%s is more than %d days ahead", d, window)
		}
		for _, slotID := range req.Selections[d] {
			if _, ok := templates[slotID]; !ok {
				return nil, nil, customer, newValidationError(CodeSlotUnavailable, "slot_id", "time slot %s is not available", slotID)
			}
		}
	}

	// 3. Customer fields
	customer, err = normalizeCustomer(req.Customer)
	if err != nil {
		return nil, nil, customer, err
	}

	// 4. A single date with nothing selected is only a deselection by someone already booked there
	if !req.MultiDate && req.Selections.Count() == 0 {
		if actor.IsAnonymous() {
			return nil, nil, customer, newValidationError(CodeNoTimeslot, "selections", "no timeslot chosen")
		}
		held, err := s.reservations.HasActiveReservation(ctx, location.ID, dates[0], *actor.UserID)
		if err != nil {
			return nil, nil, customer, storageErr("check existing reservation", err)
		}
		if !held {
			return nil, nil, customer, newValidationError(CodeNoTimeslot, "selections", "no timeslot chosen")
		}
	}

	return location, templates, customer, nil
}

// normalizeCustomer trims the contact fields, requires each of them and then
// checks their formats
func normalizeCustomer(in models.CustomerInfo) (models.CustomerInfo, error) {
	customer := models.CustomerInfo{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.TrimSpace(in.Email),
		Phone: strings.TrimSpace(in.Phone),
	}
	for _, f := range []struct{ name, value string }{
		{"name", customer.Name},
		{"email", customer.Email},
		{"phone", customer.Phone},
	} {
		if f.value == "" {
			return customer, newValidationError(CodeMissingField, "customer."+f.name, "%s is required", f.name)
		}
	}

	fieldErrs, err := validator.ValidateStruct(customer)
	if err != nil {
		return customer, newValidationError(CodeInvalidField, "customer", "%v", err)
	}
	if len(fieldErrs) > 0 {
		return customer, newValidationError(CodeInvalidField, "customer."+fieldErrs[0].Field, "%s", fieldErrs[0].Describe())
	}
	return customer, nil
}

func initialStatus(location *models.Location) models.ReservationStatus {
	if location.RequiresPayment() {
		return models.ReservationStatusPending
	}
	return models.ReservationStatusConfirmed
}

// commit performs the writes of one Submit inside tx
func (s *BookingOrchestratorService) commit(
	ctx context.Context,
	tx database.ReservationTx,
	req *models.BookingRequest,
	customer models.CustomerInfo,
	actor models.Actor,
	location *models.Location,
	templates map[uuid.UUID]*models.TimeSlotTemplate,
	result *BookingResult,
) error {
	// 1. Remove deselected reservations the actor may touch
	if len(req.DeselectedIDs) > 0 {
		switch {
		case actor.Privileged:
			deleted, err := tx.DeleteOwned(ctx, req.DeselectedIDs, nil)
			if err != nil {
				return err
			}
			result.DeletedIDs = append(result.DeletedIDs, deleted...)
		case !actor.IsAnonymous():
			deleted, err := tx.DeleteOwned(ctx, req.DeselectedIDs, actor.UserID)
			if err != nil {
				return err
			}
			result.DeletedIDs = append(result.DeletedIDs, deleted...)
		default:
			s.logger.WithField("count", len(req.DeselectedIDs)).Warn("Ignoring deselection from anonymous actor")
		}
	}

	targets := req.Selections.Targets(location.ID)

	// 2. Lock the reservations being edited
	editable := make(map[uuid.UUID]bool)
	var movable []movableReservation
	if req.Edit && len(req.EditReservationIDs) > 0 {
		rows, err := tx.LockByIDs(ctx, req.EditReservationIDs)
		if err != nil {
			return err
		}
		requested := make(map[models.SlotKey]bool, len(targets))
		for _, key := range targets {
			requested[key] = true
		}
		for _, r := range rows {
			if !r.Status.IsActive() || !(actor.Privileged || r.OwnedBy(actor.UserID)) {
				continue
			}
			editable[r.ID] = true
			// reservations already on a requested slot stay there; the rest may move
			if !requested[r.SlotKey()] {
				covered, err := s.coveredAmount(ctx, r, location, templates)
				if err != nil {
					return err
				}
				movable = append(movable, movableReservation{Reservation: r, covered: covered})
			}
		}
		sort.Slice(movable, func(i, j int) bool {
			a, b := movable[i], movable[j]
			if a.Date != b.Date {
				return a.Date.Before(b.Date)
			}
			return a.TimeSlotID.String() < b.TimeSlotID.String()
		})
	}

	// 3. Write each target in (date, slot) order so concurrent requests lock in the same order
	status := initialStatus(location)
	for _, key := range targets {
		quote := Price(templates[key.TimeSlotID], location.PricePer30)

		held, err := tx.LockActiveSlot(ctx, key)
		if err != nil {
			return err
		}

		if held != nil {
			if !editable[held.ID] && !held.OwnedBy(actor.UserID) {
				result.skip(key, ReasonAlreadyBooked)
				continue
			}
			held.CustomerInfo = customer
			held.Notes = req.Notes
			if err := tx.Update(ctx, held); err != nil {
				return err
			}
			result.UpdatedIDs = append(result.UpdatedIDs, held.ID)
			result.TotalAmount += quote.Amount
			continue
		}

		// a reservation only moves onto a slot its price already covers;
		// anything dearer is booked as a new reservation and paid for
		if i := pickMovable(movable, quote.Amount); i >= 0 {
			moved := movable[i].Reservation
			moved.LocationID = key.LocationID
			moved.TimeSlotID = key.TimeSlotID
			moved.Date = key.Date
			moved.CustomerInfo = customer
			moved.Notes = req.Notes

			err := tx.Update(ctx, &moved)
			if errors.Is(err, database.ErrSlotTaken) {
				result.skip(key, ReasonAlreadyBooked)
				continue
			}
			if err != nil {
				return err
			}
			movable = append(movable[:i], movable[i+1:]...)
			result.UpdatedIDs = append(result.UpdatedIDs, moved.ID)
			result.TotalAmount += quote.Amount
			continue
		}

		reservation := &models.Reservation{
			CustomerInfo: customer,
			ID:           uuid.New(),
			LocationID:   key.LocationID,
			TimeSlotID:   key.TimeSlotID,
			Date:         key.Date,
			CreatedBy:    actor.UserID,
			Status:       status,
			Notes:        req.Notes,
		}
		err = tx.Insert(ctx, reservation)
		if errors.Is(err, database.ErrSlotTaken) {
			result.skip(key, ReasonAlreadyBooked)
			continue
		}
		if err != nil {
			return err
		}
		result.CreatedIDs = append(result.CreatedIDs, reservation.ID)
		result.TotalAmount += quote.Amount
		result.AmountDue += quote.Amount
	}

	return nil
}

// movableReservation is an edited reservation that may move to another slot.
// covered is the price of the slot it currently holds.
type movableReservation struct {
	models.Reservation
	covered int64
}

// pickMovable returns the first movable reservation whose price covers amount, or -1
func pickMovable(movable []movableReservation, amount int64) int {
	for i := range movable {
		if movable[i].covered >= amount {
			return i
		}
	}
	return -1
}

// coveredAmount prices the slot r holds today. A slot that can no longer be
// priced covers nothing.
func (s *BookingOrchestratorService) coveredAmount(
	ctx context.Context,
	r models.Reservation,
	location *models.Location,
	templates map[uuid.UUID]*models.TimeSlotTemplate,
) (int64, error) {
	template, ok := templates[r.TimeSlotID]
	if !ok {
		return 0, nil
	}
	held := location
	if r.LocationID != location.ID {
		var err error
		held, err = s.catalog.GetLocation(ctx, r.LocationID)
		if err != nil {
			return 0, err
		}
		if held == nil {
			return 0, nil
		}
	}
	return Price(template, held.PricePer30).Amount, nil
}

// compensate removes the pending reservations created for a payment that could
// not be requested. It runs even if the request context is gone.
func (s *BookingOrchestratorService) compensate(ctx context.Context, location *models.Location, ids []uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	removed, err := s.reservations.DeletePending(ctx, ids)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"reservation_ids": ids,
			"error":           err.Error(),
		}).Error("CRITICAL: Failed to remove pending reservations after payment link failure")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"location_id": location.ID,
		"removed":     removed,
	}).Warn("Removed pending reservations after payment link failure")

	event := events.NewBookingEvent(events.EventPaymentCompensated)
	event.LocationID = &location.ID
	event.ReservationIDs = ids
	s.publish(ctx, event)
}

func (s *BookingOrchestratorService) publish(ctx context.Context, event events.BookingEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_type": event.Type,
			"error":      err.Error(),
		}).Warn("Failed to publish booking event")
	}
}

// ============================================================================
// GROUPS
// ============================================================================

// DeleteGroup deletes every reservation of a group. All of them must exist
// and belong to the actor unless the actor is privileged.
func (s *BookingOrchestratorService) DeleteGroup(ctx context.Context, ids []uuid.UUID, actor models.Actor) ([]uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "booking.delete_group")
	defer span.End()

	if len(ids) == 0 {
		return nil, newValidationError(CodeInvalidRequest, "reservation_ids", "at least one reservation id is required")
	}
	if actor.IsAnonymous() {
		return nil, ErrForbidden
	}

	var deleted []uuid.UUID
	err := s.reservations.WithinTx(ctx, func(tx database.ReservationTx) error {
		rows, err := tx.LockByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotFound
		}
		found := make([]uuid.UUID, 0, len(rows))
		for _, r := range rows {
			if !actor.Privileged && !r.OwnedBy(actor.UserID) {
				return ErrForbidden
			}
			found = append(found, r.ID)
		}
		deleted, err = tx.DeleteOwned(ctx, found, nil)
		return err
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return nil, err
	}
	if err != nil {
		recordErr(span, err)
		return nil, storageErr("delete group", err)
	}

	s.logger.WithFields(logrus.Fields{
		"actor_id": actor.UserID,
		"deleted":  len(deleted),
	}).Info("Reservation group deleted")

	event := events.NewBookingEvent(events.EventBookingDeleted)
	event.ActorID = actor.UserID
	event.ReservationIDs = deleted
	s.publish(ctx, event)

	return deleted, nil
}

// ListGroups returns grouped reservations. Non-privileged actors only see their own.
func (s *BookingOrchestratorService) ListGroups(ctx context.Context, filter models.ReservationFilter, actor models.Actor) ([]Group, error) {
	if !actor.Privileged {
		if actor.IsAnonymous() {
			return nil, ErrForbidden
		}
		filter.CreatedBy = actor.UserID
	}

	limit := filter.Limit
	filter.Limit = 0
	details, err := s.reservations.ListDetails(ctx, filter)
	if err != nil {
		return nil, storageErr("list reservations", err)
	}
	groups := GroupReservations(details)
	if groups == nil {
		groups = []Group{}
	}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// GetReservation returns one reservation if the actor owns it or is privileged
func (s *BookingOrchestratorService) GetReservation(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.ReservationDetail, error) {
	detail, err := s.reservations.GetDetail(ctx, id)
	if err != nil {
		return nil, storageErr("get reservation", err)
	}
	if detail == nil {
		return nil, ErrNotFound
	}
	if !actor.Privileged && !detail.OwnedBy(actor.UserID) {
		return nil, ErrForbidden
	}
	return detail, nil
}

// ============================================================================
// CALENDAR
// ============================================================================

// MaxCalendarDays caps the span of one calendar query
const MaxCalendarDays = 366

// CalendarEvent is one group rendered for a calendar
type CalendarEvent struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Start          time.Time   `json:"start"`
	End            time.Time   `json:"end"`
	Status         string      `json:"status"`
	LocationID     uuid.UUID   `json:"location_id"`
	ReservationIDs []uuid.UUID `json:"reservation_ids,omitempty"`
}

// CalendarEvents returns one event per active group between from and to
// inclusive, defaulting to today through the policy's calendar span. Customer
// names are only shown to privileged actors.
func (s *BookingOrchestratorService) CalendarEvents(
	ctx context.Context,
	from, to *models.Date,
	locationID *uuid.UUID,
	actor models.Actor,
) ([]CalendarEvent, error) {
	start := s.today()
	if from != nil {
		start = *from
	}
	end := start.AddDays(s.policy.CalendarDays)
	if to != nil {
		end = *to
	}
	if end.Before(start) {
		return nil, newValidationError(CodeInvalidRequest, "end", "end date is before start date")
	}
	if end.DaysSince(start) > MaxCalendarDays {
		return nil, newValidationError(CodeInvalidRequest, "end", "calendar range exceeds %d days", MaxCalendarDays)
	}

	details, err := s.reservations.ListDetails(ctx, models.ReservationFilter{
		LocationID: locationID,
		From:       &start,
		To:         &end,
		Statuses:   models.ActiveReservationStatuses,
	})
	if err != nil {
		return nil, storageErr("list reservations", err)
	}

	groups := GroupReservations(details)
	calendar := make([]CalendarEvent, 0, len(groups))
	for _, g := range groups {
		midnight := g.Date.In(s.policy.TimeZone)
		startsAt := midnight.Add(time.Duration(g.StartTime.Seconds()) * time.Second)
		endsAt := midnight.Add(time.Duration(g.EndTime.Seconds()) * time.Second)
		window := models.TimeSlotTemplate{StartTime: g.StartTime, EndTime: g.EndTime}
		if window.WrapsMidnight() {
			endsAt = endsAt.Add(24 * time.Hour)
		}

		event := CalendarEvent{
			ID:         g.ReservationIDs[0].String(),
			Title:      g.LocationName,
			Start:      startsAt,
			End:        endsAt,
			Status:     g.Status,
			LocationID: g.LocationID,
		}
		if actor.Privileged {
			event.Title = g.LocationName + " - " + g.CustomerName
			event.ReservationIDs = g.ReservationIDs
		}
		calendar = append(calendar, event)
	}

	sort.SliceStable(calendar, func(i, j int) bool {
		return calendar[i].Start.Before(calendar[j].Start)
	})
	return calendar, nil
}
