package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/internal/events"
	"github.com/slotworks/booking-engine/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentGateConfig holds the payment gate's timing
type PaymentGateConfig struct {
	ReconcileAfter time.Duration  // poll the gateway for intents pending this long
	PendingTimeout time.Duration  // cancel intents pending this long
	BatchSize      int            // intents handled per job run
	MinorUnits     map[string]int // parses amounts reported by the gateway
}

// DefaultPaymentGateConfig returns default configuration
func DefaultPaymentGateConfig() PaymentGateConfig {
	return PaymentGateConfig{
		ReconcileAfter: 10 * time.Minute,
		PendingTimeout: time.Hour,
		BatchSize:      100,
		MinorUnits:     map[string]int{"JPY": 0, "USD": 2, "EUR": 2, "LKR": 2},
	}
}

// PaymentGateConfigFrom builds the gate configuration from payment configuration
// and the currency minor-unit table
func PaymentGateConfigFrom(cfg config.PaymentConfig, minorUnits map[string]int) PaymentGateConfig {
	gate := DefaultPaymentGateConfig()
	if cfg.ReconcileAfter > 0 {
		gate.ReconcileAfter = cfg.ReconcileAfter
	}
	if cfg.PendingTimeout > 0 {
		gate.PendingTimeout = cfg.PendingTimeout
	}
	if len(minorUnits) > 0 {
		gate.MinorUnits = minorUnits
	}
	return gate
}

var (
	_ PaymentRequester           = (*PaymentGateService)(nil)
	_ events.PaymentEventHandler = (*PaymentGateService)(nil)
)

// PaymentGateService runs the payment confirmation state machine:
// pending intents move to completed, failed or cancelled exactly once, and
// their reservations follow.
type PaymentGateService struct {
	intents   PaymentIntentStore
	gateway   PaymentGateway
	audit     PaymentAuditLogger
	publisher events.Publisher
	config    PaymentGateConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewPaymentGateService creates a new payment gate
func NewPaymentGateService(
	intents PaymentIntentStore,
	gateway PaymentGateway,
	audit PaymentAuditLogger,
	publisher events.Publisher,
	cfg PaymentGateConfig,
	logger *logrus.Logger,
) *PaymentGateService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPaymentGateConfig().BatchSize
	}
	return &PaymentGateService{
		intents:   intents,
		gateway:   gateway,
		audit:     audit,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for age cut-offs
func (s *PaymentGateService) WithClock(now func() time.Time) *PaymentGateService {
	s.now = now
	return s
}

// GatewayName reports which gateway strategy is in use
func (s *PaymentGateService) GatewayName() string {
	return s.gateway.Name()
}

// ============================================================================
// REQUEST PAYMENT
// ============================================================================

// RequestPayment obtains a payment link for committed pending reservations and
// records a pending intent for it. The caller removes the reservations when
// this fails.
func (s *PaymentGateService) RequestPayment(ctx context.Context, req PaymentRequest) (link *models.PaymentLink, err error) {
	ctx, span := tracer.Start(ctx, "payment.request", trace.WithAttributes(
		attribute.Int64("amount", req.Amount),
		attribute.String("currency", req.Currency),
	))
	defer func() {
		recordErr(span, err)
		span.End()
	}()

	if req.Amount <= 0 || len(req.ReservationIDs) == 0 {
		return nil, &PaymentGatewayError{Detail: "nothing to pay for"}
	}

	orderID := newOrderID()
	description := fmt.Sprintf("%s - %d slot(s)", req.Location.Name, len(req.ReservationIDs))

	// 1. Ask the gateway for a link
	result, err := s.gateway.CreateLink(ctx, LinkRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		OrderID:     orderID,
		Description: description,
		Customer:    req.Customer,
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"gateway":  s.gateway.Name(),
			"error":    err.Error(),
		}).Error("Failed to create payment link")
		s.record(ctx, models.NewPaymentAudit(models.PaymentEventLinkFailed, models.PaymentSourceBackend).
			SetOrderID(orderID).
			SetExpectedAmount(req.Amount, req.Currency).
			SetError(err))
		return nil, &PaymentGatewayError{Detail: err.Error(), Err: err}
	}

	// 2. Record the intent
	lead := req.ReservationIDs[0]
	intent := &models.PaymentIntent{
		ReservationID:  &lead,
		ReservationIDs: models.UUIDArray(req.ReservationIDs),
		ProfileID:      req.Actor.UserID,
		OrderID:        orderID,
		GatewayLinkID:  result.LinkID,
		GatewayOrderID: result.GatewayOrderID,
		LinkURL:        result.LinkURL,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.PaymentIntentPending,
		Metadata: models.JSONB{
			"location_id":   req.Location.ID.String(),
			"location_name": req.Location.Name,
			"slots":         len(req.ReservationIDs),
			"gateway":       s.gateway.Name(),
		},
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		s.record(ctx, models.NewPaymentAudit(models.PaymentEventLinkFailed, models.PaymentSourceBackend).
			SetOrderID(orderID).
			SetExpectedAmount(req.Amount, req.Currency).
			SetError(err))
		return nil, &PaymentGatewayError{Detail: "failed to record payment intent", Err: err}
	}

	s.record(ctx, models.NewPaymentAudit(models.PaymentEventLinkCreated, models.PaymentSourceBackend).
		SetIntent(intent).
		SetExpectedAmount(req.Amount, req.Currency).
		SetPayload(models.JSONB{"link_id": result.LinkID, "gateway_order_id": result.GatewayOrderID}))

	s.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"order_id":  orderID,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"gateway":   s.gateway.Name(),
	}).Info("Payment link issued")

	requested := events.NewBookingEvent(events.EventPaymentRequested)
	requested.LocationID = &req.Location.ID
	requested.ActorID = req.Actor.UserID
	requested.IntentID = &intent.ID
	requested.ReservationIDs = req.ReservationIDs
	requested.Amount = req.Amount
	requested.Currency = req.Currency
	s.publish(ctx, requested)

	return &models.PaymentLink{
		IntentID: intent.ID,
		OrderID:  orderID,
		LinkURL:  result.LinkURL,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func newOrderID() string {
	return "BKG-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}

// ============================================================================
// CONFIRMATION EVENTS
// ============================================================================

// OnPaymentEvent applies a gateway confirmation event. An event for an intent
// that is already final changes nothing and is not an error.
func (s *PaymentGateService) OnPaymentEvent(ctx context.Context, event models.PaymentEvent, source models.PaymentEventSource) (err error) {
	ctx, span := tracer.Start(ctx, "payment.event", trace.WithAttributes(
		attribute.String("gateway_order_id", event.GatewayOrderID),
		attribute.Bool("succeeded", event.Succeeded),
		attribute.String("source", string(source)),
	))
	defer func() {
		recordErr(span, err)
		span.End()
	}()

	intent, err := s.intents.FindByOrderReference(ctx, event.GatewayOrderID)
	if err != nil {
		return storageErr("find payment intent", err)
	}
	if intent == nil {
		s.logger.WithField("gateway_order_id", event.GatewayOrderID).Warn("Payment event for unknown order")
		s.record(ctx, models.NewPaymentAudit(models.PaymentEventReceived, source).
			SetOrderID(event.GatewayOrderID).
			SetGatewayPaymentID(event.GatewayPaymentID).
			SetError(ErrNotFound))
		return ErrNotFound
	}

	status := models.PaymentIntentFailed
	if event.Succeeded {
		if !s.amountMatches(ctx, intent, event.Amount, event.Currency, source) {
			return ErrAmountMismatch
		}
		status = models.PaymentIntentCompleted
	}
	return s.finalize(ctx, intent, status, event.GatewayPaymentID, source)
}

// amountMatches checks an amount reported by the gateway against the intent.
// An absent amount is accepted. Mismatches are audited and logged.
func (s *PaymentGateService) amountMatches(
	ctx context.Context,
	intent *models.PaymentIntent,
	reported, currency string,
	source models.PaymentEventSource,
) bool {
	if intent.Status.IsFinal() || strings.TrimSpace(reported) == "" {
		return true
	}
	if currency == "" {
		currency = intent.Currency
	}

	audit := models.NewPaymentAudit(models.PaymentEventAmountMismatch, source).
		SetIntent(intent).
		SetPayload(models.JSONB{"reported_amount": reported, "reported_currency": currency})

	if !strings.EqualFold(currency, intent.Currency) {
		audit.SetExpectedAmount(intent.Amount, intent.Currency).
			SetError(fmt.Errorf("currency %s does not match %s", currency, intent.Currency))
	} else {
		received, err := ParseMinorUnits(reported, intent.Currency, s.config.MinorUnits)
		if err != nil {
			audit.SetExpectedAmount(intent.Amount, intent.Currency).SetError(err)
		} else if audit.SetAmounts(intent.Amount, received, intent.Currency) {
			return true
		}
	}

	s.logger.WithFields(logrus.Fields{
		"intent_id":       intent.ID,
		"expected_amount": intent.Amount,
		"currency":        intent.Currency,
		"reported":        reported,
		"source":          source,
	}).Warn("Payment amount mismatch, intent left pending")
	s.record(ctx, audit)
	return false
}

// finalize transitions intent and its reservations, treating an already final
// intent as a duplicate
func (s *PaymentGateService) finalize(
	ctx context.Context,
	intent *models.PaymentIntent,
	status models.PaymentIntentStatus,
	gatewayPaymentID string,
	source models.PaymentEventSource,
) error {
	final, applied, err := s.intents.Finalize(ctx, intent.ID, status, gatewayPaymentID)
	if err != nil {
		return storageErr("finalize payment intent", err)
	}
	if final == nil {
		return ErrNotFound
	}

	if !applied {
		dup := &DuplicateEventError{IntentID: final.ID, Status: final.Status}
		s.logger.WithFields(logrus.Fields{
			"intent_id": final.ID,
			"status":    final.Status,
			"requested": status,
			"source":    source,
		}).Info(dup.Error())
		s.record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicate, source).
			SetIntent(final).
			SetGatewayPaymentID(gatewayPaymentID).
			SetPaymentStatus(string(status)).
			SetError(dup).
			MarkDuplicate())
		return nil
	}

	eventType := models.PaymentEventFailed
	busEvent := events.EventPaymentFailed
	switch status {
	case models.PaymentIntentCompleted:
		eventType = models.PaymentEventSuccess
		busEvent = events.EventPaymentCompleted
	case models.PaymentIntentCancelled:
		eventType = models.PaymentEventCancelled
		busEvent = events.EventPaymentCancelled
	}

	s.record(ctx, models.NewPaymentAudit(eventType, source).
		SetIntent(final).
		SetGatewayPaymentID(gatewayPaymentID).
		SetExpectedAmount(final.Amount, final.Currency).
		SetPaymentStatus(string(status)))

	s.logger.WithFields(logrus.Fields{
		"intent_id":    final.ID,
		"status":       status,
		"reservations": len(final.ReservationIDs),
		"source":       source,
	}).Info("Payment intent finalized")

	published := events.NewBookingEvent(busEvent)
	published.IntentID = &final.ID
	published.ActorID = final.ProfileID
	published.ReservationIDs = final.ReservationIDs
	published.Amount = final.Amount
	published.Currency = final.Currency
	s.publish(ctx, published)

	return nil
}

// CancelIntent cancels a pending intent on behalf of its owner or a privileged actor
func (s *PaymentGateService) CancelIntent(ctx context.Context, intentID uuid.UUID, actor models.Actor) error {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return storageErr("get payment intent", err)
	}
	if intent == nil {
		return ErrNotFound
	}
	owned := intent.ProfileID != nil && actor.UserID != nil && *intent.ProfileID == *actor.UserID
	if !actor.Privileged && !owned {
		return ErrForbidden
	}
	if intent.Status.IsFinal() {
		return newValidationError(CodeIntentFinal, "intent_id", "payment intent is already %s", intent.Status)
	}
	return s.finalize(ctx, intent, models.PaymentIntentCancelled, "", models.PaymentSourceUser)
}

// ============================================================================
// BACKGROUND JOBS
// ============================================================================

// Reconcile asks the gateway about intents that have been pending for a while
// and applies any final answer. Returns how many intents were resolved.
func (s *PaymentGateService) Reconcile(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "payment.reconcile")
	defer span.End()

	cutoff := s.now().Add(-s.config.ReconcileAfter)
	pending, err := s.intents.ListPendingOlderThan(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		recordErr(span, err)
		return 0, storageErr("list pending intents", err)
	}

	resolved := 0
	var errs []error
	for i := range pending {
		intent := &pending[i]
		ref := intent.GatewayOrderID
		if ref == "" {
			ref = intent.OrderID
		}

		report, err := s.gateway.CheckStatus(ctx, ref)
		audit := models.NewPaymentAudit(models.PaymentEventStatusCheck, models.PaymentSourcePoll).
			SetIntent(intent).
			SetError(err)
		if report != nil {
			audit.SetPaymentStatus(string(report.Status))
		}
		s.record(ctx, audit)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"intent_id": intent.ID,
				"error":     err.Error(),
			}).Warn("Payment status check failed")
			errs = append(errs, err)
			continue
		}

		var target models.PaymentIntentStatus
		switch report.Status {
		case GatewayStatusPaid:
			if !s.amountMatches(ctx, intent, report.Amount, report.Currency, models.PaymentSourcePoll) {
				continue
			}
			target = models.PaymentIntentCompleted
		case GatewayStatusFailed:
			target = models.PaymentIntentFailed
		default:
			continue
		}
		if err := s.finalize(ctx, intent, target, "", models.PaymentSourcePoll); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}

	return resolved, errors.Join(errs...)
}

// ExpirePending cancels intents that stayed pending past the timeout, which
// cancels their reservations and frees the slots. Pending reservations no
// pending intent covers are cancelled after the same timeout. Returns how many
// intents and orphaned reservations were cancelled.
func (s *PaymentGateService) ExpirePending(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "payment.expire")
	defer span.End()

	cutoff := s.now().Add(-s.config.PendingTimeout)
	stale, err := s.intents.ListPendingOlderThan(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		recordErr(span, err)
		return 0, storageErr("list pending intents", err)
	}

	expired := 0
	var errs []error
	for i := range stale {
		final, applied, err := s.intents.Finalize(ctx, stale[i].ID, models.PaymentIntentCancelled, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !applied || final == nil {
			continue
		}
		expired++
		s.record(ctx, models.NewPaymentAudit(models.PaymentEventCancelled, models.PaymentSourceSystem).
			SetIntent(final).
			SetPaymentStatus("expired"))

		event := events.NewBookingEvent(events.EventPaymentCancelled)
		event.IntentID = &final.ID
		event.ReservationIDs = final.ReservationIDs
		s.publish(ctx, event)
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired pending payment intents")
	}

	// pending reservations that never got an intent
	orphans, err := s.intents.CancelOrphanedReservations(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		errs = append(errs, err)
	} else if len(orphans) > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":           len(orphans),
			"reservation_ids": orphans,
		}).Warn("Cancelled pending reservations without a payment intent")

		event := events.NewBookingEvent(events.EventPaymentCancelled)
		event.ReservationIDs = orphans
		s.publish(ctx, event)
	}

	return expired + len(orphans), errors.Join(errs...)
}

// record writes an audit entry. Audit failures are logged by the audit store
// and never fail the payment flow.
func (s *PaymentGateService) record(ctx context.Context, audit *models.PaymentAudit) {
	if s.audit == nil {
		return
	}
	applyClientInfo(ctx, audit)
	_ = s.audit.Log(context.WithoutCancel(ctx), audit)
}

func (s *PaymentGateService) publish(ctx context.Context, event events.BookingEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_type": event.Type,
			"error":      err.Error(),
		}).Warn("Failed to publish payment event")
	}
}
