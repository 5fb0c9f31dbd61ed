package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType names a booking lifecycle event. It doubles as the AMQP routing key.
// Every type starts with OutboundPrefix so the engine never consumes its own
// events from a shared exchange.
type EventType string

// OutboundPrefix namespaces the routing keys the engine publishes
const OutboundPrefix = "booking."

const (
	EventBookingCommitted   EventType = OutboundPrefix + "committed"
	EventBookingDeleted     EventType = OutboundPrefix + "deleted"
	EventPaymentRequested   EventType = OutboundPrefix + "payment.requested"
	EventPaymentCompleted   EventType = OutboundPrefix + "payment.completed"
	EventPaymentFailed      EventType = OutboundPrefix + "payment.failed"
	EventPaymentCancelled   EventType = OutboundPrefix + "payment.cancelled"
	EventPaymentCompensated EventType = OutboundPrefix + "payment.compensated"
)

// BookingEvent is published after a state change has been committed
type BookingEvent struct {
	ID             uuid.UUID   `json:"id"`
	Type           EventType   `json:"type"`
	OccurredAt     time.Time   `json:"occurred_at"`
	LocationID     *uuid.UUID  `json:"location_id,omitempty"`
	ActorID        *uuid.UUID  `json:"actor_id,omitempty"`
	IntentID       *uuid.UUID  `json:"intent_id,omitempty"`
	ReservationIDs []uuid.UUID `json:"reservation_ids,omitempty"`
	Amount         int64       `json:"amount,omitempty"`
	Currency       string      `json:"currency,omitempty"`
}

// NewBookingEvent stamps a new event
func NewBookingEvent(eventType EventType) BookingEvent {
	return BookingEvent{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Key is the partitioning key: the location when known, else the intent
func (e BookingEvent) Key() string {
	switch {
	case e.LocationID != nil:
		return e.LocationID.String()
	case e.IntentID != nil:
		return e.IntentID.String()
	default:
		return e.ID.String()
	}
}

// Publisher delivers booking events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event BookingEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }

// MultiPublisher fans an event out to several publishers. Every publisher is
// tried; the returned error joins all failures.
type MultiPublisher struct {
	publishers []Publisher
	logger     *logrus.Logger
}

// NewMultiPublisher combines publishers. With none it behaves like NoopPublisher.
func NewMultiPublisher(logger *logrus.Logger, publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers, logger: logger}
}

func (m *MultiPublisher) Publish(ctx context.Context, event BookingEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			m.logger.WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Type,
				"error":      err.Error(),
			}).Warn("Failed to publish booking event")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
