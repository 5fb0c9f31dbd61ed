package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/models"
)

// Routing keys for gateway confirmation events
const (
	RoutingPaymentSucceeded = "payment.succeeded"
	RoutingPaymentFailed    = "payment.failed"
)

// PaymentEventHandler applies a gateway confirmation event
type PaymentEventHandler interface {
	OnPaymentEvent(ctx context.Context, event models.PaymentEvent, source models.PaymentEventSource) error
}

// temporary is implemented by errors worth redelivering
type temporary interface {
	Temporary() bool
}

// PaymentEventConsumer feeds gateway confirmation events from a RabbitMQ queue
// into a PaymentEventHandler
type PaymentEventConsumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	handler PaymentEventHandler
	logger  *logrus.Logger
}

// NewPaymentEventConsumer dials url, declares the exchange and queue and binds
// both payment routing keys
func NewPaymentEventConsumer(url, exchange, queue string, handler PaymentEventHandler, logger *logrus.Logger) (*PaymentEventConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range []string{RoutingPaymentSucceeded, RoutingPaymentFailed} {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &PaymentEventConsumer{conn: conn, ch: ch, queue: q.Name, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is cancelled or the channel closes
func (c *PaymentEventConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.WithField("queue", c.queue).Info("Payment event consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			HandleDelivery(ctx, d, c.handler, c.logger)
		}
	}
}

// HandleDelivery decodes one delivery, applies it and acknowledges it.
// Undecodable messages and permanent failures are dropped; temporary
// failures are requeued.
func HandleDelivery(ctx context.Context, d amqp.Delivery, handler PaymentEventHandler, logger *logrus.Logger) {
	if strings.HasPrefix(d.RoutingKey, OutboundPrefix) {
		logger.WithField("routing_key", d.RoutingKey).Debug("Ignoring booking event on payment queue")
		_ = d.Ack(false)
		return
	}

	var event models.PaymentEvent
	if err := json.Unmarshal(d.Body, &event); err != nil || event.GatewayOrderID == "" {
		logger.WithFields(logrus.Fields{
			"routing_key": d.RoutingKey,
			"message_id":  d.MessageId,
		}).Warn("Dropping malformed payment event")
		_ = d.Nack(false, false)
		return
	}
	switch d.RoutingKey {
	case RoutingPaymentSucceeded:
		event.Succeeded = true
	case RoutingPaymentFailed:
		event.Succeeded = false
	}

	err := handler.OnPaymentEvent(ctx, event, models.PaymentSourceQueue)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	var t temporary
	requeue := errors.As(err, &t) && t.Temporary()
	logger.WithFields(logrus.Fields{
		"gateway_order_id": event.GatewayOrderID,
		"requeue":          requeue,
		"error":            err.Error(),
	}).Error("Failed to apply payment event")
	_ = d.Nack(false, requeue)
}

func (c *PaymentEventConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
