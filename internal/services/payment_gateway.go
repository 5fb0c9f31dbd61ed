package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/sony/gobreaker"
)

// GatewayPaymentStatus is the gateway's view of an order
type GatewayPaymentStatus string

const (
	GatewayStatusPending GatewayPaymentStatus = "pending"
	GatewayStatusPaid    GatewayPaymentStatus = "paid"
	GatewayStatusFailed  GatewayPaymentStatus = "failed"
)

// LinkRequest asks the gateway for a hosted payment link
type LinkRequest struct {
	Amount      int64 // minor units
	Currency    string
	OrderID     string
	Description string
	Customer    models.CustomerInfo
}

// LinkResult is the gateway's answer to a LinkRequest
type LinkResult struct {
	LinkID         string
	LinkURL        string
	GatewayOrderID string
}

// OrderStatus is the gateway's report on one order
type OrderStatus struct {
	Status   GatewayPaymentStatus
	Amount   string // decimal string as the gateway reports it, empty when absent
	Currency string
}

// PaymentGateway is the external payment collaborator
type PaymentGateway interface {
	CreateLink(ctx context.Context, req LinkRequest) (*LinkResult, error)
	CheckStatus(ctx context.Context, orderRef string) (*OrderStatus, error)
	Name() string
}

// NewPaymentGateway picks the gateway strategy from configuration
func NewPaymentGateway(cfg config.PaymentConfig, minorUnits map[string]int, logger *logrus.Logger) PaymentGateway {
	if !cfg.IsConfigured() {
		logger.Warn("Payment gateway not configured - using placeholder payment links")
		return NewPlaceholderGateway()
	}
	client := NewCheckoutClient(cfg, minorUnits, logger)
	return NewBreakerGateway(client, cfg.BreakerFailures, cfg.BreakerCoolDown, logger)
}

// ============================================================================
// PLACEHOLDER
// ============================================================================

// PlaceholderGateway issues deterministic links without calling anything.
// Orders stay pending until an event arrives or the timeout job cancels them.
type PlaceholderGateway struct{}

// NewPlaceholderGateway creates a placeholder gateway
func NewPlaceholderGateway() *PlaceholderGateway {
	return &PlaceholderGateway{}
}

func (g *PlaceholderGateway) CreateLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return &LinkResult{
		LinkID:         "ph-" + req.OrderID,
		LinkURL:        "https://pay.placeholder.local/pay/" + req.OrderID,
		GatewayOrderID: req.OrderID,
	}, nil
}

func (g *PlaceholderGateway) CheckStatus(ctx context.Context, orderRef string) (*OrderStatus, error) {
	return &OrderStatus{Status: GatewayStatusPending}, nil
}

func (g *PlaceholderGateway) Name() string { return "placeholder" }

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// BreakerGateway stops calling a failing gateway for a cool-down period.
// While open, calls fail immediately and callers run their normal failure path.
type BreakerGateway struct {
	next PaymentGateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps next with a circuit breaker that opens after
// maxFailures consecutive failures
func NewBreakerGateway(next PaymentGateway, maxFailures int, coolDown time.Duration, logger *logrus.Logger) *BreakerGateway {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"gateway": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Payment gateway circuit breaker state changed")
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *BreakerGateway) CreateLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.CreateLink(ctx, req)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return out.(*LinkResult), nil
}

func (g *BreakerGateway) CheckStatus(ctx context.Context, orderRef string) (*OrderStatus, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.CheckStatus(ctx, orderRef)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return out.(*OrderStatus), nil
}

func (g *BreakerGateway) Name() string { return g.next.Name() }

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("payment gateway unavailable: %w", err)
	}
	return err
}
