package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a bookable physical place. Read-only to the booking engine.
type Location struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Capacity    int       `json:"capacity" db:"capacity"`
	PricePer30  int64     `json:"price_per_30min" db:"price_per_30min"` // minor units
	Currency    string    `json:"currency" db:"currency"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// RequiresPayment reports whether bookings here go through the payment gate
func (l *Location) RequiresPayment() bool {
	return l.PricePer30 > 0
}
