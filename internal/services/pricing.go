package services

import (
	"github.com/slotworks/booking-engine/internal/models"
)

// BillingUnitMinutes is the length of one billing unit
const BillingUnitMinutes = 30

// Quote is the price of one slot
type Quote struct {
	DurationMinutes int64 `json:"duration_minutes"`
	BillingUnits    int64 `json:"billing_units"`
	Amount          int64 `json:"amount"` // minor units
}

// Price converts a slot's duration into 30-minute billing units and an amount.
// A slot ending before it starts crosses midnight. Seconds round up to the next
// minute so a partial minute is never free.
func Price(slot *models.TimeSlotTemplate, pricePer30 int64) Quote {
	seconds := int64(slot.Duration().Seconds())
	minutes := (seconds + 59) / 60
	units := (minutes + BillingUnitMinutes - 1) / BillingUnitMinutes
	return Quote{
		DurationMinutes: minutes,
		BillingUnits:    units,
		Amount:          units * pricePer30,
	}
}
