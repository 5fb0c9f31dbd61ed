package services

import (
	"testing"

	"github.com/slotworks/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
)

func slotOf(start, end models.TimeOfDay) *models.TimeSlotTemplate {
	return &models.TimeSlotTemplate{StartTime: start, EndTime: end, IsActive: true}
}

func TestPrice(t *testing.T) {
	testCases := []struct {
		name      string
		slot      *models.TimeSlotTemplate
		wantMins  int64
		wantUnits int64
	}{
		{"exactly one unit", slotOf(models.NewTimeOfDay(10, 0, 0), models.NewTimeOfDay(10, 30, 0)), 30, 1},
		{"one minute over rounds up", slotOf(models.NewTimeOfDay(10, 0, 0), models.NewTimeOfDay(10, 31, 0)), 31, 2},
		{"one hour", slotOf(models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(10, 0, 0)), 60, 2},
		{"partial minute counts", slotOf(models.NewTimeOfDay(9, 0, 0), models.NewTimeOfDay(9, 30, 1)), 31, 2},
		{"wraps midnight", slotOf(models.NewTimeOfDay(23, 30, 0), models.NewTimeOfDay(0, 30, 0)), 60, 2},
		{"short slot is one unit", slotOf(models.NewTimeOfDay(8, 0, 0), models.NewTimeOfDay(8, 10, 0)), 10, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			quote := Price(tc.slot, 1000)
			assert.Equal(t, tc.wantMins, quote.DurationMinutes)
			assert.Equal(t, tc.wantUnits, quote.BillingUnits)
			assert.Equal(t, tc.wantUnits*1000, quote.Amount)
		})
	}
}

func TestPrice_DoublingDurationDoublesUnits(t *testing.T) {
	for minutes := 30; minutes <= 180; minutes += 30 {
		single := Price(slotOf(0, models.NewTimeOfDay(0, minutes, 0)), 500)
		double := Price(slotOf(0, models.NewTimeOfDay(0, 2*minutes, 0)), 500)
		assert.Equal(t, 2*single.BillingUnits, double.BillingUnits, "duration %d minutes", minutes)
		assert.Equal(t, 2*single.Amount, double.Amount)
	}
}

func TestPrice_Free(t *testing.T) {
	quote := Price(slotOf(models.NewTimeOfDay(10, 0, 0), models.NewTimeOfDay(11, 0, 0)), 0)
	assert.Equal(t, int64(2), quote.BillingUnits)
	assert.Zero(t, quote.Amount)
}
