package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/slotworks/booking-engine/internal/events"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bookPaid submits a paid booking and returns its result and intent
func bookPaid(t *testing.T, f *bookingFixture, actor models.Actor, slots ...models.TimeSlotTemplate) (*BookingResult, *models.PaymentIntent) {
	t.Helper()
	result, err := f.svc.Submit(context.Background(), singleDate(f.paid, f.today.AddDays(1), slots...), actor)
	require.NoError(t, err)
	require.NotNil(t, result.Payment)

	intent, err := f.intents.GetByID(context.Background(), result.Payment.IntentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	return result, intent
}

func reservationStatuses(f *bookingFixture, ids []uuid.UUID) []models.ReservationStatus {
	out := make([]models.ReservationStatus, 0, len(ids))
	for _, id := range ids {
		r, _ := f.store.get(id)
		out = append(out, r.Status)
	}
	return out
}

func TestRequestPayment_RecordsIntent(t *testing.T) {
	f := setupBookingTest(t)
	user := models.NewActor(uuid.New(), nil)

	result, intent := bookPaid(t, f, user, f.slots[0], f.slots[1])

	assert.Regexp(t, `^BKG-[0-9A-F]{16}$`, intent.OrderID)
	assert.Equal(t, "GW-"+intent.OrderID, intent.GatewayOrderID)
	assert.Equal(t, result.Payment.LinkURL, intent.LinkURL)
	assert.Equal(t, int64(2000), intent.Amount)
	assert.Equal(t, "JPY", intent.Currency)
	assert.Equal(t, "Court A", intent.Metadata["location_name"])

	require.Len(t, f.gateway.links, 1)
	assert.Equal(t, "Court A - 2 slot(s)", f.gateway.links[0].Description)
	assert.Equal(t, "hana@example.com", f.gateway.links[0].Customer.Email)

	assert.Len(t, f.audit.ofType(models.PaymentEventLinkCreated), 1)
	assert.Contains(t, f.publisher.types(), events.EventPaymentRequested)
}

func TestRequestPayment_IntentStoreFailure(t *testing.T) {
	f := setupBookingTest(t)
	f.intents.failCreate = errors.New("insert failed")

	_, err := f.svc.Submit(context.Background(), singleDate(f.paid, f.today.AddDays(1), f.slots[0]), models.AnonymousActor)
	var gwErr *PaymentGatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Empty(t, f.store.active(), "no reservation survives without an intent")
}

func TestOnPaymentEvent(t *testing.T) {
	t.Run("failure cancels reservations", func(t *testing.T) {
		f := setupBookingTest(t)
		result, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])

		err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{
			GatewayOrderID: intent.GatewayOrderID,
			Succeeded:      false,
		}, models.PaymentSourceWebhook)
		require.NoError(t, err)

		assert.Equal(t, []models.ReservationStatus{models.ReservationStatusCancelled}, reservationStatuses(f, result.CreatedIDs))
		assert.Empty(t, f.store.active(), "cancelled reservations free their slots")
		assert.Contains(t, f.publisher.types(), events.EventPaymentFailed)
	})

	t.Run("order id also matches", func(t *testing.T) {
		f := setupBookingTest(t)
		result, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])

		err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{
			GatewayOrderID: intent.OrderID,
			Succeeded:      true,
		}, models.PaymentSourceQueue)
		require.NoError(t, err)
		assert.Equal(t, []models.ReservationStatus{models.ReservationStatusConfirmed}, reservationStatuses(f, result.CreatedIDs))
	})

	t.Run("duplicate event changes nothing", func(t *testing.T) {
		f := setupBookingTest(t)
		result, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])
		event := models.PaymentEvent{GatewayOrderID: intent.GatewayOrderID, GatewayPaymentID: "pay_1", Succeeded: true}

		require.NoError(t, f.gate.OnPaymentEvent(context.Background(), event, models.PaymentSourceWebhook))

		// a late failure for the same order must not undo the confirmation
		late := event
		late.Succeeded = false
		require.NoError(t, f.gate.OnPaymentEvent(context.Background(), late, models.PaymentSourceQueue))
		require.NoError(t, f.gate.OnPaymentEvent(context.Background(), event, models.PaymentSourceWebhook))

		assert.Equal(t, []models.ReservationStatus{models.ReservationStatusConfirmed}, reservationStatuses(f, result.CreatedIDs))
		duplicates := f.audit.ofType(models.PaymentEventDuplicate)
		require.Len(t, duplicates, 2)
		assert.True(t, duplicates[0].IsDuplicate)

		final, _ := f.intents.GetByID(context.Background(), intent.ID)
		assert.Equal(t, models.PaymentIntentCompleted, final.Status)
		require.NotNil(t, final.GatewayPaymentID)
		assert.Equal(t, "pay_1", *final.GatewayPaymentID)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := setupBookingTest(t)
		err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{GatewayOrderID: "GW-NOPE", Succeeded: true}, models.PaymentSourceWebhook)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Len(t, f.audit.ofType(models.PaymentEventReceived), 1)
	})

	t.Run("client info is audited", func(t *testing.T) {
		f := setupBookingTest(t)
		_, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])

		ctx := WithClientInfo(context.Background(), ClientInfo{IP: "203.0.113.7", UserAgent: "curl/8.4.0"})
		require.NoError(t, f.gate.OnPaymentEvent(ctx, models.PaymentEvent{GatewayOrderID: intent.GatewayOrderID, Succeeded: true}, models.PaymentSourceWebhook))

		received := f.audit.ofType(models.PaymentEventSuccess)
		require.Len(t, received, 1)
		require.NotNil(t, received[0].IPAddress)
		assert.Equal(t, "203.0.113.7", *received[0].IPAddress)
		require.NotNil(t, received[0].UserAgent)
		assert.Equal(t, "curl/8.4.0", *received[0].UserAgent)
		assert.Contains(t, received[0].Payload, "client_device")
	})
}

func TestOnPaymentEvent_ReportedAmount(t *testing.T) {
	testCases := []struct {
		name     string
		amount   string
		currency string
		wantErr  error
		status   models.PaymentIntentStatus
	}{
		{"matching amount confirms", "2000", "", nil, models.PaymentIntentCompleted},
		{"matching amount with currency", "2000", "jpy", nil, models.PaymentIntentCompleted},
		{"short payment stays pending", "1000", "", ErrAmountMismatch, models.PaymentIntentPending},
		{"other currency stays pending", "20.00", "USD", ErrAmountMismatch, models.PaymentIntentPending},
		{"unparseable amount stays pending", "2000.5", "", ErrAmountMismatch, models.PaymentIntentPending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupBookingTest(t)
			result, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0], f.slots[1])

			err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{
				GatewayOrderID: intent.GatewayOrderID,
				Succeeded:      true,
				Amount:         tc.amount,
				Currency:       tc.currency,
			}, models.PaymentSourceWebhook)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}

			current, _ := f.intents.GetByID(context.Background(), intent.ID)
			assert.Equal(t, tc.status, current.Status)

			mismatches := f.audit.ofType(models.PaymentEventAmountMismatch)
			if tc.wantErr == nil {
				assert.Empty(t, mismatches)
				return
			}
			require.Len(t, mismatches, 1)
			require.NotNil(t, mismatches[0].ExpectedAmount)
			assert.Equal(t, int64(2000), *mismatches[0].ExpectedAmount)
			assert.Equal(t, []models.ReservationStatus{models.ReservationStatusPending, models.ReservationStatusPending},
				reservationStatuses(f, result.CreatedIDs))
		})
	}

	t.Run("short payment records both amounts", func(t *testing.T) {
		f := setupBookingTest(t)
		_, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])

		err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{
			GatewayOrderID: intent.GatewayOrderID,
			Succeeded:      true,
			Amount:         "900",
		}, models.PaymentSourceQueue)
		assert.ErrorIs(t, err, ErrAmountMismatch)

		mismatches := f.audit.ofType(models.PaymentEventAmountMismatch)
		require.Len(t, mismatches, 1)
		require.NotNil(t, mismatches[0].ReceivedAmount)
		assert.Equal(t, int64(900), *mismatches[0].ReceivedAmount)
		require.NotNil(t, mismatches[0].AmountsMatch)
		assert.False(t, *mismatches[0].AmountsMatch)
	})

	t.Run("failure events ignore the amount", func(t *testing.T) {
		f := setupBookingTest(t)
		_, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])

		err := f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{
			GatewayOrderID: intent.GatewayOrderID,
			Amount:         "1",
		}, models.PaymentSourceWebhook)
		require.NoError(t, err)

		current, _ := f.intents.GetByID(context.Background(), intent.ID)
		assert.Equal(t, models.PaymentIntentFailed, current.Status)
	})
}

func TestOnPaymentEvent_DeletedGroupIsHarmless(t *testing.T) {
	f := setupBookingTest(t)
	user := models.NewActor(uuid.New(), nil)
	result, intent := bookPaid(t, f, user, f.slots[0])

	_, err := f.svc.DeleteGroup(context.Background(), result.CreatedIDs, user)
	require.NoError(t, err)

	err = f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{GatewayOrderID: intent.GatewayOrderID, Succeeded: true}, models.PaymentSourceWebhook)
	require.NoError(t, err)
	assert.Empty(t, f.store.active())
}

func TestCancelIntent(t *testing.T) {
	t.Run("owner cancels", func(t *testing.T) {
		f := setupBookingTest(t)
		user := models.NewActor(uuid.New(), nil)
		result, intent := bookPaid(t, f, user, f.slots[0])

		require.NoError(t, f.gate.CancelIntent(context.Background(), intent.ID, user))
		assert.Equal(t, []models.ReservationStatus{models.ReservationStatusCancelled}, reservationStatuses(f, result.CreatedIDs))
		assert.Len(t, f.audit.ofType(models.PaymentEventCancelled), 1)
		assert.Contains(t, f.publisher.types(), events.EventPaymentCancelled)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		f := setupBookingTest(t)
		_, intent := bookPaid(t, f, models.NewActor(uuid.New(), nil), f.slots[0])

		err := f.gate.CancelIntent(context.Background(), intent.ID, models.NewActor(uuid.New(), nil))
		assert.ErrorIs(t, err, ErrForbidden)
		err = f.gate.CancelIntent(context.Background(), intent.ID, models.AnonymousActor)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admin cancels any intent", func(t *testing.T) {
		f := setupBookingTest(t)
		_, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])
		admin := models.NewActor(uuid.New(), []string{models.RoleAdmin})
		assert.NoError(t, f.gate.CancelIntent(context.Background(), intent.ID, admin))
	})

	t.Run("final intent", func(t *testing.T) {
		f := setupBookingTest(t)
		user := models.NewActor(uuid.New(), nil)
		_, intent := bookPaid(t, f, user, f.slots[0])
		require.NoError(t, f.gate.OnPaymentEvent(context.Background(), models.PaymentEvent{GatewayOrderID: intent.GatewayOrderID, Succeeded: true}, models.PaymentSourceWebhook))

		err := f.gate.CancelIntent(context.Background(), intent.ID, user)
		requireValidation(t, err, CodeIntentFinal)
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := setupBookingTest(t)
		err := f.gate.CancelIntent(context.Background(), uuid.New(), models.NewActor(uuid.New(), nil))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReconcile(t *testing.T) {
	f := setupBookingTest(t)
	paidResult, paidIntent := bookPaid(t, f, models.AnonymousActor, f.slots[0])
	_, freshIntent := bookPaid(t, f, models.AnonymousActor, f.slots[1])

	// only the first intent is old enough to poll
	f.intents.age(paidIntent.ID, 15*time.Minute)
	f.gateway.status = GatewayStatusPaid

	resolved, err := f.gate.WithClock(time.Now).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, []string{paidIntent.GatewayOrderID}, f.gateway.checks)
	assert.Equal(t, []models.ReservationStatus{models.ReservationStatusConfirmed}, reservationStatuses(f, paidResult.CreatedIDs))

	fresh, _ := f.intents.GetByID(context.Background(), freshIntent.ID)
	assert.Equal(t, models.PaymentIntentPending, fresh.Status)
	assert.Len(t, f.audit.ofType(models.PaymentEventStatusCheck), 1)
}

func TestReconcile_AmountMismatchKeepsIntentPending(t *testing.T) {
	f := setupBookingTest(t)
	result, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])
	f.intents.age(intent.ID, 15*time.Minute)
	f.gateway.status = GatewayStatusPaid
	f.gateway.amount = "500"

	resolved, err := f.gate.WithClock(time.Now).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)

	current, _ := f.intents.GetByID(context.Background(), intent.ID)
	assert.Equal(t, models.PaymentIntentPending, current.Status)
	assert.Equal(t, []models.ReservationStatus{models.ReservationStatusPending}, reservationStatuses(f, result.CreatedIDs))

	mismatches := f.audit.ofType(models.PaymentEventAmountMismatch)
	require.Len(t, mismatches, 1)
	assert.Equal(t, models.PaymentSourcePoll, mismatches[0].EventSource)

	// the full amount confirms on the next run
	f.gateway.amount = "1000"
	resolved, err = f.gate.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
}

func TestReconcile_StillPendingAndErrors(t *testing.T) {
	f := setupBookingTest(t)
	_, intent := bookPaid(t, f, models.AnonymousActor, f.slots[0])
	f.intents.age(intent.ID, time.Hour)

	resolved, err := f.gate.WithClock(time.Now).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)

	f.gateway.checkErr = errors.New("gateway unavailable")
	resolved, err = f.gate.Reconcile(context.Background())
	assert.Error(t, err)
	assert.Zero(t, resolved)

	still, _ := f.intents.GetByID(context.Background(), intent.ID)
	assert.Equal(t, models.PaymentIntentPending, still.Status)
}

func TestExpirePending(t *testing.T) {
	f := setupBookingTest(t)
	staleResult, stale := bookPaid(t, f, models.AnonymousActor, f.slots[0])
	freshResult, _ := bookPaid(t, f, models.AnonymousActor, f.slots[1])
	f.intents.age(stale.ID, 2*time.Hour)

	expired, err := f.gate.WithClock(time.Now).ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, []models.ReservationStatus{models.ReservationStatusCancelled}, reservationStatuses(f, staleResult.CreatedIDs))
	assert.Equal(t, []models.ReservationStatus{models.ReservationStatusPending}, reservationStatuses(f, freshResult.CreatedIDs))

	// the freed slot can be booked again
	again, err := f.svc.Submit(context.Background(), singleDate(f.paid, f.today.AddDays(1), f.slots[0]), models.AnonymousActor)
	require.NoError(t, err)
	assert.Len(t, again.CreatedIDs, 1)

	// a second run finds nothing left to expire
	expired, err = f.gate.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestExpirePending_OrphanedReservations(t *testing.T) {
	f := setupBookingTest(t)
	day := f.today.AddDays(1)

	// a pending row whose intent was never recorded
	orphan := f.store.put(models.Reservation{
		CustomerInfo: customer(),
		LocationID:   f.paid.ID,
		TimeSlotID:   f.slots[0].ID,
		Date:         day,
		Status:       models.ReservationStatusPending,
		CreatedAt:    time.Now().Add(-2 * time.Hour),
	})
	recent := f.store.put(models.Reservation{
		CustomerInfo: customer(),
		LocationID:   f.paid.ID,
		TimeSlotID:   f.slots[1].ID,
		Date:         day,
		Status:       models.ReservationStatusPending,
		CreatedAt:    time.Now(),
	})
	covered, intent := bookPaid(t, f, models.AnonymousActor, f.slots[2])
	f.store.backdate(covered.CreatedIDs[0], 2*time.Hour)

	expired, err := f.gate.WithClock(time.Now).ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, []models.ReservationStatus{
		models.ReservationStatusCancelled,
		models.ReservationStatusPending,
		models.ReservationStatusPending,
	}, reservationStatuses(f, []uuid.UUID{orphan.ID, recent.ID, covered.CreatedIDs[0]}))

	current, _ := f.intents.GetByID(context.Background(), intent.ID)
	assert.Equal(t, models.PaymentIntentPending, current.Status, "young intents are left alone")

	// the slot is free again
	again, err := f.svc.Submit(context.Background(), singleDate(f.paid, day, f.slots[0]), models.AnonymousActor)
	require.NoError(t, err)
	assert.Len(t, again.CreatedIDs, 1)
}
