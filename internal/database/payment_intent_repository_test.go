package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intentRowColumns = []string{
	"id", "reservation_id", "reservation_ids", "profile_id", "order_id",
	"gateway_link_id", "gateway_order_id", "gateway_payment_id", "link_url",
	"amount", "currency", "status", "metadata", "created_at", "updated_at", "finalized_at",
}

func intentRow(id uuid.UUID, status models.PaymentIntentStatus, reservationIDs ...uuid.UUID) *sqlmock.Rows {
	ids := "{"
	for i, r := range reservationIDs {
		if i > 0 {
			ids += ","
		}
		ids += r.String()
	}
	ids += "}"
	now := time.Now()
	return sqlmock.NewRows(intentRowColumns).AddRow(
		id.String(), reservationIDs[0].String(), []byte(ids), nil, "ORD-1",
		"link-1", "GW-1", nil, "https://pay.example.com/link-1",
		int64(500), "JPY", string(status), []byte(`{"location":"Studio A"}`), now, now, nil,
	)
}

func TestPaymentIntentCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentIntentRepository(db)

	t.Run("Assigns ID And Timestamps", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_intents`).WillReturnResult(sqlmock.NewResult(0, 1))

		intent := &models.PaymentIntent{
			ReservationIDs: models.UUIDArray{uuid.New()},
			OrderID:        "ORD-1",
			Amount:         500,
			Currency:       "JPY",
			Status:         models.PaymentIntentPending,
		}
		err := repo.Create(context.Background(), intent)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, intent.ID)
		assert.False(t, intent.CreatedAt.IsZero())
		assert.Equal(t, intent.CreatedAt, intent.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_intents`).WillReturnError(fmt.Errorf("duplicate key"))

		err := repo.Create(context.Background(), &models.PaymentIntent{OrderID: "ORD-1"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create payment intent")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindByOrderReference(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentIntentRepository(db)

	t.Run("Found", func(t *testing.T) {
		id := uuid.New()
		r1, r2 := uuid.New(), uuid.New()
		mock.ExpectQuery(`WHERE gateway_order_id = \$1 OR order_id = \$1`).
			WithArgs("GW-1").
			WillReturnRows(intentRow(id, models.PaymentIntentPending, r1, r2))

		intent, err := repo.FindByOrderReference(context.Background(), "GW-1")
		require.NoError(t, err)
		require.NotNil(t, intent)
		assert.Equal(t, id, intent.ID)
		assert.Equal(t, models.UUIDArray{r1, r2}, intent.ReservationIDs)
		assert.Equal(t, int64(500), intent.Amount)
		assert.Equal(t, "Studio A", intent.Metadata["location"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`FROM payment_intents`).WillReturnRows(sqlmock.NewRows(intentRowColumns))

		intent, err := repo.FindByOrderReference(context.Background(), "missing")
		assert.NoError(t, err)
		assert.Nil(t, intent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending Intent Is Completed", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentIntentRepository(db)
		id, resID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM payment_intents WHERE id = \$1 FOR UPDATE`).
			WithArgs(id.String()).
			WillReturnRows(intentRow(id, models.PaymentIntentPending, resID))
		mock.ExpectExec(`UPDATE payment_intents`).
			WithArgs(id.String(), "completed", "pay-9", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE reservations`).
			WithArgs(sqlmock.AnyArg(), "confirmed", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		intent, applied, err := repo.Finalize(ctx, id, models.PaymentIntentCompleted, "pay-9")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.PaymentIntentCompleted, intent.Status)
		require.NotNil(t, intent.GatewayPaymentID)
		assert.Equal(t, "pay-9", *intent.GatewayPaymentID)
		assert.NotNil(t, intent.FinalizedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Final Intent Is Left Alone", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentIntentRepository(db)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(intentRow(id, models.PaymentIntentCompleted, uuid.New()))
		mock.ExpectRollback()

		intent, applied, err := repo.Finalize(ctx, id, models.PaymentIntentFailed, "")
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.PaymentIntentCompleted, intent.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rejects Non Final Target", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewPaymentIntentRepository(db)

		_, _, err := repo.Finalize(ctx, uuid.New(), models.PaymentIntentPending, "")
		assert.Error(t, err)
	})
}

func TestCancelOrphanedReservations(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentIntentRepository(db)
	cutoff := time.Now().Add(-time.Hour)
	orphan := uuid.New()

	mock.ExpectQuery(`UPDATE reservations\s+SET status = 'cancelled'.*NOT EXISTS.*pi.status = 'pending' AND r.id = ANY\(pi.reservation_ids\).*RETURNING id`).
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(orphan.String()))

	ids, err := repo.CancelOrphanedReservations(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphan}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAuditLog(t *testing.T) {
	db, mock := newMockDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	repo := NewPaymentAuditRepository(db, logger)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		audit := models.NewPaymentAudit(models.PaymentEventDuplicate, models.PaymentSourceWebhook).MarkDuplicate()
		assert.NoError(t, repo.Log(context.Background(), audit))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nil Entry", func(t *testing.T) {
		assert.Error(t, repo.Log(context.Background(), nil))
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnError(fmt.Errorf("disk full"))

		err := repo.Log(context.Background(), models.NewPaymentAudit(models.PaymentEventReceived, models.PaymentSourceQueue))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to write payment audit")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
