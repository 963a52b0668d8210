package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func duplicateKey() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})
}

func paymeAttempt(amount int64) domainpayments.Attempt {
	return domainpayments.Attempt{
		BookingID:    "bk-1",
		Provider:     domainpayments.ProviderPayme,
		ProviderTxID: "tx-1",
		Amount:       money.Must(amount, "UZS"),
		Status:       domainpayments.TxInitiated,
		At:           t0,
	}
}

func newBooking(t *testing.T) *domainbooking.Booking {
	t.Helper()
	start := t0.Add(72 * time.Hour)
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:       "bk-1",
		PlaceID:  "place-1",
		HostID:   "host-1",
		ClientID: "client-1",
		Slots:    timeslot.Set{{Start: start, End: start.Add(2 * time.Hour)}},
		Fees: domainpricing.Breakdown{
			BasePrice:         money.Must(100_000, "UZS"),
			ServiceFee:        money.Must(5_000, "UZS"),
			ProtectionPlanFee: money.Zero("UZS"),
			FinalTotal:        money.Must(105_000, "UZS"),
		},
		CreatedAt: t0,
	})
	require.NoError(t, err)
	return b
}

func TestLedger_RecordDuplicateReturnsStoredRow(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("replay", func(mt *mtest.T) {
		ctx := context.Background()
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		ledger, err := NewLedger(ctx, mt.DB)
		require.NoError(mt, err)

		ns := mt.DB.Name() + ".payment_transactions"
		mt.AddMockResponses(
			duplicateKey(),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "ptx-1"},
				{Key: "booking_id", Value: "bk-1"},
				{Key: "provider", Value: "payme"},
				{Key: "provider_tx_id", Value: "tx-1"},
				{Key: "amount", Value: int64(105_000)},
				{Key: "currency", Value: "UZS"},
				{Key: "status", Value: string(domainpayments.TxInitiated)},
				{Key: "created_at", Value: t0},
				{Key: "updated_at", Value: t0},
			}),
		)

		res, err := ledger.Record(ctx, paymeAttempt(99_000))
		require.NoError(mt, err)
		assert.False(mt, res.IsNew)
		assert.True(mt, res.AmountMismatch)
		assert.False(mt, res.BookingMismatch)
		assert.Equal(mt, "ptx-1", res.Transaction.ID)
		assert.Equal(mt, money.Must(105_000, "UZS"), res.Transaction.Amount)
		assert.Equal(mt, t0, res.Transaction.CreatedAt)
	})

	mt.Run("first write", func(mt *mtest.T) {
		ctx := context.Background()
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		ledger, err := NewLedger(ctx, mt.DB)
		require.NoError(mt, err)

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		res, err := ledger.Record(ctx, paymeAttempt(105_000))
		require.NoError(mt, err)
		assert.True(mt, res.IsNew)
		assert.Equal(mt, domainpayments.TxInitiated, res.Transaction.Status)
	})
}

func TestBookingRepository_SaveCompareAndSet(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("zero match is a lost race", func(mt *mtest.T) {
		repo := NewBookingRepository(mt.DB)
		b := newBooking(mt.T)
		b.Version = 3

		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))
		err := repo.Save(context.Background(), b)
		require.ErrorIs(mt, err, domainbooking.ErrConcurrentUpdate)
		assert.EqualValues(mt, 3, b.Version)
	})

	mt.Run("upsert collision is a lost race", func(mt *mtest.T) {
		repo := NewBookingRepository(mt.DB)
		b := newBooking(mt.T)

		mt.AddMockResponses(duplicateKey())
		err := repo.Save(context.Background(), b)
		require.ErrorIs(mt, err, domainbooking.ErrConcurrentUpdate)
		assert.Zero(mt, b.Version)
	})

	mt.Run("match bumps version", func(mt *mtest.T) {
		repo := NewBookingRepository(mt.DB)
		b := newBooking(mt.T)
		b.Version = 3

		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		require.NoError(mt, repo.Save(context.Background(), b))
		assert.EqualValues(mt, 4, b.Version)
	})
}

func TestIdempotencyStore_ReserveCollisionKeepsOwner(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reserve", func(mt *mtest.T) {
		ctx := context.Background()
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store, err := NewIdempotencyStore(ctx, mt.DB, time.Hour)
		require.NoError(mt, err)

		mt.AddMockResponses(duplicateKey())
		ok, err := store.Reserve(ctx, "booking.request:k", t0, t0.Add(-time.Minute))
		require.NoError(mt, err)
		assert.False(mt, ok)

		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "booking.request:k"}}}},
		))
		ok, err = store.Reserve(ctx, "booking.request:k", t0, t0.Add(-time.Minute))
		require.NoError(mt, err)
		assert.True(mt, ok)
	})

	mt.Run("get", func(mt *mtest.T) {
		ctx := context.Background()
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store, err := NewIdempotencyStore(ctx, mt.DB, time.Hour)
		require.NoError(mt, err)

		ns := mt.DB.Name() + ".app_idempotency"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "booking.request:k"},
			{Key: "key", Value: "booking.request:k"},
			{Key: "error", Value: "pricing: requested duration is below the place minimum"},
			{Key: "error_code", Value: domainpricing.ErrDurationTooShort.Error()},
			{Key: "pending", Value: false},
			{Key: "occurred_at", Value: t0},
		}))
		rec, found, err := store.Get(ctx, "booking.request:k")
		require.NoError(mt, err)
		require.True(mt, found)
		assert.False(mt, rec.Pending)
		assert.Equal(mt, domainpricing.ErrDurationTooShort.Error(), rec.ErrorCode)
		assert.Equal(mt, t0, rec.OccurredAt)
	})
}
