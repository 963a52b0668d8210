package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

var (
	created = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	start   = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

var bookingCols = []string{
	"id", "place_id", "host_id", "client_id", "slots", "perks", "currency", "base_price", "service_fee",
	"protection_plan_selected", "protection_plan_fee", "final_total", "refund_policy", "status", "selected_at",
	"paid_at", "approved_at", "rejected_at", "cancelled_at", "status_reason", "refund_percent", "refund_amount",
	"refund_window", "payment_provider", "payment_reference", "created_at", "updated_at", "version",
}

func newTestBooking(t *testing.T) *domainbooking.Booking {
	t.Helper()
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:       "bk-1",
		PlaceID:  "place-1",
		HostID:   "host-1",
		ClientID: "client-1",
		Slots:    timeslot.Set{{Start: start, End: start.Add(2 * time.Hour)}},
		Perks:    []string{"Projector"},
		Fees: domainpricing.Breakdown{
			BasePrice:         money.Must(20_000_000, "UZS"),
			ServiceFee:        money.Must(1_000_000, "UZS"),
			ProtectionPlanFee: money.Must(0, "UZS"),
			FinalTotal:        money.Must(21_000_000, "UZS"),
		},
		RefundPolicy: domainbooking.RestoreRefundPolicy([]domainplaces.RefundOption{{WindowHours: 48, RefundPercentage: 100}}),
		CreatedAt:    created,
	})
	require.NoError(t, err)
	return b
}

func cancelledRow() *sqlmock.Rows {
	selected := created.Add(time.Hour)
	cancelled := created.Add(2 * time.Hour)
	return sqlmock.NewRows(bookingCols).AddRow(
		"bk-1", "place-1", "host-1", "client-1",
		[]byte(`[{"start":"2026-05-04T10:00:00Z","end":"2026-05-04T12:00:00Z"}]`), "{Projector}", "UZS",
		20_000_000, 1_000_000, false, 0, 21_000_000,
		[]byte(`[{"window_hours":48,"refund_percentage":100}]`), "cancelled", selected,
		nil, nil, nil, cancelled, "client-cancelled", 100, 21_000_000,
		48, "payme", "tx-1", created, cancelled, 3,
	)
}

func TestBookingRepository_InsertStartsAtVersionOne(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)
	b := newTestBooking(t)

	mock.ExpectExec(q("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), b))
	assert.EqualValues(t, 1, b.Version)
}

func TestBookingRepository_DuplicateInsertIsConflict(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)
	b := newTestBooking(t)

	mock.ExpectExec(q("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), b)
	assert.ErrorIs(t, err, domainbooking.ErrConcurrentUpdate)
	assert.Zero(t, b.Version)
}

func TestBookingRepository_StaleUpdateIsConflict(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)
	b := newTestBooking(t)
	b.Version = 3
	b.Status = domainbooking.Selected{SelectedAt: created.Add(time.Hour)}

	mock.ExpectExec(q("UPDATE bookings SET status = $1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("UPDATE bookings SET status = $1")).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), b)
	assert.ErrorIs(t, err, domainbooking.ErrConcurrentUpdate)
	assert.EqualValues(t, 3, b.Version)

	require.NoError(t, repo.Save(context.Background(), b))
	assert.EqualValues(t, 4, b.Version)
}

func TestBookingRepository_ByIDRestoresStatusAndSnapshot(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)

	mock.ExpectQuery(q("SELECT id, place_id")).WithArgs("bk-1").WillReturnRows(cancelledRow())

	b, err := repo.ByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Version)
	assert.Equal(t, []string{"Projector"}, b.Perks)
	assert.Equal(t, money.Must(21_000_000, "UZS"), b.Total())
	assert.Equal(t, start, b.StartsAt())
	assert.Equal(t, []domainplaces.RefundOption{{WindowHours: 48, RefundPercentage: 100}}, b.RefundPolicy.Options())
	assert.Equal(t, domainbooking.PaymentRef{Provider: "payme", Reference: "tx-1"}, b.Payment)

	cancelled, ok := b.Status.(domainbooking.Cancelled)
	require.True(t, ok)
	assert.Equal(t, "client-cancelled", cancelled.Reason)
	assert.Equal(t, created.Add(time.Hour), cancelled.SelectedAt)
	assert.Equal(t, 100, cancelled.Refund.Percentage)
	assert.Equal(t, money.Must(21_000_000, "UZS"), cancelled.Refund.Amount)
}

func TestBookingRepository_ByIDNotFound(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)

	mock.ExpectQuery(q("SELECT id, place_id")).WithArgs("missing").WillReturnRows(sqlmock.NewRows(bookingCols))

	_, err := repo.ByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domainbooking.ErrBookingNotFound)
}

func TestBookingRepository_ListByHostAppliesFilter(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)

	mock.ExpectQuery(q("FROM bookings WHERE host_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs("host-1", "cancelled", 10).
		WillReturnRows(cancelledRow())

	out, err := repo.ListByHost(context.Background(), "host-1", domainbooking.ListFilter{Status: domainbooking.StatusCancelled, Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domainbooking.BookingID("bk-1"), out[0].ID)
}

func TestBookingRepository_ListSelectedBefore(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)
	cutoff := created.Add(24 * time.Hour)

	mock.ExpectQuery(q("WHERE status = $1 AND selected_at < $2 ORDER BY selected_at LIMIT $3")).
		WithArgs("selected", cutoff, 50).
		WillReturnRows(sqlmock.NewRows(bookingCols))

	out, err := repo.ListSelectedBefore(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBookingRepository_UsesUnitTransaction(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewBookingRepository(db)
	factory := Factory{DB: db, BookingRepo: repo, Directory: domainplaces.NewDirectory(NewPlaceRepository(db)), LedgerStore: NewLedger(db)}

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id, place_id")).WithArgs("bk-1").WillReturnRows(cancelledRow())
	mock.ExpectCommit()

	unit, err := factory.Begin(context.Background(), uow.TxOptions{})
	require.NoError(t, err)
	ctx := unit.(*Unit).InjectContext(context.Background())
	_, err = unit.Bookings().ByID(ctx, "bk-1")
	require.NoError(t, err)
	require.NoError(t, unit.Commit(ctx))
	require.NoError(t, unit.Rollback(ctx))
}
