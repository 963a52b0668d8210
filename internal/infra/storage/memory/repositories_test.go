package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

func newBooking(t *testing.T, id string, status domainbooking.Status) *domainbooking.Booking {
	t.Helper()
	start := t0.Add(72 * time.Hour)
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:       domainbooking.BookingID(id),
		PlaceID:  "place-1",
		HostID:   "host-1",
		ClientID: "client-1",
		Slots:    timeslot.Set{{Start: start, End: start.Add(2 * time.Hour)}},
		Fees: domainpricing.Breakdown{
			BasePrice:         money.Must(1_000, "UZS"),
			ServiceFee:        money.Must(50, "UZS"),
			ProtectionPlanFee: money.Must(0, "UZS"),
			FinalTotal:        money.Must(1_050, "UZS"),
		},
		CreatedAt: t0,
	})
	require.NoError(t, err)
	b.Status = status
	return b
}

func TestBookingRepository_SaveIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewBookingRepository()
	b := newBooking(t, "bk-1", domainbooking.Pending{})
	require.NoError(t, repo.Save(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	a, err := repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	c, err := repo.ByID(ctx, "bk-1")
	require.NoError(t, err)

	a.Status = domainbooking.Selected{SelectedAt: t0}
	require.NoError(t, repo.Save(ctx, a))
	c.Status = domainbooking.Rejected{RejectedAt: t0}
	assert.ErrorIs(t, repo.Save(ctx, c), domainbooking.ErrConcurrentUpdate)

	stored, err := repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusSelected, stored.Kind())

	_, err = repo.ByID(ctx, "missing")
	assert.ErrorIs(t, err, domainbooking.ErrBookingNotFound)
}

func TestBookingRepository_ListSelectedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewBookingRepository()
	require.NoError(t, repo.Save(ctx, newBooking(t, "old", domainbooking.Selected{SelectedAt: t0.Add(-48 * time.Hour)})))
	require.NoError(t, repo.Save(ctx, newBooking(t, "fresh", domainbooking.Selected{SelectedAt: t0})))
	require.NoError(t, repo.Save(ctx, newBooking(t, "pending", domainbooking.Pending{})))

	got, err := repo.ListSelectedBefore(ctx, t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domainbooking.BookingID("old"), got[0].ID)

	hostList, err := repo.ListByHost(ctx, "host-1", domainbooking.ListFilter{Status: domainbooking.StatusPending})
	require.NoError(t, err)
	assert.Len(t, hostList, 1)
}

func TestPlaceStore_EditsDoNotLeakIntoBookingSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewPlaceStore()
	store.Upsert(domainplaces.Place{
		ID:            "place-1",
		HostID:        "host-1",
		Name:          "Loft",
		Currency:      "UZS",
		Pricing:       domainpricing.Pricing{HourlyRate: money.Must(100, "UZS"), MinimumHours: 1},
		RefundOptions: []domainplaces.RefundOption{{WindowHours: 24, RefundPercentage: 80}},
	})
	dir := domainplaces.NewDirectory(store)
	place, err := dir.Place(ctx, "place-1")
	require.NoError(t, err)

	repo := NewBookingRepository()
	b := newBooking(t, "bk-1", domainbooking.Pending{})
	b.RefundPolicy = domainbooking.SnapshotRefundPolicy(place)
	require.NoError(t, repo.Save(ctx, b))

	edited := *place
	edited.RefundOptions = []domainplaces.RefundOption{{WindowHours: 1, RefundPercentage: 0}}
	store.Upsert(edited)

	reread, err := repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, []domainplaces.RefundOption{{WindowHours: 24, RefundPercentage: 80}}, reread.RefundPolicy.Options())
}
