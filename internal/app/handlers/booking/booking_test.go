package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	"venuebook/internal/app/middleware"
	"venuebook/internal/app/outbox"
	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
	infrapricing "venuebook/internal/infra/pricing"
	"venuebook/internal/infra/storage/memory"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *memory.BookingRepository
	places  *memory.PlaceStore
	outbox  *memory.Outbox
	factory memory.Factory
	machine *statemachine.Machine
	request *RequestBookingHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewBookingRepository(),
		places: memory.NewPlaceStore(),
		outbox: memory.NewOutbox(),
	}
	f.places.Upsert(domainplaces.Place{
		ID:       "place-1",
		HostID:   "host-1",
		Name:     "Rooftop",
		Currency: "UZS",
		Pricing: domainpricing.Pricing{
			HourlyRate:   money.Must(10_000_000, "UZS"),
			MinimumHours: 2,
		},
		RefundOptions: []domainplaces.RefundOption{
			{WindowHours: 48, RefundPercentage: 100},
			{WindowHours: 24, RefundPercentage: 50},
		},
		Perks: []domainplaces.Perk{{Name: "Sound system", IsPaid: true, Price: money.Must(2_000_000, "UZS")}},
	})
	f.factory = memory.Factory{
		BookingRepo: f.repo,
		Directory:   domainplaces.NewDirectory(f.places),
		LedgerStore: memory.NewLedger(),
	}
	clock := func() time.Time { return now }
	f.machine = statemachine.New(f.repo, nil, statemachine.WithClock(clock))
	f.request = &RequestBookingHandler{
		UoWFactory: f.factory,
		Pricing:    infrapricing.Quoter{Policy: domainpricing.FeePolicy{ServiceFeeBasisPoints: 500}},
		Outbox:     f.outbox,
		Encoder:    outbox.JSONEventEncoder{},
		Now:        clock,
	}
	return f
}

func (f *fixture) pipeline() commands.Bus {
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, commands.Handler[RequestBookingCommand, *RequestBookingResult](f.request))
	commands.RegisterHandler(bus, commands.Handler[HostSelectBookingCommand, *dto.BookingActionResult](&HostSelectBookingHandler{Machine: f.machine}))
	return middleware.ChainCommands(bus,
		middleware.Idempotency(memory.NewIdempotencyStore(), nil, middleware.ReplayErrors(FinalErrors...)),
		middleware.Transaction(f.factory, nil),
		middleware.OutboxFlush(f.outbox, nil),
	)
}

func (f *fixture) requestBooking(t *testing.T, id, clientID string) *RequestBookingResult {
	t.Helper()
	start := now.Add(72 * time.Hour)
	res, err := f.request.Handle(context.Background(), RequestBookingCommand{
		BookingID: id,
		PlaceID:   "place-1",
		ClientID:  clientID,
		Slots:     []SlotInput{{Start: start, End: start.Add(3 * time.Hour)}},
		Perks:     []string{"Sound system"},
	})
	require.NoError(t, err)
	return res
}

func TestRequestBooking_PricesAndSnapshotsRefundPolicy(t *testing.T) {
	f := newFixture(t)
	res := f.requestBooking(t, "bk-1", "client-1")

	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, int64(32_000_000), res.Fees.BasePrice.Amount)
	assert.Equal(t, int64(1_600_000), res.Fees.ServiceFee.Amount)
	assert.Equal(t, int64(33_600_000), res.Total.Amount)

	place, err := f.places.Place(context.Background(), "place-1")
	require.NoError(t, err)
	place.RefundOptions = []domainplaces.RefundOption{{WindowHours: 1, RefundPercentage: 0}}
	f.places.Upsert(*place)

	b, err := f.repo.ByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, []domainplaces.RefundOption{
		{WindowHours: 48, RefundPercentage: 100},
		{WindowHours: 24, RefundPercentage: 50},
	}, b.RefundPolicy.Options())
	assert.Equal(t, domainplaces.HostID("host-1"), b.HostID)

	pending := f.outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "booking.requested", pending[0].Name)
	assert.Equal(t, "bk-1", pending[0].Aggregate)
}

func TestRequestBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	_, err := f.request.Handle(ctx, RequestBookingCommand{
		BookingID: "bk-past",
		PlaceID:   "place-1",
		ClientID:  "client-1",
		Slots:     []SlotInput{{Start: past, End: past.Add(3 * time.Hour)}},
	})
	assert.ErrorIs(t, err, timeslot.ErrSlotInPast)

	start := now.Add(24 * time.Hour)
	_, err = f.request.Handle(ctx, RequestBookingCommand{
		BookingID: "bk-short",
		PlaceID:   "place-1",
		ClientID:  "client-1",
		Slots:     []SlotInput{{Start: start, End: start.Add(time.Hour)}},
	})
	assert.ErrorIs(t, err, domainpricing.ErrDurationTooShort)

	_, err = f.request.Handle(ctx, RequestBookingCommand{
		BookingID: "bk-nowhere",
		PlaceID:   "place-404",
		ClientID:  "client-1",
		Slots:     []SlotInput{{Start: start, End: start.Add(3 * time.Hour)}},
	})
	assert.ErrorIs(t, err, domainplaces.ErrPlaceNotFound)

	_, err = f.repo.ByID(ctx, "bk-short")
	assert.ErrorIs(t, err, domainbooking.ErrBookingNotFound)
}

func TestHostSelect_RequiresOwnershipAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.requestBooking(t, "bk-1", "client-1")
	h := &HostSelectBookingHandler{Machine: f.machine}
	ctx := context.Background()

	_, err := h.Handle(ctx, HostSelectBookingCommand{HostID: "host-2", BookingID: "bk-1"})
	assert.ErrorIs(t, err, domainbooking.ErrNotOwned)

	res, err := h.Handle(ctx, HostSelectBookingCommand{HostID: "host-1", BookingID: "bk-1"})
	require.NoError(t, err)
	assert.Equal(t, "selected", res.Status)
	assert.True(t, res.Changed)

	res, err = h.Handle(ctx, HostSelectBookingCommand{HostID: "host-1", BookingID: "bk-1"})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	reject := &HostRejectBookingHandler{Machine: f.machine}
	rejected, err := reject.Handle(ctx, HostRejectBookingCommand{HostID: "host-1", BookingID: "bk-1"})
	require.NoError(t, err)
	assert.Equal(t, "rejected", rejected.Status)

	_, err = h.Handle(ctx, HostSelectBookingCommand{HostID: "host-1", BookingID: "bk-1"})
	assert.ErrorIs(t, err, domainbooking.ErrInvalidTransition)
}

func TestCancel_ByClientCarriesRefundQuote(t *testing.T) {
	f := newFixture(t)
	f.requestBooking(t, "bk-1", "client-1")
	h := &CancelBookingHandler{Machine: f.machine}
	ctx := context.Background()

	_, err := h.Handle(ctx, CancelBookingCommand{Actor: Actor{ID: "client-2", Role: RoleClient}, BookingID: "bk-1"})
	assert.ErrorIs(t, err, domainbooking.ErrNotOwned)

	res, err := h.Handle(ctx, CancelBookingCommand{Actor: Actor{ID: "client-1", Role: RoleClient}, BookingID: "bk-1"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", res.Status)
	require.NotNil(t, res.Refund)
	assert.Equal(t, 100, res.Refund.Percentage)
	assert.Equal(t, 48, res.Refund.WindowHours)
	assert.Equal(t, int64(33_600_000), res.Refund.Amount.Amount)

	b, err := f.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	cancelled, ok := b.Status.(domainbooking.Cancelled)
	require.True(t, ok)
	assert.Equal(t, "client-cancelled", cancelled.Reason)
}

func TestQueries_VisibilityAndFilters(t *testing.T) {
	f := newFixture(t)
	f.requestBooking(t, "bk-1", "client-1")
	f.requestBooking(t, "bk-2", "client-2")
	_, err := f.machine.HostSelects(context.Background(), "bk-2", nil)
	require.NoError(t, err)
	ctx := context.Background()

	get := &GetBookingHandler{UoWFactory: f.factory}
	_, err = get.Handle(ctx, GetBookingQuery{Actor: Actor{ID: "client-2", Role: RoleClient}, BookingID: "bk-1"})
	assert.ErrorIs(t, err, domainbooking.ErrNotOwned)
	details, err := get.Handle(ctx, GetBookingQuery{Actor: Actor{ID: "host-1", Role: RoleHost}, BookingID: "bk-1"})
	require.NoError(t, err)
	assert.Equal(t, "pending", details.Status.Kind)

	host := &ListHostBookingsHandler{UoWFactory: f.factory}
	pending, err := host.Handle(ctx, ListHostBookingsQuery{HostID: "host-1"})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, "bk-1", pending.Items[0].ID)

	all, err := host.Handle(ctx, ListHostBookingsQuery{HostID: "host-1", Status: "ALL"})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	_, err = host.Handle(ctx, ListHostBookingsQuery{HostID: "host-1", Status: "paid"})
	assert.ErrorIs(t, err, ErrInvalidStatusFilter)

	client := &ListClientBookingsHandler{UoWFactory: f.factory}
	mine, err := client.Handle(ctx, ListClientBookingsQuery{ClientID: "client-2"})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, "selected", mine.Items[0].Status.Kind)
	assert.NotNil(t, mine.Items[0].Status.SelectedAt)

	txs := &ListBookingTransactionsHandler{UoWFactory: f.factory}
	list, err := txs.Handle(ctx, ListBookingTransactionsQuery{Actor: Actor{ID: "client-2", Role: RoleClient}, BookingID: "bk-2"})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestCommandBus_IdempotencyKeyReplaysResult(t *testing.T) {
	f := newFixture(t)
	pipeline := f.pipeline()
	ctx := context.Background()
	start := now.Add(72 * time.Hour)
	cmd := RequestBookingCommand{
		BookingID:       "bk-1",
		PlaceID:         "place-1",
		ClientID:        "client-1",
		Slots:           []SlotInput{{Start: start, End: start.Add(2 * time.Hour)}},
		IdempotencyKeyV: "key-1",
	}
	first, err := commands.Dispatch[RequestBookingCommand, *RequestBookingResult](ctx, pipeline, cmd)
	require.NoError(t, err)

	cmd.BookingID = "bk-other"
	second, err := commands.Dispatch[RequestBookingCommand, *RequestBookingResult](ctx, pipeline, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	_, err = f.repo.ByID(ctx, "bk-other")
	assert.ErrorIs(t, err, domainbooking.ErrBookingNotFound)

	selected, err := commands.Dispatch[HostSelectBookingCommand, *dto.BookingActionResult](ctx, pipeline, HostSelectBookingCommand{HostID: "host-1", BookingID: "bk-1", IdempotencyKeyV: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "selected", selected.Status)
}

func TestCommandBus_ReplayedRejectionKeepsItsCause(t *testing.T) {
	f := newFixture(t)
	pipeline := f.pipeline()
	ctx := context.Background()
	start := now.Add(72 * time.Hour)
	cmd := RequestBookingCommand{
		BookingID:       "bk-1",
		PlaceID:         "place-1",
		ClientID:        "client-1",
		Slots:           []SlotInput{{Start: start, End: start.Add(time.Hour)}},
		IdempotencyKeyV: "key-short",
	}
	_, err := commands.Dispatch[RequestBookingCommand, *RequestBookingResult](ctx, pipeline, cmd)
	require.ErrorIs(t, err, domainpricing.ErrDurationTooShort)

	cmd.Slots = []SlotInput{{Start: start, End: start.Add(3 * time.Hour)}}
	_, err = commands.Dispatch[RequestBookingCommand, *RequestBookingResult](ctx, pipeline, cmd)
	require.ErrorIs(t, err, middleware.ErrReplayedFailure)
	assert.ErrorIs(t, err, domainpricing.ErrDurationTooShort)
	_, err = f.repo.ByID(ctx, "bk-1")
	assert.ErrorIs(t, err, domainbooking.ErrBookingNotFound)
}
