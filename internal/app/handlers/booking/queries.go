package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"venuebook/internal/app/dto"
	handlersupport "venuebook/internal/app/handlers/support"
	"venuebook/internal/app/queries"
	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
)

const (
	defaultListLimit       = 60
	maxListLimit           = 200
	allStatusesFilterValue = "all"
)

var ErrInvalidStatusFilter = errors.New("booking: unknown status filter")

type GetBookingQuery struct {
	Actor     Actor
	BookingID string `validate:"required,notblank"`
}

func (q GetBookingQuery) Name() queries.Name { return queries.GetBooking }

type GetBookingHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetBookingHandler) Handle(ctx context.Context, q GetBookingQuery) (dto.BookingDTO, error) {
	return handlersupport.Read(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (dto.BookingDTO, error) {
		b, err := visibleBooking(ctx, unit, q.Actor, q.BookingID)
		if err != nil {
			return dto.BookingDTO{}, err
		}
		return dto.MapBooking(b), nil
	})
}

type ListHostBookingsQuery struct {
	HostID string `validate:"required,notblank"`
	Status string
	Limit  int `validate:"gte=0"`
}

func (q ListHostBookingsQuery) Name() queries.Name { return queries.ListHostBookings }

type ListHostBookingsHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

// Handle lists the host's bookings, newest first. An empty status filter
// shows the requests still waiting for a decision.
func (h *ListHostBookingsHandler) Handle(ctx context.Context, q ListHostBookingsQuery) (dto.BookingCollection, error) {
	status := strings.TrimSpace(q.Status)
	if status == "" {
		status = string(domainbooking.StatusPending)
	}
	filter, err := listFilter(status, q.Limit)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	items, err := handlersupport.Read(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) ([]*domainbooking.Booking, error) {
		return unit.Bookings().ListByHost(ctx, domainplaces.HostID(q.HostID), filter)
	})
	if err != nil {
		return dto.BookingCollection{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("host bookings listed", "host_id", q.HostID, "count", len(items), "status", status)
	}
	return dto.MapBookings(items), nil
}

type ListClientBookingsQuery struct {
	ClientID string `validate:"required,notblank"`
	Status   string
	Limit    int `validate:"gte=0"`
}

func (q ListClientBookingsQuery) Name() queries.Name { return queries.ListClientBookings }

type ListClientBookingsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListClientBookingsHandler) Handle(ctx context.Context, q ListClientBookingsQuery) (dto.BookingCollection, error) {
	filter, err := listFilter(q.Status, q.Limit)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	items, err := handlersupport.Read(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) ([]*domainbooking.Booking, error) {
		return unit.Bookings().ListByClient(ctx, q.ClientID, filter)
	})
	if err != nil {
		return dto.BookingCollection{}, err
	}
	return dto.MapBookings(items), nil
}

type ListBookingTransactionsQuery struct {
	Actor     Actor
	BookingID string `validate:"required,notblank"`
}

func (q ListBookingTransactionsQuery) Name() queries.Name { return queries.ListBookingTransactions }

type ListBookingTransactionsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListBookingTransactionsHandler) Handle(ctx context.Context, q ListBookingTransactionsQuery) (dto.TransactionCollection, error) {
	return handlersupport.Read(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (dto.TransactionCollection, error) {
		b, err := visibleBooking(ctx, unit, q.Actor, q.BookingID)
		if err != nil {
			return dto.TransactionCollection{}, err
		}
		txs, err := unit.Ledger().ListByBooking(ctx, b.ID)
		if err != nil {
			return dto.TransactionCollection{}, err
		}
		return dto.MapTransactions(txs), nil
	})
}

func visibleBooking(ctx context.Context, unit uow.UnitOfWork, actor Actor, rawID string) (*domainbooking.Booking, error) {
	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(strings.TrimSpace(rawID)))
	if err != nil {
		return nil, err
	}
	if err := VisibleTo(actor)(b); err != nil {
		return nil, err
	}
	return b, nil
}

// listFilter maps the status query parameter. "all" and "" mean no filter;
// values this build does not know are rejected.
func listFilter(raw string, limit int) (domainbooking.ListFilter, error) {
	filter := domainbooking.ListFilter{Limit: limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, allStatusesFilterValue) {
		return filter, nil
	}
	kind := domainbooking.ParseStatusKind(raw)
	if kind == domainbooking.StatusUnknown {
		return domainbooking.ListFilter{}, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, raw)
	}
	filter.Status = kind
	return filter, nil
}

var (
	_ queries.Handler[GetBookingQuery, dto.BookingDTO]                         = (*GetBookingHandler)(nil)
	_ queries.Handler[ListHostBookingsQuery, dto.BookingCollection]            = (*ListHostBookingsHandler)(nil)
	_ queries.Handler[ListClientBookingsQuery, dto.BookingCollection]          = (*ListClientBookingsHandler)(nil)
	_ queries.Handler[ListBookingTransactionsQuery, dto.TransactionCollection] = (*ListBookingTransactionsHandler)(nil)
)
