package booking

import (
	"context"
	"errors"
	"time"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	"venuebook/internal/app/middleware"
	"venuebook/internal/app/outbox"
	"venuebook/internal/app/policies"
	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	"venuebook/internal/domain/shared/timeslot"
)

type SlotInput struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

type RequestBookingCommand struct {
	BookingID       string      `validate:"required,notblank"`
	PlaceID         string      `validate:"required,notblank"`
	ClientID        string      `validate:"required,notblank"`
	Slots           []SlotInput `validate:"required,min=1,max=24,dive"`
	Perks           []string    `validate:"max=32,dive,required"`
	ProtectionPlan  bool
	IdempotencyKeyV string
}

func (c RequestBookingCommand) Name() commands.Name { return commands.RequestBooking }

func (c RequestBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c RequestBookingCommand) ResultPrototype() any { return &RequestBookingResult{} }

type RequestBookingResult struct {
	BookingID string       `json:"booking_id"`
	Status    string       `json:"status"`
	Fees      dto.FeesDTO  `json:"fees"`
	Total     dto.MoneyDTO `json:"total"`
}

type RequestBookingHandler struct {
	UoWFactory uow.UoWFactory
	Pricing    policies.PricingPort
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

var ErrUnitOfWorkRequired = errors.New("booking: unit of work required")

func (h *RequestBookingHandler) Handle(ctx context.Context, cmd RequestBookingCommand) (*RequestBookingResult, error) {
	unit, ok := uow.FromContext(ctx)
	managed := false
	committed := false
	if !ok {
		if h.UoWFactory == nil {
			return nil, ErrUnitOfWorkRequired
		}
		var err error
		unit, err = h.UoWFactory.Begin(ctx, uow.TxOptions{})
		if err != nil {
			return nil, err
		}
		ctx = uow.Enter(ctx, unit)
		managed = true
	}
	if managed {
		defer func() {
			if !committed {
				_ = unit.Rollback(ctx)
			}
		}()
	}

	now := h.now()
	raw := make([]timeslot.Slot, 0, len(cmd.Slots))
	for _, s := range cmd.Slots {
		raw = append(raw, timeslot.Slot{Start: s.Start, End: s.End})
	}
	slots, err := timeslot.NewSet(raw)
	if err != nil {
		return nil, err
	}
	if err := slots.NotBefore(now); err != nil {
		return nil, err
	}

	place, err := unit.Places().Place(ctx, domainplaces.PlaceID(cmd.PlaceID))
	if err != nil {
		return nil, err
	}

	fees, err := h.Pricing.Quote(ctx, policies.QuoteRequest{
		Place:          place,
		Slots:          slots,
		Perks:          cmd.Perks,
		ProtectionPlan: cmd.ProtectionPlan,
	})
	if err != nil {
		return nil, err
	}

	booking, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:           domainbooking.BookingID(cmd.BookingID),
		PlaceID:      place.ID,
		HostID:       place.HostID,
		ClientID:     cmd.ClientID,
		Slots:        slots,
		Perks:        cmd.Perks,
		Fees:         fees,
		RefundPolicy: domainbooking.SnapshotRefundPolicy(place),
		CreatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	if err := unit.Bookings().Save(ctx, booking); err != nil {
		return nil, err
	}

	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.encoder(), booking.Drain()); err != nil {
		return nil, err
	}

	if managed {
		if err := unit.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
	}

	details := dto.MapBooking(booking)
	return &RequestBookingResult{
		BookingID: details.ID,
		Status:    details.Status.Kind,
		Fees:      details.Fees,
		Total:     details.Fees.FinalTotal,
	}, nil
}

func (h *RequestBookingHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

func (h *RequestBookingHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var _ commands.Handler[RequestBookingCommand, *RequestBookingResult] = (*RequestBookingHandler)(nil)
var _ middleware.IdempotentCommand = (*RequestBookingCommand)(nil)
