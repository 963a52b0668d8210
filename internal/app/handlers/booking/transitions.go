package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	"venuebook/internal/app/middleware"
	"venuebook/internal/app/statemachine"
	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
)

const (
	RoleClient = "client"
	RoleHost   = "host"
)

// Actor is the authenticated caller of a command or query.
type Actor struct {
	ID   string `validate:"required,notblank"`
	Role string `validate:"oneof=client host"`
}

// Transitions is the part of the state machine the command handlers drive.
type Transitions interface {
	HostSelects(ctx context.Context, id domainbooking.BookingID, guard statemachine.Guard) (statemachine.Result, error)
	HostRejects(ctx context.Context, id domainbooking.BookingID, reason string, guard statemachine.Guard) (statemachine.Result, error)
	Cancel(ctx context.Context, id domainbooking.BookingID, reason string, guard statemachine.Guard) (statemachine.Result, error)
}

// bypassTransaction is embedded by commands whose only write is the state
// machine's own compare-and-set.
type bypassTransaction struct{}

func (bypassTransaction) TxOptions() uow.TxOptions { return uow.TxOptions{Bypass: true} }

type HostSelectBookingCommand struct {
	bypassTransaction
	HostID          string `validate:"required,notblank"`
	BookingID       string `validate:"required,notblank"`
	IdempotencyKeyV string
}

func (c HostSelectBookingCommand) Name() commands.Name      { return commands.HostSelectBooking }
func (c HostSelectBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }
func (c HostSelectBookingCommand) ResultPrototype() any   { return &dto.BookingActionResult{} }

type HostRejectBookingCommand struct {
	bypassTransaction
	HostID          string `validate:"required,notblank"`
	BookingID       string `validate:"required,notblank"`
	Reason          string `validate:"max=500"`
	IdempotencyKeyV string
}

func (c HostRejectBookingCommand) Name() commands.Name      { return commands.HostRejectBooking }
func (c HostRejectBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }
func (c HostRejectBookingCommand) ResultPrototype() any   { return &dto.BookingActionResult{} }

type CancelBookingCommand struct {
	bypassTransaction
	Actor           Actor
	BookingID       string `validate:"required,notblank"`
	Reason          string `validate:"max=500"`
	IdempotencyKeyV string
}

func (c CancelBookingCommand) Name() commands.Name      { return commands.CancelBooking }
func (c CancelBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }
func (c CancelBookingCommand) ResultPrototype() any   { return &dto.BookingActionResult{} }

type HostSelectBookingHandler struct {
	Machine Transitions
	Logger  *slog.Logger
}

func (h *HostSelectBookingHandler) Handle(ctx context.Context, cmd HostSelectBookingCommand) (*dto.BookingActionResult, error) {
	res, err := h.Machine.HostSelects(ctx, domainbooking.BookingID(cmd.BookingID), OwnedByHost(cmd.HostID))
	if err != nil {
		return nil, err
	}
	logAction(h.Logger, "host booking selected", res, "host_id", cmd.HostID)
	return actionResult(res), nil
}

type HostRejectBookingHandler struct {
	Machine Transitions
	Logger  *slog.Logger
}

func (h *HostRejectBookingHandler) Handle(ctx context.Context, cmd HostRejectBookingCommand) (*dto.BookingActionResult, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "host-rejected"
	}
	res, err := h.Machine.HostRejects(ctx, domainbooking.BookingID(cmd.BookingID), reason, OwnedByHost(cmd.HostID))
	if err != nil {
		return nil, err
	}
	logAction(h.Logger, "host booking rejected", res, "host_id", cmd.HostID, "reason", reason)
	return actionResult(res), nil
}

type CancelBookingHandler struct {
	Machine Transitions
	Logger  *slog.Logger
}

func (h *CancelBookingHandler) Handle(ctx context.Context, cmd CancelBookingCommand) (*dto.BookingActionResult, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = cmd.Actor.Role + "-cancelled"
	}
	res, err := h.Machine.Cancel(ctx, domainbooking.BookingID(cmd.BookingID), reason, VisibleTo(cmd.Actor))
	if err != nil {
		return nil, err
	}
	logAction(h.Logger, "booking cancelled", res, "actor_id", cmd.Actor.ID, "role", cmd.Actor.Role)
	return actionResult(res), nil
}

// OwnedByHost rejects bookings at places the host does not own.
func OwnedByHost(hostID string) statemachine.Guard {
	return func(b *domainbooking.Booking) error {
		if strings.TrimSpace(hostID) == "" || b.HostID != domainplaces.HostID(hostID) {
			return fmt.Errorf("%w: booking %s", domainbooking.ErrNotOwned, b.ID)
		}
		return nil
	}
}

// VisibleTo lets the booking's client or the place's host through.
func VisibleTo(actor Actor) statemachine.Guard {
	return func(b *domainbooking.Booking) error {
		switch actor.Role {
		case RoleClient:
			if actor.ID != "" && b.ClientID == actor.ID {
				return nil
			}
		case RoleHost:
			return OwnedByHost(actor.ID)(b)
		}
		return fmt.Errorf("%w: booking %s", domainbooking.ErrNotOwned, b.ID)
	}
}

func actionResult(res statemachine.Result) *dto.BookingActionResult {
	out := &dto.BookingActionResult{Status: string(res.To), Changed: res.Changed}
	if res.Booking != nil {
		out.BookingID = string(res.Booking.ID)
		if c, ok := res.Booking.Status.(domainbooking.Cancelled); ok {
			out.Refund = dto.MapRefundQuote(c.Refund)
		}
	}
	return out
}

func logAction(logger *slog.Logger, msg string, res statemachine.Result, args ...any) {
	if logger == nil || res.Booking == nil {
		return
	}
	args = append(args, "booking_id", res.Booking.ID, "status", res.To, "changed", res.Changed)
	logger.Info(msg, args...)
}

var (
	_ commands.Handler[HostSelectBookingCommand, *dto.BookingActionResult] = (*HostSelectBookingHandler)(nil)
	_ commands.Handler[HostRejectBookingCommand, *dto.BookingActionResult] = (*HostRejectBookingHandler)(nil)
	_ commands.Handler[CancelBookingCommand, *dto.BookingActionResult]     = (*CancelBookingHandler)(nil)

	_ middleware.IdempotentCommand    = HostSelectBookingCommand{}
	_ middleware.TransactionalCommand = HostSelectBookingCommand{}
	_ middleware.TransactionalCommand = HostRejectBookingCommand{}
	_ middleware.TransactionalCommand = CancelBookingCommand{}
)
