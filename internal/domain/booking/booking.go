package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"venuebook/internal/domain/places"
	"venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/events"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

var (
	ErrInvalidTransition = errors.New("booking: invalid status transition")
	ErrBookingNotFound   = errors.New("booking: not found")
	ErrConcurrentUpdate  = errors.New("booking: concurrent update detected")
	ErrCorruptStatus     = errors.New("booking: stored status is inconsistent")
	ErrNotOwned          = errors.New("booking: not owned by caller")
	ErrClientRequired    = errors.New("booking: client id required")
	ErrPlaceRequired     = errors.New("booking: place and host required")
	ErrFeesInconsistent  = errors.New("booking: fee breakdown does not add up")
	ErrUnknownEvent      = errors.New("booking: unknown transition event")
)

type BookingID string

// Event names a request to move a booking between statuses.
type Event string

const (
	EventHostSelects      Event = "host_selects"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventHostRejects      Event = "host_rejects"
	EventCancel           Event = "cancel"
)

type transitionRule struct {
	from []StatusKind
	to   StatusKind
}

var transitions = map[Event]transitionRule{
	EventHostSelects:      {from: []StatusKind{StatusPending}, to: StatusSelected},
	EventPaymentConfirmed: {from: []StatusKind{StatusSelected}, to: StatusApproved},
	EventHostRejects:      {from: []StatusKind{StatusPending, StatusSelected}, to: StatusRejected},
	EventCancel:           {from: []StatusKind{StatusPending, StatusSelected}, to: StatusCancelled},
}

// Target returns the status an event leads to.
func (e Event) Target() (StatusKind, bool) {
	rule, ok := transitions[e]
	return rule.to, ok
}

// Permits reports whether the event may start from the given status.
func (e Event) Permits(from StatusKind) bool {
	rule, ok := transitions[e]
	if !ok {
		return false
	}
	for _, k := range rule.from {
		if k == from {
			return true
		}
	}
	return false
}

// PaymentRef identifies the first payment attempt recorded for the booking.
type PaymentRef struct {
	Provider  string
	Reference string
}

func (p PaymentRef) IsZero() bool {
	return p.Provider == "" && p.Reference == ""
}

type Booking struct {
	ID           BookingID
	PlaceID      places.PlaceID
	HostID       places.HostID
	ClientID     string
	Slots        timeslot.Set
	Perks        []string
	Fees         pricing.Breakdown
	RefundPolicy RefundPolicySnapshot
	Status       Status
	Payment      PaymentRef
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
	events.EventRecorder
}

// ListFilter narrows list queries. An empty Status means every status.
type ListFilter struct {
	Status StatusKind
	Limit  int
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	// Save inserts a booking with Version 0 or replaces the stored row only if
	// its version still equals b.Version. It returns ErrConcurrentUpdate otherwise
	// and bumps b.Version on success.
	Save(ctx context.Context, b *Booking) error
	ListByClient(ctx context.Context, clientID string, filter ListFilter) ([]*Booking, error)
	ListByHost(ctx context.Context, hostID places.HostID, filter ListFilter) ([]*Booking, error)
	// ListSelectedBefore returns selected bookings whose selection happened before cutoff.
	ListSelectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error)
}

type CreateParams struct {
	ID           BookingID
	PlaceID      places.PlaceID
	HostID       places.HostID
	ClientID     string
	Slots        timeslot.Set
	Perks        []string
	Fees         pricing.Breakdown
	RefundPolicy RefundPolicySnapshot
	CreatedAt    time.Time
}

func NewBooking(params CreateParams) (*Booking, error) {
	if strings.TrimSpace(params.ClientID) == "" {
		return nil, ErrClientRequired
	}
	if params.PlaceID == "" || params.HostID == "" {
		return nil, ErrPlaceRequired
	}
	slots, err := timeslot.NewSet(params.Slots)
	if err != nil {
		return nil, err
	}
	if !params.Fees.Consistent() {
		return nil, ErrFeesInconsistent
	}
	now := params.CreatedAt.UTC()
	b := &Booking{
		ID:           params.ID,
		PlaceID:      params.PlaceID,
		HostID:       params.HostID,
		ClientID:     params.ClientID,
		Slots:        slots,
		Perks:        append([]string(nil), params.Perks...),
		Fees:         params.Fees,
		RefundPolicy: RestoreRefundPolicy(params.RefundPolicy.options),
		Status:       Pending{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.Record(BookingRequested{
		BookingID: b.ID,
		PlaceID:   b.PlaceID,
		HostID:    b.HostID,
		ClientID:  b.ClientID,
		StartsAt:  slots.Start(),
		EndsAt:    slots.End(),
		Total:     b.Fees.FinalTotal,
		At:        now,
	})
	return b, nil
}

func (b *Booking) Kind() StatusKind {
	if b.Status == nil {
		return StatusUnknown
	}
	return b.Status.Kind()
}

func (b *Booking) StartsAt() time.Time {
	return b.Slots.Start()
}

func (b *Booking) Total() money.Money {
	return b.Fees.FinalTotal
}

// TransitionInput carries the event and the facts that accompany it.
type TransitionInput struct {
	Event  Event
	At     time.Time
	Reason string
}

// Apply moves the booking according to the transition table. A booking that
// already sits in the event's target status is left untouched and reports
// changed=false.
func (b *Booking) Apply(in TransitionInput) (bool, error) {
	target, ok := in.Event.Target()
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}
	current := b.Kind()
	if current == target {
		return false, nil
	}
	if !in.Event.Permits(current) {
		return false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, in.Event, current)
	}
	at := in.At.UTC()
	selectedAt, _ := SelectedAt(b.Status)
	switch in.Event {
	case EventHostSelects:
		b.Status = Selected{SelectedAt: at}
		b.Record(BookingSelected{BookingID: b.ID, ClientID: b.ClientID, Total: b.Total(), At: at})
	case EventPaymentConfirmed:
		b.Status = Approved{SelectedAt: selectedAt, PaidAt: at, ApprovedAt: at}
		b.Record(BookingApproved{
			BookingID: b.ID,
			PlaceID:   b.PlaceID,
			Provider:  b.Payment.Provider,
			Reference: b.Payment.Reference,
			Total:     b.Total(),
			PaidAt:    at,
			At:        at,
		})
	case EventHostRejects:
		b.Status = Rejected{SelectedAt: selectedAt, RejectedAt: at, Reason: in.Reason}
		b.Record(BookingRejected{BookingID: b.ID, Reason: in.Reason, At: at})
	case EventCancel:
		quote := b.RefundPolicy.Quote(b.Total(), at, b.StartsAt())
		b.Status = Cancelled{SelectedAt: selectedAt, CancelledAt: at, Reason: in.Reason, Refund: quote}
		b.Record(BookingCancelled{BookingID: b.ID, Reason: in.Reason, Refund: quote, At: at})
	}
	b.UpdatedAt = at
	return true, nil
}

// AttachPayment records the first payment reference. Later calls are ignored.
func (b *Booking) AttachPayment(provider, reference string, at time.Time) bool {
	if !b.Payment.IsZero() || provider == "" || reference == "" {
		return false
	}
	b.Payment = PaymentRef{Provider: provider, Reference: reference}
	b.UpdatedAt = at.UTC()
	b.Record(PaymentAttached{BookingID: b.ID, Provider: provider, Reference: reference, At: b.UpdatedAt})
	return true
}

// Payable reports whether a payment may still be accepted for the booking.
func (b *Booking) Payable() bool {
	return b.Kind() == StatusSelected
}

// Clone returns a copy that shares no mutable state with b. Pending events are not copied.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := &Booking{
		ID:           b.ID,
		PlaceID:      b.PlaceID,
		HostID:       b.HostID,
		ClientID:     b.ClientID,
		Slots:        b.Slots.Copy(),
		Perks:        append([]string(nil), b.Perks...),
		Fees:         b.Fees,
		RefundPolicy: RestoreRefundPolicy(b.RefundPolicy.options),
		Status:       b.Status,
		Payment:      b.Payment,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
		Version:      b.Version,
	}
	return out
}
