package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"venuebook/internal/app/policies"
	domainbooking "venuebook/internal/domain/booking"
	"venuebook/internal/domain/shared/events"
)

var ErrTooManyConflicts = errors.New("statemachine: gave up after repeated concurrent updates")

const (
	defaultMaxAttempts   = 5
	defaultNotifyTimeout = 5 * time.Second
)

// Guard runs against every freshly loaded booking before a transition is
// evaluated. A guard error aborts the request.
type Guard func(b *domainbooking.Booking) error

type Request struct {
	BookingID domainbooking.BookingID
	Event     domainbooking.Event
	Reason    string
	Guard     Guard
}

// Result describes the outcome. Changed is false for idempotent no-ops.
type Result struct {
	Booking *domainbooking.Booking
	Changed bool
	From    domainbooking.StatusKind
	To      domainbooking.StatusKind
}

type Recorder interface {
	RecordTransition(event, outcome string)
}

// Machine is the only writer of booking rows. Every write is a
// compare-and-set on the booking version; a lost race reloads the booking and
// evaluates the request again.
type Machine struct {
	repo          domainbooking.Repository
	notifier      policies.NotificationTrigger
	logger        *slog.Logger
	recorder      Recorder
	now           func() time.Time
	maxAttempts   int
	notifyTimeout time.Duration
}

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option         { return func(m *Machine) { m.logger = l } }
func WithRecorder(r Recorder) Option           { return func(m *Machine) { m.recorder = r } }
func WithClock(now func() time.Time) Option    { return func(m *Machine) { m.now = now } }
func WithMaxAttempts(n int) Option             { return func(m *Machine) { m.maxAttempts = n } }
func WithNotifyTimeout(d time.Duration) Option { return func(m *Machine) { m.notifyTimeout = d } }

func New(repo domainbooking.Repository, notifier policies.NotificationTrigger, opts ...Option) *Machine {
	if repo == nil {
		panic("statemachine: booking repository required")
	}
	m := &Machine{
		repo:          repo,
		notifier:      notifier,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		maxAttempts:   defaultMaxAttempts,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxAttempts < 1 {
		m.maxAttempts = 1
	}
	return m
}

func (m *Machine) HostSelects(ctx context.Context, id domainbooking.BookingID, guard Guard) (Result, error) {
	return m.Fire(ctx, Request{BookingID: id, Event: domainbooking.EventHostSelects, Guard: guard})
}

func (m *Machine) PaymentConfirmed(ctx context.Context, id domainbooking.BookingID) (Result, error) {
	return m.Fire(ctx, Request{BookingID: id, Event: domainbooking.EventPaymentConfirmed})
}

func (m *Machine) HostRejects(ctx context.Context, id domainbooking.BookingID, reason string, guard Guard) (Result, error) {
	return m.Fire(ctx, Request{BookingID: id, Event: domainbooking.EventHostRejects, Reason: reason, Guard: guard})
}

func (m *Machine) Cancel(ctx context.Context, id domainbooking.BookingID, reason string, guard Guard) (Result, error) {
	return m.Fire(ctx, Request{BookingID: id, Event: domainbooking.EventCancel, Reason: reason, Guard: guard})
}

// Fire applies one transition request.
func (m *Machine) Fire(ctx context.Context, req Request) (Result, error) {
	var res Result
	b, changed, err := m.mutate(ctx, req.BookingID, func(b *domainbooking.Booking) (bool, error) {
		res.From = b.Kind()
		if req.Guard != nil {
			if err := req.Guard(b); err != nil {
				return false, err
			}
		}
		return b.Apply(domainbooking.TransitionInput{Event: req.Event, At: m.now(), Reason: req.Reason})
	})
	res.Booking = b
	res.Changed = changed
	res.To = res.From
	if b != nil {
		res.To = b.Kind()
	}
	switch {
	case err != nil:
		m.record(req.Event, outcomeOf(err))
		return res, err
	case !changed:
		m.record(req.Event, "noop")
		m.logger.Debug("booking transition is a no-op",
			"booking_id", req.BookingID, "event", req.Event, "status", res.To)
		return res, nil
	}
	m.record(req.Event, "applied")
	m.logger.Info("booking transitioned",
		"booking_id", req.BookingID, "event", req.Event, "from", res.From, "to", res.To)
	m.notify(ctx, b.ID, b.Drain())
	return res, nil
}

// AttachPayment stores the first payment reference on the booking. It reports
// false when a reference was already present.
func (m *Machine) AttachPayment(ctx context.Context, id domainbooking.BookingID, provider, reference string) (bool, error) {
	b, changed, err := m.mutate(ctx, id, func(b *domainbooking.Booking) (bool, error) {
		return b.AttachPayment(provider, reference, m.now()), nil
	})
	if b != nil {
		b.ClearEvents()
	}
	return changed, err
}

func (m *Machine) mutate(ctx context.Context, id domainbooking.BookingID, apply func(*domainbooking.Booking) (bool, error)) (*domainbooking.Booking, bool, error) {
	for attempt := 1; ; attempt++ {
		b, err := m.repo.ByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := apply(b)
		if err != nil || !changed {
			return b, false, err
		}
		err = m.repo.Save(ctx, b)
		if err == nil {
			return b, true, nil
		}
		if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			return nil, false, err
		}
		if attempt >= m.maxAttempts {
			return nil, false, fmt.Errorf("%w: booking %s: %w", ErrTooManyConflicts, id, err)
		}
		m.logger.Debug("booking write lost a race, reloading", "booking_id", id, "attempt", attempt)
	}
}

func (m *Machine) notify(ctx context.Context, id domainbooking.BookingID, evs []events.DomainEvent) {
	if m.notifier == nil || len(evs) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
	defer cancel()
	for _, ev := range evs {
		err := m.notifier.Notify(nctx, policies.Notification{BookingID: id, Kind: ev.EventName(), Event: ev})
		if err != nil {
			m.logger.Warn("booking notification failed", "booking_id", id, "kind", ev.EventName(), "error", err)
		}
	}
}

func (m *Machine) record(event domainbooking.Event, outcome string) {
	if m.recorder != nil {
		m.recorder.RecordTransition(string(event), outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domainbooking.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrTooManyConflicts):
		return "conflict"
	case errors.Is(err, domainbooking.ErrBookingNotFound):
		return "not_found"
	default:
		return "error"
	}
}
