package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
)

const (
	SweeperJobName     = "unpaid-selection-sweeper"
	defaultSweepBatch  = 100
	unpaidCancelReason = "payment-window-expired"
)

var ErrSweeperNotConfigured = errors.New("schedule: sweeper missing dependencies")

type SelectedLister interface {
	ListSelectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domainbooking.Booking, error)
}

type Canceller interface {
	Cancel(ctx context.Context, id domainbooking.BookingID, reason string, guard statemachine.Guard) (statemachine.Result, error)
}

// Sweeper cancels selected bookings whose client did not pay within Window.
// It goes through the state machine like any other caller, so a payment that
// lands first wins and the cancel becomes an invalid transition.
type Sweeper struct {
	Bookings  SelectedLister
	Machine   Canceller
	Window    time.Duration
	BatchSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Register installs the sweep on the scheduler.
func (s *Sweeper) Register(sched Scheduler, interval time.Duration) error {
	return sched.Every(SweeperJobName, interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// Sweep runs one pass and reports how many bookings it cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.Bookings == nil || s.Machine == nil || s.Window <= 0 {
		return 0, ErrSweeperNotConfigured
	}
	cutoff := s.now().Add(-s.Window)
	stale, err := s.Bookings.ListSelectedBefore(ctx, cutoff, s.batch())
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, b := range stale {
		res, err := s.Machine.Cancel(ctx, b.ID, unpaidCancelReason, stillUnpaid)
		switch {
		case errors.Is(err, domainbooking.ErrInvalidTransition):
			s.logger().Debug("sweeper skipped booking that moved on", "booking_id", b.ID)
		case err != nil:
			s.logger().Error("sweeper cancel failed", "booking_id", b.ID, "error", err)
		case res.Changed:
			cancelled++
		}
	}
	if cancelled > 0 {
		s.logger().Info("unpaid selections cancelled", "count", cancelled, "cutoff", cutoff)
	}
	return cancelled, nil
}

// stillUnpaid turns a booking that left selected after it was listed into an
// invalid transition instead of cancelling it from pending.
func stillUnpaid(b *domainbooking.Booking) error {
	if b.Kind() != domainbooking.StatusSelected {
		return domainbooking.ErrInvalidTransition
	}
	return nil
}

func (s *Sweeper) batch() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultSweepBatch
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
