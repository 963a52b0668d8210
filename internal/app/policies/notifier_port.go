package policies

import (
	"context"
	"errors"

	domainbooking "venuebook/internal/domain/booking"
	"venuebook/internal/domain/shared/events"
)

// Notification describes a status transition that already happened.
type Notification struct {
	BookingID domainbooking.BookingID
	Kind      string
	Event     events.DomainEvent
}

// NotificationTrigger hands transitions to delivery. Errors are reported for
// logging only; a failed delivery never undoes the transition.
type NotificationTrigger interface {
	Notify(ctx context.Context, n Notification) error
}

type NotifyFunc func(ctx context.Context, n Notification) error

func (f NotifyFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// FanOut delivers to every trigger and joins their errors.
type FanOut []NotificationTrigger

func (f FanOut) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, t := range f {
		if t == nil {
			continue
		}
		if err := t.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
