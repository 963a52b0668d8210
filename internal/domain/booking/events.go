package booking

import (
	"time"

	"venuebook/internal/domain/places"
	"venuebook/internal/domain/shared/money"
)

type BookingRequested struct {
	BookingID BookingID
	PlaceID   places.PlaceID
	HostID    places.HostID
	ClientID  string
	StartsAt  time.Time
	EndsAt    time.Time
	Total     money.Money
	At        time.Time
}

func (e BookingRequested) EventName() string     { return "booking.requested" }
func (e BookingRequested) AggregateID() string   { return string(e.BookingID) }
func (e BookingRequested) OccurredAt() time.Time { return e.At }

type BookingSelected struct {
	BookingID BookingID
	ClientID  string
	Total     money.Money
	At        time.Time
}

func (e BookingSelected) EventName() string     { return "booking.selected" }
func (e BookingSelected) AggregateID() string   { return string(e.BookingID) }
func (e BookingSelected) OccurredAt() time.Time { return e.At }

type BookingApproved struct {
	BookingID BookingID
	PlaceID   places.PlaceID
	Provider  string
	Reference string
	Total     money.Money
	PaidAt    time.Time
	At        time.Time
}

func (e BookingApproved) EventName() string     { return "booking.approved" }
func (e BookingApproved) AggregateID() string   { return string(e.BookingID) }
func (e BookingApproved) OccurredAt() time.Time { return e.At }

type BookingRejected struct {
	BookingID BookingID
	Reason    string
	At        time.Time
}

func (e BookingRejected) EventName() string     { return "booking.rejected" }
func (e BookingRejected) AggregateID() string   { return string(e.BookingID) }
func (e BookingRejected) OccurredAt() time.Time { return e.At }

type BookingCancelled struct {
	BookingID BookingID
	Reason    string
	Refund    RefundQuote
	At        time.Time
}

func (e BookingCancelled) EventName() string     { return "booking.cancelled" }
func (e BookingCancelled) AggregateID() string   { return string(e.BookingID) }
func (e BookingCancelled) OccurredAt() time.Time { return e.At }

type PaymentAttached struct {
	BookingID BookingID
	Provider  string
	Reference string
	At        time.Time
}

func (e PaymentAttached) EventName() string     { return "booking.payment_attached" }
func (e PaymentAttached) AggregateID() string   { return string(e.BookingID) }
func (e PaymentAttached) OccurredAt() time.Time { return e.At }
