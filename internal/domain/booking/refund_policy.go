package booking

import (
	"time"

	"venuebook/internal/domain/places"
	"venuebook/internal/domain/shared/money"
)

const percentBase = 100

// RefundPolicySnapshot is the refund terms a booking was created under. It
// owns its slice; later edits to the place never reach it.
type RefundPolicySnapshot struct {
	options []places.RefundOption
}

// SnapshotRefundPolicy copies the place's current refund options. A place
// without options yields an empty, non-refundable snapshot.
func SnapshotRefundPolicy(place *places.Place) RefundPolicySnapshot {
	if place == nil {
		return RefundPolicySnapshot{}
	}
	return RestoreRefundPolicy(place.RefundOptions)
}

// RestoreRefundPolicy rebuilds a snapshot from stored options.
func RestoreRefundPolicy(options []places.RefundOption) RefundPolicySnapshot {
	if len(options) == 0 {
		return RefundPolicySnapshot{}
	}
	return RefundPolicySnapshot{options: append([]places.RefundOption(nil), options...)}
}

// Options returns a copy in the original order.
func (s RefundPolicySnapshot) Options() []places.RefundOption {
	return append([]places.RefundOption(nil), s.options...)
}

func (s RefundPolicySnapshot) Refundable() bool {
	for _, opt := range s.options {
		if opt.RefundPercentage > 0 {
			return true
		}
	}
	return false
}

// RefundQuote is the outcome of applying a snapshot to a cancellation.
// WindowHours is -1 when no option applied.
type RefundQuote struct {
	Percentage  int
	WindowHours int
	Amount      money.Money
}

// Quote picks the option with the largest window that still fits in the time
// left before startsAt. No fitting option means no refund.
func (s RefundPolicySnapshot) Quote(total money.Money, cancelAt, startsAt time.Time) RefundQuote {
	quote := RefundQuote{WindowHours: -1, Amount: money.Zero(total.Currency)}
	remaining := startsAt.Sub(cancelAt)
	for _, opt := range s.options {
		window := time.Duration(opt.WindowHours) * time.Hour
		if window > remaining || opt.WindowHours <= quote.WindowHours {
			continue
		}
		quote.WindowHours = opt.WindowHours
		quote.Percentage = clampPercent(opt.RefundPercentage)
	}
	if quote.Percentage > 0 {
		quote.Amount = total.MulDiv(int64(quote.Percentage), percentBase)
	}
	return quote
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > percentBase {
		return percentBase
	}
	return p
}

func moneyOf(amount int64, currency string) money.Money {
	return money.Money{Amount: amount, Currency: currency}
}
