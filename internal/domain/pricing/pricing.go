package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"venuebook/internal/domain/shared/money"
)

var (
	ErrDurationTooShort     = errors.New("pricing: requested duration is below the place minimum")
	ErrInvalidPricingConfig = errors.New("pricing: invalid pricing configuration")
	ErrCurrencyUnset        = errors.New("pricing: currency must be defined")
	ErrPriceOverflow        = errors.New("pricing: price exceeds the representable range")
)

const (
	MinMinimumHours     = 1
	MaxMinimumHours     = 5
	MinFullDayHours     = 1
	MaxFullDayHours     = 24
	DefaultFullDayHours = 8

	basisPointsBase = 10_000
	minutesPerHour  = 60
)

// Pricing holds the place-level pricing parameters the calculator works from.
type Pricing struct {
	HourlyRate           money.Money
	MinimumHours         int
	FullDayHours         int
	FullDayDiscountPrice money.Money
}

// Validate checks the configuration ranges. A zero FullDayHours means the default.
func (p Pricing) Validate() error {
	if p.HourlyRate.Currency == "" {
		return fmt.Errorf("%w: %v", ErrInvalidPricingConfig, ErrCurrencyUnset)
	}
	if p.HourlyRate.Amount < 0 {
		return fmt.Errorf("%w: hourly rate is negative", ErrInvalidPricingConfig)
	}
	if p.MinimumHours < MinMinimumHours || p.MinimumHours > MaxMinimumHours {
		return fmt.Errorf("%w: minimum hours %d out of range", ErrInvalidPricingConfig, p.MinimumHours)
	}
	fullDay := p.fullDayHours()
	if fullDay < MinFullDayHours || fullDay > MaxFullDayHours {
		return fmt.Errorf("%w: full day hours %d out of range", ErrInvalidPricingConfig, fullDay)
	}
	if fullDay < p.MinimumHours {
		return fmt.Errorf("%w: full day hours below minimum hours", ErrInvalidPricingConfig)
	}
	if p.FullDayDiscountPrice.Amount < 0 {
		return fmt.Errorf("%w: full day price is negative", ErrInvalidPricingConfig)
	}
	if p.FullDayDiscountPrice.Amount > 0 && p.FullDayDiscountPrice.Currency != p.HourlyRate.Currency {
		return fmt.Errorf("%w: %v", ErrInvalidPricingConfig, money.ErrCurrencyMismatch)
	}
	return nil
}

func (p Pricing) fullDayHours() int {
	if p.FullDayHours == 0 {
		return DefaultFullDayHours
	}
	return p.FullDayHours
}

// FeePolicy is the marketplace-wide fee configuration.
type FeePolicy struct {
	ServiceFeeBasisPoints int64
	ProtectionPlanFee     money.Money
}

// Extra is a paid add-on (a paid perk) the client selected.
type Extra struct {
	Name   string
	Amount money.Money
}

type Input struct {
	Pricing                Pricing
	Duration               time.Duration
	Extras                 []Extra
	ProtectionPlanSelected bool
	Policy                 FeePolicy
}

// Breakdown is the fee snapshot stored on a booking.
type Breakdown struct {
	BasePrice              money.Money
	ServiceFee             money.Money
	ProtectionPlanSelected bool
	ProtectionPlanFee      money.Money
	FinalTotal             money.Money
}

// Total recomputes BasePrice + ServiceFee + ProtectionPlanFee.
func (b Breakdown) Total() (money.Money, error) {
	total, err := b.BasePrice.Add(b.ServiceFee)
	if err != nil {
		return money.Money{}, err
	}
	return total.Add(b.ProtectionPlanFee)
}

// Consistent reports whether FinalTotal still matches its components.
func (b Breakdown) Consistent() bool {
	total, err := b.Total()
	return err == nil && total.Equal(b.FinalTotal) && total.Amount >= 0
}

// Calculate is the fee calculator. It has no side effects.
func Calculate(in Input) (Breakdown, error) {
	if err := in.Pricing.Validate(); err != nil {
		return Breakdown{}, err
	}
	currency := in.Pricing.HourlyRate.Currency
	if in.Policy.ServiceFeeBasisPoints < 0 {
		return Breakdown{}, fmt.Errorf("%w: negative service fee", ErrInvalidPricingConfig)
	}
	if in.ProtectionPlanSelected && in.Policy.ProtectionPlanFee.Currency != currency {
		return Breakdown{}, fmt.Errorf("%w: protection plan %v", ErrInvalidPricingConfig, money.ErrCurrencyMismatch)
	}

	minimum := time.Duration(in.Pricing.MinimumHours) * time.Hour
	if in.Duration < minimum {
		return Breakdown{}, ErrDurationTooShort
	}

	minutes := int64(in.Duration / time.Minute)
	base, err := mulDiv(in.Pricing.HourlyRate, minutes, minutesPerHour)
	if err != nil {
		return Breakdown{}, err
	}
	fullDay := time.Duration(in.Pricing.fullDayHours()) * time.Hour
	if in.Duration >= fullDay && in.Pricing.FullDayDiscountPrice.Amount > 0 &&
		in.Pricing.FullDayDiscountPrice.Less(base) {
		base = in.Pricing.FullDayDiscountPrice
	}

	for _, extra := range in.Extras {
		if extra.Amount.Amount < 0 {
			return Breakdown{}, fmt.Errorf("%w: extra %q is negative", ErrInvalidPricingConfig, extra.Name)
		}
		sum, err := add(base, extra.Amount)
		if errors.Is(err, money.ErrCurrencyMismatch) {
			return Breakdown{}, fmt.Errorf("%w: extra %q: %v", ErrInvalidPricingConfig, extra.Name, err)
		}
		if err != nil {
			return Breakdown{}, fmt.Errorf("extra %q: %w", extra.Name, err)
		}
		base = sum
	}

	fee, err := mulDiv(base, in.Policy.ServiceFeeBasisPoints, basisPointsBase)
	if err != nil {
		return Breakdown{}, err
	}
	out := Breakdown{
		BasePrice:              base,
		ServiceFee:             fee,
		ProtectionPlanSelected: in.ProtectionPlanSelected,
		ProtectionPlanFee:      money.Zero(currency),
	}
	if in.ProtectionPlanSelected {
		out.ProtectionPlanFee = in.Policy.ProtectionPlanFee
	}
	total, err := add(out.BasePrice, out.ServiceFee)
	if err != nil {
		return Breakdown{}, err
	}
	if total, err = add(total, out.ProtectionPlanFee); err != nil {
		return Breakdown{}, err
	}
	if total.Amount < 0 {
		total = money.Zero(currency)
	}
	out.FinalTotal = total
	return out, nil
}

// mulDiv is money.MulDiv for non-negative operands, refusing products that
// do not fit in int64.
func mulDiv(m money.Money, num, den int64) (money.Money, error) {
	if num > 0 && m.Amount > math.MaxInt64/num {
		return money.Money{}, fmt.Errorf("%w: %d * %d", ErrPriceOverflow, m.Amount, num)
	}
	return m.MulDiv(num, den), nil
}

func add(a, b money.Money) (money.Money, error) {
	if b.Amount > 0 && a.Amount > math.MaxInt64-b.Amount {
		return money.Money{}, fmt.Errorf("%w: %d + %d", ErrPriceOverflow, a.Amount, b.Amount)
	}
	return a.Add(b)
}
