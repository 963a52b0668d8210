package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/domain/shared/money"
)

func uzs(amount int64) money.Money { return money.Must(amount, "UZS") }

func basePricing() Pricing {
	return Pricing{
		HourlyRate:           uzs(25_000),
		MinimumHours:         2,
		FullDayHours:         8,
		FullDayDiscountPrice: uzs(150_000),
	}
}

func defaultPolicy() FeePolicy {
	return FeePolicy{ServiceFeeBasisPoints: 500, ProtectionPlanFee: uzs(3_000)}
}

func TestCalculate_FourHoursWithProtection(t *testing.T) {
	out, err := Calculate(Input{
		Pricing:                basePricing(),
		Duration:               4 * time.Hour,
		ProtectionPlanSelected: true,
		Policy:                 defaultPolicy(),
	})
	require.NoError(t, err)
	assert.Equal(t, uzs(100_000), out.BasePrice)
	assert.Equal(t, uzs(5_000), out.ServiceFee)
	assert.Equal(t, uzs(3_000), out.ProtectionPlanFee)
	assert.Equal(t, uzs(108_000), out.FinalTotal)
	assert.True(t, out.Consistent())
}

func TestCalculate_DurationTooShort(t *testing.T) {
	_, err := Calculate(Input{
		Pricing:  basePricing(),
		Duration: 90 * time.Minute,
		Policy:   defaultPolicy(),
	})
	assert.ErrorIs(t, err, ErrDurationTooShort)
}

func TestCalculate_FullDayDiscountNeverIncreasesPrice(t *testing.T) {
	pricing := basePricing()

	out, err := Calculate(Input{Pricing: pricing, Duration: 10 * time.Hour, Policy: defaultPolicy()})
	require.NoError(t, err)
	assert.Equal(t, uzs(150_000), out.BasePrice, "discount applies when cheaper than 250k linear")

	pricing.FullDayDiscountPrice = uzs(900_000)
	out, err = Calculate(Input{Pricing: pricing, Duration: 8 * time.Hour, Policy: defaultPolicy()})
	require.NoError(t, err)
	assert.Equal(t, uzs(200_000), out.BasePrice, "linear wins when the discount is more expensive")
}

func TestCalculate_RoundsHalfUp(t *testing.T) {
	pricing := Pricing{HourlyRate: uzs(10_001), MinimumHours: 1}
	out, err := Calculate(Input{
		Pricing:  pricing,
		Duration: 90 * time.Minute,
		Policy:   FeePolicy{ServiceFeeBasisPoints: 333},
	})
	require.NoError(t, err)
	// 10001 * 90 / 60 = 15001.5 -> 15002
	assert.Equal(t, int64(15_002), out.BasePrice.Amount)
	// 15002 * 333 / 10000 = 499.5666 -> 500
	assert.Equal(t, int64(500), out.ServiceFee.Amount)
	assert.Equal(t, int64(15_502), out.FinalTotal.Amount)
	assert.Equal(t, int64(0), out.ProtectionPlanFee.Amount)
}

func TestCalculate_PaidExtrasJoinBase(t *testing.T) {
	out, err := Calculate(Input{
		Pricing:  basePricing(),
		Duration: 2 * time.Hour,
		Extras:   []Extra{{Name: "projector", Amount: uzs(20_000)}},
		Policy:   defaultPolicy(),
	})
	require.NoError(t, err)
	assert.Equal(t, uzs(70_000), out.BasePrice)
	assert.Equal(t, uzs(3_500), out.ServiceFee)
	assert.Equal(t, uzs(73_500), out.FinalTotal)
}

func TestCalculate_InvalidConfig(t *testing.T) {
	cases := map[string]Pricing{
		"minimum above range":    {HourlyRate: uzs(1), MinimumHours: 6},
		"minimum below range":    {HourlyRate: uzs(1), MinimumHours: 0},
		"full day below minimum": {HourlyRate: uzs(1), MinimumHours: 4, FullDayHours: 3},
		"full day above range":   {HourlyRate: uzs(1), MinimumHours: 1, FullDayHours: 25},
		"negative rate":          {HourlyRate: uzs(-1), MinimumHours: 1},
		"missing currency":       {HourlyRate: money.Money{Amount: 1}, MinimumHours: 1},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Calculate(Input{Pricing: p, Duration: 5 * time.Hour, Policy: defaultPolicy()})
			assert.ErrorIs(t, err, ErrInvalidPricingConfig)
		})
	}
}

func TestCalculate_DefaultFullDayHours(t *testing.T) {
	p := Pricing{HourlyRate: uzs(10_000), MinimumHours: 1, FullDayDiscountPrice: uzs(50_000)}
	out, err := Calculate(Input{Pricing: p, Duration: 8 * time.Hour, Policy: FeePolicy{}})
	require.NoError(t, err)
	assert.Equal(t, uzs(50_000), out.BasePrice)

	out, err = Calculate(Input{Pricing: p, Duration: 7 * time.Hour, Policy: FeePolicy{}})
	require.NoError(t, err)
	assert.Equal(t, uzs(70_000), out.BasePrice)
}

func TestCalculate_RejectsAmountsBeyondInt64(t *testing.T) {
	huge := Pricing{HourlyRate: uzs(math.MaxInt64 / 100), MinimumHours: 1}
	_, err := Calculate(Input{Pricing: huge, Duration: 3 * time.Hour, Policy: FeePolicy{}})
	require.ErrorIs(t, err, ErrPriceOverflow)

	_, err = Calculate(Input{
		Pricing:  basePricing(),
		Duration: 2 * time.Hour,
		Extras:   []Extra{{Name: "stage", Amount: uzs(math.MaxInt64 - 10)}},
		Policy:   FeePolicy{},
	})
	require.ErrorIs(t, err, ErrPriceOverflow)

	_, err = Calculate(Input{
		Pricing:  Pricing{HourlyRate: uzs(math.MaxInt64 / 200), MinimumHours: 1},
		Duration: time.Hour,
		Policy:   defaultPolicy(),
	})
	require.ErrorIs(t, err, ErrPriceOverflow, "service fee product")
}

func TestCalculate_LargeButRepresentableRate(t *testing.T) {
	rate := int64(math.MaxInt64 / (24 * 60))
	out, err := Calculate(Input{
		Pricing:  Pricing{HourlyRate: uzs(rate), MinimumHours: 1, FullDayHours: 24},
		Duration: 24 * time.Hour,
		Policy:   FeePolicy{},
	})
	require.NoError(t, err)
	assert.Equal(t, uzs(rate*24), out.BasePrice)
}
