// Package pricing adapts the fee calculator to the application pricing port.
package pricing

import (
	"context"
	"errors"

	"venuebook/internal/app/policies"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/timeslot"
)

var ErrPlaceRequired = errors.New("pricing: place required for a quote")

// Quoter prices a booking request with the marketplace fee policy.
type Quoter struct {
	Policy domainpricing.FeePolicy
}

func (q Quoter) Quote(ctx context.Context, req policies.QuoteRequest) (domainpricing.Breakdown, error) {
	if req.Place == nil {
		return domainpricing.Breakdown{}, ErrPlaceRequired
	}
	slots, err := timeslot.NewSet(req.Slots)
	if err != nil {
		return domainpricing.Breakdown{}, err
	}
	extras, err := req.Place.Extras(req.Perks)
	if err != nil {
		return domainpricing.Breakdown{}, err
	}
	return domainpricing.Calculate(domainpricing.Input{
		Pricing:                req.Place.Pricing,
		Duration:               slots.Duration(),
		Extras:                 extras,
		ProtectionPlanSelected: req.ProtectionPlan,
		Policy:                 q.Policy,
	})
}

var _ policies.PricingPort = Quoter{}
