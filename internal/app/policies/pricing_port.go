package policies

import (
	"context"

	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/timeslot"
)

type QuoteRequest struct {
	Place          *domainplaces.Place
	Slots          timeslot.Set
	Perks          []string
	ProtectionPlan bool
}

type PricingPort interface {
	Quote(ctx context.Context, req QuoteRequest) (domainpricing.Breakdown, error)
}
