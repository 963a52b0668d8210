package booking

import (
	"venuebook/internal/app/commands"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

// FinalErrors are the booking command failures a repeated Idempotency-Key
// replays. Concurrency conflicts and storage errors are left out so that a
// retry reaches the handler again.
var FinalErrors = []error{
	commands.ErrInvalidCommand,
	domainpricing.ErrDurationTooShort,
	domainpricing.ErrInvalidPricingConfig,
	domainpricing.ErrPriceOverflow,
	domainplaces.ErrPerkNotFound,
	domainplaces.ErrPlaceNotFound,
	domainbooking.ErrClientRequired,
	domainbooking.ErrInvalidTransition,
	domainbooking.ErrNotOwned,
	domainbooking.ErrBookingNotFound,
	timeslot.ErrInvalidSlot,
	timeslot.ErrEmptySet,
	timeslot.ErrOverlap,
	timeslot.ErrSlotInPast,
	timeslot.ErrUnalignedSet,
	money.ErrCurrencyMismatch,
	money.ErrInvalidAmount,
}
