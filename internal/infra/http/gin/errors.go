package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"venuebook/internal/app/commands"
	bookingapp "venuebook/internal/app/handlers/booking"
	"venuebook/internal/app/middleware"
	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
	"venuebook/internal/infra/validation"
)

var errBusUnavailable = errors.New("bus unavailable")

// statusFor maps application errors onto HTTP status codes. Ownership
// failures are reported as 404 so callers cannot probe foreign bookings.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, bookingapp.ErrInvalidStatusFilter),
		errors.Is(err, commands.ErrInvalidCommand),
		errors.Is(err, domainpricing.ErrDurationTooShort),
		errors.Is(err, domainpricing.ErrInvalidPricingConfig),
		errors.Is(err, domainpricing.ErrPriceOverflow),
		errors.Is(err, domainplaces.ErrPerkNotFound),
		errors.Is(err, domainbooking.ErrClientRequired),
		errors.Is(err, timeslot.ErrInvalidSlot),
		errors.Is(err, timeslot.ErrEmptySet),
		errors.Is(err, timeslot.ErrOverlap),
		errors.Is(err, timeslot.ErrSlotInPast),
		errors.Is(err, timeslot.ErrUnalignedSet),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domainbooking.ErrNotOwned),
		errors.Is(err, domainbooking.ErrBookingNotFound),
		errors.Is(err, domainplaces.ErrPlaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainbooking.ErrInvalidTransition),
		errors.Is(err, domainbooking.ErrConcurrentUpdate),
		errors.Is(err, statemachine.ErrTooManyConflicts),
		errors.Is(err, middleware.ErrReplayedFailure),
		errors.Is(err, middleware.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, errBusUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if logger != nil {
		fields := []any{"status", status, "error", err, "path", c.FullPath()}
		if p, ok := currentPrincipal(c); ok {
			fields = append(fields, "actor_id", p.ID, "role", p.Role)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}
	}
	_ = c.Error(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": message})
}
