package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/handlers/booking"
)

func TestValidate_RequestBooking(t *testing.T) {
	v := New()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	ok := booking.RequestBookingCommand{
		BookingID: "bk-1",
		PlaceID:   "place-1",
		ClientID:  "client-1",
		Slots:     []booking.SlotInput{{Start: start, End: start.Add(2 * time.Hour)}},
	}
	require.NoError(t, v.Validate(context.Background(), ok))

	bad := ok
	bad.ClientID = "   "
	bad.Slots = []booking.SlotInput{{Start: start, End: start.Add(-time.Hour)}}
	err := v.Validate(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "ClientID failed notblank")
	assert.Contains(t, err.Error(), "Slots[0].end failed gtfield=Start")
}

func TestValidate_ActorRole(t *testing.T) {
	v := New()
	err := v.Validate(context.Background(), booking.CancelBookingCommand{
		Actor:     booking.Actor{ID: "client-1", Role: "admin"},
		BookingID: "bk-1",
	})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "Role failed oneof")
}

func TestValidate_NonStructPassesThrough(t *testing.T) {
	assert.NoError(t, New().Validate(context.Background(), "plain"))
}
