package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
	"venuebook/internal/infra/storage/memory"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *memory.BookingRepository, id domainbooking.BookingID, status domainbooking.Status) {
	t.Helper()
	start := now.Add(72 * time.Hour)
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:       id,
		PlaceID:  "place-1",
		HostID:   "host-1",
		ClientID: "client-1",
		Slots:    timeslot.Set{{Start: start, End: start.Add(2 * time.Hour)}},
		Fees: domainpricing.Breakdown{
			BasePrice:         money.Must(100_000, "UZS"),
			ServiceFee:        money.Must(0, "UZS"),
			ProtectionPlanFee: money.Must(0, "UZS"),
			FinalTotal:        money.Must(100_000, "UZS"),
		},
		CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	b.Status = status
	require.NoError(t, repo.Save(context.Background(), b))
}

type recordingScheduler struct {
	name     string
	interval time.Duration
	job      Job
}

func (r *recordingScheduler) Every(name string, interval time.Duration, job Job) error {
	r.name, r.interval, r.job = name, interval, job
	return nil
}

func TestSweeper_CancelsOnlyStaleSelections(t *testing.T) {
	repo := memory.NewBookingRepository()
	seed(t, repo, "stale", domainbooking.Selected{SelectedAt: now.Add(-25 * time.Hour)})
	seed(t, repo, "fresh", domainbooking.Selected{SelectedAt: now.Add(-time.Hour)})
	seed(t, repo, "pending", domainbooking.Pending{})
	seed(t, repo, "paid", domainbooking.Approved{SelectedAt: now.Add(-30 * time.Hour), PaidAt: now, ApprovedAt: now})

	clock := func() time.Time { return now }
	s := &Sweeper{
		Bookings: repo,
		Machine:  statemachine.New(repo, nil, statemachine.WithClock(clock)),
		Window:   24 * time.Hour,
		Now:      clock,
	}
	sched := &recordingScheduler{}
	require.NoError(t, s.Register(sched, time.Minute))
	assert.Equal(t, SweeperJobName, sched.name)
	require.NoError(t, sched.job(context.Background()))

	stale, err := repo.ByID(context.Background(), "stale")
	require.NoError(t, err)
	cancelled, ok := stale.Status.(domainbooking.Cancelled)
	require.True(t, ok)
	assert.Equal(t, unpaidCancelReason, cancelled.Reason)
	assert.Equal(t, now.Add(-25*time.Hour), cancelled.SelectedAt)

	for id, kind := range map[domainbooking.BookingID]domainbooking.StatusKind{
		"fresh":   domainbooking.StatusSelected,
		"pending": domainbooking.StatusPending,
		"paid":    domainbooking.StatusApproved,
	} {
		b, err := repo.ByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, kind, b.Kind(), id)
	}

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_RequiresWindow(t *testing.T) {
	_, err := (&Sweeper{}).Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweeperNotConfigured)
}
