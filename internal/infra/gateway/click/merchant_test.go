package click

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apppayments "venuebook/internal/app/payments"
	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
	"venuebook/internal/infra/storage/memory"
)

const (
	serviceID = "svc-1"
	secret    = "s3cret"
	signTime  = "2026-05-01 17:00:00"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	repo     *memory.BookingRepository
	ledger   *memory.Ledger
	merchant *Merchant
}

func newHarness(t *testing.T, status domainbooking.Status) *harness {
	t.Helper()
	h := &harness{repo: memory.NewBookingRepository(), ledger: memory.NewLedger()}
	clock := func() time.Time { return now }

	start := now.Add(48 * time.Hour)
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:       "bk-1",
		PlaceID:  "place-1",
		HostID:   "host-1",
		ClientID: "client-1",
		Slots:    timeslot.Set{{Start: start, End: start.Add(4 * time.Hour)}},
		Fees: domainpricing.Breakdown{
			BasePrice:         money.Must(100_000, "UZS"),
			ServiceFee:        money.Must(5_000, "UZS"),
			ProtectionPlanFee: money.Must(0, "UZS"),
			FinalTotal:        money.Must(105_000, "UZS"),
		},
		CreatedAt: now.Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	b.Status = status
	require.NoError(t, h.repo.Save(context.Background(), b))

	machine := statemachine.New(h.repo, nil, statemachine.WithClock(clock))
	processor := &apppayments.Processor{Ledger: h.ledger, Bookings: machine, Now: clock}
	h.merchant = NewMerchant(Config{ServiceID: serviceID, SecretKey: secret}, h.repo, h.ledger, processor)
	return h
}

func signed(r Request) Request {
	r.SignString = Sign(secret, r)
	return r
}

func completeRequest(clickTransID, prepareID, amount string) Request {
	return signed(Request{
		ClickTransID:      clickTransID,
		ServiceID:         serviceID,
		MerchantTransID:   "bk-1",
		MerchantPrepareID: prepareID,
		Amount:            amount,
		Action:            ActionComplete,
		SignTime:          signTime,
	})
}

func prepareRequest(clickTransID, amount string) Request {
	return signed(Request{
		ClickTransID:    clickTransID,
		ServiceID:       serviceID,
		MerchantTransID: "bk-1",
		Amount:          amount,
		Action:          ActionPrepare,
		SignTime:        signTime,
	})
}

func TestSign_KnownVectors(t *testing.T) {
	complete := Request{
		ClickTransID:    "INV-42",
		ServiceID:       serviceID,
		MerchantTransID: "bk-1",
		Amount:          "1050.00",
		Action:          ActionComplete,
		SignTime:        signTime,
	}
	assert.Equal(t, "ec0724a1d25fb975a1e5010df5994033", Sign(secret, complete))

	prepare := Request{
		ClickTransID:      "98765",
		ServiceID:         serviceID,
		MerchantTransID:   "bk-1",
		MerchantPrepareID: "ignored-for-prepare",
		Amount:            "1050.00",
		Action:            ActionPrepare,
		SignTime:          signTime,
	}
	assert.Equal(t, "5eb4a1d25a21ed15bf60ecd90b3b2bd4", Sign(secret, prepare))
}

func TestRequestFromForm(t *testing.T) {
	form := url.Values{
		"click_trans_id":    {"98765"},
		"service_id":        {" svc-1 "},
		"merchant_trans_id": {"bk-1"},
		"amount":            {"1050.00"},
		"action":            {"0"},
		"sign_time":         {signTime},
		"sign_string":       {"abc"},
	}
	r := RequestFromForm(form)
	assert.Equal(t, "svc-1", r.ServiceID)
	assert.Equal(t, "98765", r.ClickTransID)
	assert.Empty(t, r.missingField())
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), r.signedAt())
}

func TestComplete_ApprovesSelectedBookingOnceAcrossReplays(t *testing.T) {
	h := newHarness(t, domainbooking.Selected{SelectedAt: now.Add(-time.Hour)})
	ctx := context.Background()

	resp := h.merchant.Complete(ctx, completeRequest("INV-42", "", "1050.00"))
	require.Equal(t, CodeSuccess, resp.Error, resp.ErrorNote)
	assert.NotEmpty(t, resp.MerchantConfirmID)

	b, err := h.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	approved, ok := b.Status.(domainbooking.Approved)
	require.True(t, ok)
	assert.Equal(t, now, approved.PaidAt)
	version := b.Version

	replay := h.merchant.Complete(ctx, completeRequest("INV-42", "", "1050.00"))
	assert.Equal(t, resp, replay)

	b, err = h.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusApproved, b.Kind())
	assert.Equal(t, version, b.Version)

	rows, err := h.ledger.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domainpayments.TxCompleted, rows[0].Status)
	assert.Equal(t, int64(105_000), rows[0].Amount.Amount)
}

func TestComplete_ReplayWithChangedAmountIsAcknowledged(t *testing.T) {
	h := newHarness(t, domainbooking.Selected{SelectedAt: now.Add(-time.Hour)})
	ctx := context.Background()

	resp := h.merchant.Complete(ctx, completeRequest("INV-42", "", "1050.00"))
	require.Equal(t, CodeSuccess, resp.Error, resp.ErrorNote)

	replay := h.merchant.Complete(ctx, completeRequest("INV-42", "", "990.00"))
	assert.Equal(t, CodeSuccess, replay.Error, replay.ErrorNote)
	assert.Equal(t, resp.MerchantConfirmID, replay.MerchantConfirmID)

	rows, err := h.ledger.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(105_000), rows[0].Amount.Amount)
}

func TestPrepareThenComplete(t *testing.T) {
	h := newHarness(t, domainbooking.Selected{SelectedAt: now})
	ctx := context.Background()

	prepared := h.merchant.Prepare(ctx, prepareRequest("98765", "1050.00"))
	require.Equal(t, CodeSuccess, prepared.Error, prepared.ErrorNote)
	require.NotEmpty(t, prepared.MerchantPrepareID)

	again := h.merchant.Prepare(ctx, prepareRequest("98765", "1050.00"))
	assert.Equal(t, prepared, again)

	b, _ := h.repo.ByID(ctx, "bk-1")
	assert.Equal(t, domainbooking.StatusSelected, b.Kind())

	resp := h.merchant.Complete(ctx, completeRequest("98765", prepared.MerchantPrepareID, "1050.00"))
	require.Equal(t, CodeSuccess, resp.Error, resp.ErrorNote)
	assert.Equal(t, prepared.MerchantPrepareID, resp.MerchantConfirmID)

	b, _ = h.repo.ByID(ctx, "bk-1")
	assert.Equal(t, domainbooking.StatusApproved, b.Kind())
	assert.Equal(t, domainbooking.PaymentRef{Provider: "click", Reference: "98765"}, b.Payment)

	resp = h.merchant.Prepare(ctx, prepareRequest("98765", "1050.00"))
	assert.Equal(t, CodeAlreadyPaid, resp.Error)
}

func TestComplete_UnknownPrepareID(t *testing.T) {
	h := newHarness(t, domainbooking.Selected{SelectedAt: now})
	resp := h.merchant.Complete(context.Background(), completeRequest("98765", "missing", "1050.00"))
	assert.Equal(t, CodeTransactionNotFound, resp.Error)
}

func TestCallbacksRejectedBeforeTouchingState(t *testing.T) {
	cases := map[string]struct {
		request func() Request
		code    int
	}{
		"bad signature": {
			request: func() Request {
				r := completeRequest("INV-42", "", "1050.00")
				r.SignString = "0000"
				return r
			},
			code: CodeSignCheckFailed,
		},
		"wrong action": {
			request: func() Request {
				r := completeRequest("INV-42", "", "1050.00")
				r.Action = "7"
				return signed(r)
			},
			code: CodeActionNotFound,
		},
		"missing field": {
			request: func() Request {
				r := completeRequest("INV-42", "", "1050.00")
				r.SignTime = ""
				return r
			},
			code: CodeBadRequest,
		},
		"foreign service": {
			request: func() Request {
				r := completeRequest("INV-42", "", "1050.00")
				r.ServiceID = "svc-2"
				return signed(r)
			},
			code: CodeBadRequest,
		},
		"amount mismatch": {
			request: func() Request { return completeRequest("INV-42", "", "1000.00") },
			code:    CodeIncorrectAmount,
		},
		"amount with extra precision": {
			request: func() Request { return completeRequest("INV-42", "", "1050.001") },
			code:    CodeIncorrectAmount,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, domainbooking.Selected{SelectedAt: now})
			ctx := context.Background()
			resp := h.merchant.Complete(ctx, tc.request())
			assert.Equal(t, tc.code, resp.Error)

			rows, err := h.ledger.ListByBooking(ctx, "bk-1")
			require.NoError(t, err)
			assert.Empty(t, rows)
			b, _ := h.repo.ByID(ctx, "bk-1")
			assert.Equal(t, domainbooking.StatusSelected, b.Kind())
		})
	}
}

func TestComplete_BookingStates(t *testing.T) {
	cases := map[string]struct {
		status domainbooking.Status
		code   int
	}{
		"already approved": {
			status: domainbooking.Approved{SelectedAt: now, PaidAt: now, ApprovedAt: now},
			code:   CodeAlreadyPaid,
		},
		"cancelled": {
			status: domainbooking.Cancelled{CancelledAt: now},
			code:   CodeTransactionCancelled,
		},
		"pending": {
			status: domainbooking.Pending{},
			code:   CodeBookingNotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, tc.status)
			resp := h.merchant.Complete(context.Background(), completeRequest("INV-42", "", "1050.00"))
			assert.Equal(t, tc.code, resp.Error)
		})
	}
}

func TestComplete_ClickReportedFailure(t *testing.T) {
	h := newHarness(t, domainbooking.Selected{SelectedAt: now})
	ctx := context.Background()
	prepared := h.merchant.Prepare(ctx, prepareRequest("98765", "1050.00"))
	require.Equal(t, CodeSuccess, prepared.Error)

	r := completeRequest("98765", prepared.MerchantPrepareID, "1050.00")
	r.Error = "-5017"
	r.ErrorNote = "insufficient funds"
	resp := h.merchant.Complete(ctx, r)
	assert.Equal(t, CodeTransactionCancelled, resp.Error)

	tx, err := h.ledger.Get(ctx, domainpayments.ProviderClick, "98765")
	require.NoError(t, err)
	assert.Equal(t, domainpayments.TxFailed, tx.Status)
	assert.Equal(t, -5017, tx.Reason)

	b, _ := h.repo.ByID(ctx, "bk-1")
	assert.Equal(t, domainbooking.StatusSelected, b.Kind())
}
