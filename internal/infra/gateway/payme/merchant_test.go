package payme

import (
	"context"
	"encoding/base64"
	"encoding/json"
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

const merchantKey = "test-key"

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	repo     *memory.BookingRepository
	ledger   *memory.Ledger
	merchant *Merchant
	clock    *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{repo: memory.NewBookingRepository(), ledger: memory.NewLedger()}
	current := now
	h.clock = &current
	clock := func() time.Time { return *h.clock }

	start := now.Add(72 * time.Hour)
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
	b.Status = domainbooking.Selected{SelectedAt: now.Add(-time.Hour)}
	require.NoError(t, h.repo.Save(context.Background(), b))

	machine := statemachine.New(h.repo, nil, statemachine.WithClock(clock))
	processor := &apppayments.Processor{Ledger: h.ledger, Bookings: machine, Now: clock}
	h.merchant = NewMerchant(Config{Key: merchantKey}, h.repo, h.ledger, processor, WithClock(clock))
	return h
}

func authHeader(key string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom:"+key))
}

func (h *harness) call(t *testing.T, method string, params any) Response {
	t.Helper()
	rawParams, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 7, "method": method, "params": json.RawMessage(rawParams)})
	require.NoError(t, err)
	return h.merchant.Handle(context.Background(), authHeader(merchantKey), body)
}

func errorCode(t *testing.T, resp Response) int {
	t.Helper()
	require.NotNil(t, resp.Error, "expected an error response")
	return resp.Error.Code
}

func createParamsFor(id string, amount int64) map[string]any {
	return map[string]any{
		"id":      id,
		"time":    now.UnixMilli(),
		"amount":  amount,
		"account": map[string]any{"booking_id": "bk-1"},
	}
}

func TestMerchant_RejectsBadCredentials(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"CheckTransaction","params":{"id":"x"}}`)

	resp := h.merchant.Handle(context.Background(), authHeader("wrong"), body)
	assert.Equal(t, CodeInsufficientPrivilege, errorCode(t, resp))

	resp = h.merchant.Handle(context.Background(), "", body)
	assert.Equal(t, CodeInsufficientPrivilege, errorCode(t, resp))
	assert.ErrorIs(t, resp.Error, domainpayments.ErrInvalidCallback)
}

func TestMerchant_MalformedAndUnknownMethod(t *testing.T) {
	h := newHarness(t)
	resp := h.merchant.Handle(context.Background(), authHeader(merchantKey), []byte(`{"id":`))
	assert.Equal(t, CodeParseError, errorCode(t, resp))

	resp = h.call(t, "Refund", map[string]any{"id": "x"})
	assert.Equal(t, CodeMethodNotFound, errorCode(t, resp))

	rows, err := h.ledger.ListByBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMerchant_CheckPerformValidatesBookingAndAmount(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, MethodCheckPerformTransaction, map[string]any{"amount": 105_000, "account": map[string]any{"booking_id": "bk-1"}})
	require.Nil(t, resp.Error)
	assert.Equal(t, checkPerformResult{Allow: true}, resp.Result)

	resp = h.call(t, MethodCheckPerformTransaction, map[string]any{"amount": 100_000, "account": map[string]any{"booking_id": "bk-1"}})
	assert.Equal(t, CodeInvalidAmount, errorCode(t, resp))

	resp = h.call(t, MethodCheckPerformTransaction, map[string]any{"amount": 105_000, "account": map[string]any{"booking_id": "missing"}})
	assert.Equal(t, CodeBookingNotFound, errorCode(t, resp))
}

func TestMerchant_CreatePerformAndReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, resp.Error)
	created := resp.Result.(createResult)
	assert.Equal(t, StateCreated, created.State)

	replay := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, replay.Error)
	assert.Equal(t, created, replay.Result)

	resp = h.call(t, MethodPerformTransaction, map[string]any{"id": "pm-1"})
	require.Nil(t, resp.Error)
	performed := resp.Result.(performResult)
	assert.Equal(t, StatePerformed, performed.State)
	assert.Equal(t, created.Transaction, performed.Transaction)

	b, err := h.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusApproved, b.Kind())
	assert.Equal(t, domainbooking.PaymentRef{Provider: "payme", Reference: "pm-1"}, b.Payment)
	version := b.Version

	resp = h.call(t, MethodPerformTransaction, map[string]any{"id": "pm-1"})
	require.Nil(t, resp.Error)
	assert.Equal(t, performed, resp.Result)

	b, err = h.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, version, b.Version)
	rows, err := h.ledger.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	resp = h.call(t, MethodCancelTransaction, map[string]any{"id": "pm-1", "reason": 5})
	assert.Equal(t, CodeCannotCancel, errorCode(t, resp))

	resp = h.call(t, MethodCheckTransaction, map[string]any{"id": "pm-1"})
	require.Nil(t, resp.Error)
	check := resp.Result.(checkResult)
	assert.Equal(t, StatePerformed, check.State)
	assert.Nil(t, check.Reason)
}

func TestMerchant_SecondTransactionWhileOneIsPending(t *testing.T) {
	h := newHarness(t)
	resp := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, resp.Error)

	resp = h.call(t, MethodCreateTransaction, createParamsFor("pm-2", 105_000))
	assert.Equal(t, CodeTransactionInProgress, errorCode(t, resp))
}

func TestMerchant_CancelBeforePerform(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, resp.Error)

	resp = h.call(t, MethodCancelTransaction, map[string]any{"id": "pm-1", "reason": 3})
	require.Nil(t, resp.Error)
	cancelled := resp.Result.(cancelResult)
	assert.Equal(t, StateCancelled, cancelled.State)

	again := h.call(t, MethodCancelTransaction, map[string]any{"id": "pm-1", "reason": 3})
	require.Nil(t, again.Error)
	assert.Equal(t, cancelled, again.Result)

	resp = h.call(t, MethodPerformTransaction, map[string]any{"id": "pm-1"})
	assert.Equal(t, CodeCannotPerform, errorCode(t, resp))

	b, err := h.repo.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusSelected, b.Kind())

	resp = h.call(t, MethodCheckTransaction, map[string]any{"id": "pm-1"})
	require.Nil(t, resp.Error)
	check := resp.Result.(checkResult)
	require.NotNil(t, check.Reason)
	assert.Equal(t, 3, *check.Reason)
}

func TestMerchant_PerformAfterTimeoutFails(t *testing.T) {
	h := newHarness(t)
	resp := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, resp.Error)

	*h.clock = now.Add(DefaultTimeout + time.Minute)
	resp = h.call(t, MethodPerformTransaction, map[string]any{"id": "pm-1"})
	assert.Equal(t, CodeCannotPerform, errorCode(t, resp))

	tx, err := h.ledger.Get(context.Background(), domainpayments.ProviderPayme, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayments.TxFailed, tx.Status)
	assert.Equal(t, ReasonTimeout, tx.Reason)
}

func TestMerchant_UnknownTransaction(t *testing.T) {
	h := newHarness(t)
	resp := h.call(t, MethodPerformTransaction, map[string]any{"id": "nope"})
	assert.Equal(t, CodeTransactionNotFound, errorCode(t, resp))
}

func TestMerchant_GetStatement(t *testing.T) {
	h := newHarness(t)
	resp := h.call(t, MethodCreateTransaction, createParamsFor("pm-1", 105_000))
	require.Nil(t, resp.Error)

	resp = h.call(t, MethodGetStatement, map[string]any{
		"from": now.Add(-time.Hour).UnixMilli(),
		"to":   now.Add(time.Hour).UnixMilli(),
	})
	require.Nil(t, resp.Error)
	statement := resp.Result.(statementResult)
	require.Len(t, statement.Transactions, 1)
	entry := statement.Transactions[0]
	assert.Equal(t, "pm-1", entry.ID)
	assert.Equal(t, int64(105_000), entry.Amount)
	assert.Equal(t, "bk-1", entry.Account.BookingID)
	assert.Equal(t, StateCreated, entry.State)
}
