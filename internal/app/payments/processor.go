package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"venuebook/internal/app/policies"
	"venuebook/internal/app/statemachine"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
)

var ErrProcessorNotConfigured = errors.New("payments: processor missing dependencies")

// BookingWriter is the part of the state machine the processor drives.
type BookingWriter interface {
	PaymentConfirmed(ctx context.Context, id domainbooking.BookingID) (statemachine.Result, error)
	AttachPayment(ctx context.Context, id domainbooking.BookingID, provider, reference string) (bool, error)
}

type LedgerRecorder interface {
	RecordLedger(provider string, isNew bool)
}

// Outcome reports what a settle step did. FirstSuccess is true only for the
// call that moved the transaction into completed.
type Outcome struct {
	Transaction     domainpayments.Transaction
	IsNew           bool
	FirstSuccess    bool
	BookingApproved bool
	Warnings        []policies.WarningKind
}

// Processor is the provider-independent step shared by every gateway adapter.
type Processor struct {
	Ledger   domainpayments.Ledger
	Bookings BookingWriter
	Operator policies.OperatorChannel
	Recorder LedgerRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Settle records the attempt and, on the first success, confirms payment on
// the booking. Replays return the stored transaction and change nothing new.
func (p *Processor) Settle(ctx context.Context, attempt domainpayments.Attempt) (Outcome, error) {
	if p.Ledger == nil || p.Bookings == nil {
		return Outcome{}, ErrProcessorNotConfigured
	}
	if attempt.At.IsZero() {
		attempt.At = p.now()
	}
	res, err := p.Ledger.Record(ctx, attempt)
	if err != nil {
		return Outcome{}, fmt.Errorf("record %s transaction %s: %w", attempt.Provider, attempt.ProviderTxID, err)
	}
	if p.Recorder != nil {
		p.Recorder.RecordLedger(string(attempt.Provider), res.IsNew)
	}
	out := Outcome{Transaction: res.Transaction, IsNew: res.IsNew}

	if res.AmountMismatch {
		p.warn(ctx, &out, policies.ReconciliationWarning{
			Kind:    policies.WarningAmountMismatch,
			Stored:  &res.Transaction,
			Attempt: attempt,
			Detail:  fmt.Sprintf("stored %s, replay reported %s", res.Transaction.Amount, attempt.Amount),
		})
	}
	if res.BookingMismatch {
		p.warn(ctx, &out, policies.ReconciliationWarning{
			Kind:    policies.WarningBookingMismatch,
			Stored:  &res.Transaction,
			Attempt: attempt,
			Detail:  fmt.Sprintf("stored booking %s, replay reported %s", res.Transaction.BookingID, attempt.BookingID),
		})
	}

	// Replays attach too: the booking keeps the first reference it was given,
	// and a reference lost to an earlier failed write is filled in here.
	stored := res.Transaction
	if _, err := p.Bookings.AttachPayment(ctx, stored.BookingID, string(stored.Provider), stored.ProviderTxID); err != nil {
		return out, fmt.Errorf("attach payment to booking %s: %w", stored.BookingID, err)
	}

	if res.Transaction.Status != domainpayments.TxCompleted {
		return out, nil
	}
	out.FirstSuccess = res.IsNew
	return out, p.confirm(ctx, &out)
}

// Complete moves an initiated transaction to completed and confirms the booking
// when this call made the change.
func (p *Processor) Complete(ctx context.Context, provider domainpayments.Provider, providerTxID string) (Outcome, error) {
	if p.Ledger == nil || p.Bookings == nil {
		return Outcome{}, ErrProcessorNotConfigured
	}
	tx, changed, err := p.Ledger.Complete(ctx, provider, providerTxID, p.now())
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Transaction: tx, FirstSuccess: changed}
	if tx.Status != domainpayments.TxCompleted {
		return out, nil
	}
	return out, p.confirm(ctx, &out)
}

// Fail moves an initiated transaction to failed. Completed transactions are left alone.
func (p *Processor) Fail(ctx context.Context, provider domainpayments.Provider, providerTxID string, reason int) (domainpayments.Transaction, bool, error) {
	if p.Ledger == nil {
		return domainpayments.Transaction{}, false, ErrProcessorNotConfigured
	}
	tx, changed, err := p.Ledger.Fail(ctx, provider, providerTxID, reason, p.now())
	if err == nil && changed {
		p.logger().Info("payment transaction failed",
			"provider", provider, "provider_tx_id", providerTxID, "booking_id", tx.BookingID, "reason", reason)
	}
	return tx, changed, err
}

// confirm asks the state machine to approve the booking. On replays of an
// already completed transaction the call is repeated so that a confirmation
// lost to an earlier error is still applied; the state machine turns the
// normal case into a no-op.
func (p *Processor) confirm(ctx context.Context, out *Outcome) error {
	tx := out.Transaction
	res, err := p.Bookings.PaymentConfirmed(ctx, tx.BookingID)
	switch {
	case errors.Is(err, domainbooking.ErrInvalidTransition):
		if out.FirstSuccess {
			p.warn(ctx, out, policies.ReconciliationWarning{
				Kind:   policies.WarningRefundDue,
				Stored: &tx,
				Detail: fmt.Sprintf("payment completed for booking in status %s", res.From),
			})
		}
		return nil
	case err != nil:
		return fmt.Errorf("confirm payment for booking %s: %w", tx.BookingID, err)
	}
	out.BookingApproved = res.Changed
	if out.FirstSuccess && !res.Changed && res.Booking != nil && !paidBy(res.Booking.Payment, tx) {
		p.warn(ctx, out, policies.ReconciliationWarning{
			Kind:   policies.WarningRefundDue,
			Stored: &tx,
			Detail: fmt.Sprintf("booking already paid by %s %s", res.Booking.Payment.Provider, res.Booking.Payment.Reference),
		})
		return nil
	}
	if res.Changed && !out.FirstSuccess {
		p.logger().Warn("booking approved on a replayed callback",
			"booking_id", tx.BookingID, "provider", tx.Provider, "provider_tx_id", tx.ProviderTxID)
	}
	return nil
}

func (p *Processor) warn(ctx context.Context, out *Outcome, w policies.ReconciliationWarning) {
	out.Warnings = append(out.Warnings, w.Kind)
	if w.Stored != nil {
		w.BookingID = w.Stored.BookingID
		w.Provider = w.Stored.Provider
		w.ProviderTxID = w.Stored.ProviderTxID
	}
	if w.At.IsZero() {
		w.At = p.now()
	}
	p.logger().Warn("payment reconciliation warning",
		"kind", w.Kind, "booking_id", w.BookingID, "provider", w.Provider, "provider_tx_id", w.ProviderTxID, "detail", w.Detail)
	if p.Operator == nil {
		return
	}
	if err := p.Operator.Report(context.WithoutCancel(ctx), w); err != nil {
		p.logger().Error("operator channel report failed", "kind", w.Kind, "error", err)
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func paidBy(ref domainbooking.PaymentRef, tx domainpayments.Transaction) bool {
	return ref.Provider == string(tx.Provider) && ref.Reference == tx.ProviderTxID
}
