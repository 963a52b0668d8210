package policies

import (
	"context"
	"time"

	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
)

type WarningKind string

const (
	WarningAmountMismatch  WarningKind = "amount_mismatch"
	WarningBookingMismatch WarningKind = "booking_mismatch"
	WarningRefundDue       WarningKind = "refund_due"
)

// ReconciliationWarning flags a payment that needs a human to look at it.
type ReconciliationWarning struct {
	Kind         WarningKind
	BookingID    domainbooking.BookingID
	Provider     domainpayments.Provider
	ProviderTxID string
	Stored       *domainpayments.Transaction
	Attempt      domainpayments.Attempt
	Detail       string
	At           time.Time
}

// OperatorChannel receives reconciliation warnings. Reporting never fails a callback.
type OperatorChannel interface {
	Report(ctx context.Context, w ReconciliationWarning) error
}
