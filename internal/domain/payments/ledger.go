package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"venuebook/internal/domain/booking"
	"venuebook/internal/domain/shared/money"
)

var (
	ErrInvalidCallback     = errors.New("payments: invalid callback")
	ErrAmountMismatch      = errors.New("payments: amount differs from recorded transaction")
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	ErrInvalidAttempt      = errors.New("payments: invalid payment attempt")
	ErrUnknownProvider     = errors.New("payments: unknown provider")
)

// Provider names a payment gateway. Each provider owns its own transaction id space.
type Provider string

const (
	ProviderPayme Provider = "payme"
	ProviderClick Provider = "click"
)

func ParseProvider(raw string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case ProviderPayme, ProviderClick:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
}

type TxStatus string

const (
	TxInitiated TxStatus = "initiated"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

func (s TxStatus) Valid() bool {
	return s == TxInitiated || s == TxCompleted || s == TxFailed
}

func (s TxStatus) Final() bool {
	return s == TxCompleted || s == TxFailed
}

// Transaction is one provider-reported payment attempt.
type Transaction struct {
	ID           string
	BookingID    booking.BookingID
	Provider     Provider
	ProviderTxID string
	Amount       money.Money
	Status       TxStatus
	Reason       int
	ProviderTime time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  time.Time
	FailedAt     time.Time
}

// Attempt is what a gateway adapter decoded from a callback.
type Attempt struct {
	BookingID    booking.BookingID
	Provider     Provider
	ProviderTxID string
	Amount       money.Money
	Status       TxStatus
	ProviderTime time.Time
	At           time.Time
}

func (a Attempt) Validate() error {
	if _, err := ParseProvider(string(a.Provider)); err != nil {
		return err
	}
	if strings.TrimSpace(a.ProviderTxID) == "" {
		return fmt.Errorf("%w: provider transaction id is empty", ErrInvalidAttempt)
	}
	if a.BookingID == "" {
		return fmt.Errorf("%w: booking id is empty", ErrInvalidAttempt)
	}
	if a.Amount.Amount <= 0 || a.Amount.Currency == "" {
		return fmt.Errorf("%w: amount %v", ErrInvalidAttempt, a.Amount)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidAttempt, a.Status)
	}
	return nil
}

// RecordResult reports what Ledger.Record did. IsNew is false for replays,
// which always return the stored row untouched.
type RecordResult struct {
	Transaction     Transaction
	IsNew           bool
	AmountMismatch  bool
	BookingMismatch bool
}

// Ledger stores payment attempts, unique per (provider, provider transaction id).
type Ledger interface {
	Record(ctx context.Context, attempt Attempt) (RecordResult, error)
	Get(ctx context.Context, provider Provider, providerTxID string) (Transaction, error)
	// Complete and Fail move an initiated transaction to a final status. They
	// report changed=false when the transaction had already left initiated.
	Complete(ctx context.Context, provider Provider, providerTxID string, at time.Time) (Transaction, bool, error)
	Fail(ctx context.Context, provider Provider, providerTxID string, reason int, at time.Time) (Transaction, bool, error)
	ListByBooking(ctx context.Context, bookingID booking.BookingID) ([]Transaction, error)
	ListBetween(ctx context.Context, provider Provider, from, to time.Time) ([]Transaction, error)
}

// NewTransaction builds the row inserted for a first-seen attempt.
func NewTransaction(a Attempt) Transaction {
	at := a.At.UTC()
	tx := Transaction{
		ID:           uuid.NewString(),
		BookingID:    a.BookingID,
		Provider:     a.Provider,
		ProviderTxID: a.ProviderTxID,
		Amount:       a.Amount,
		Status:       a.Status,
		ProviderTime: a.ProviderTime.UTC(),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	switch a.Status {
	case TxCompleted:
		tx.CompletedAt = at
	case TxFailed:
		tx.FailedAt = at
	}
	return tx
}

// Replay compares a repeated attempt against the stored row.
func Replay(stored Transaction, a Attempt) RecordResult {
	return RecordResult{
		Transaction:     stored,
		IsNew:           false,
		AmountMismatch:  !stored.Amount.Equal(a.Amount),
		BookingMismatch: stored.BookingID != a.BookingID,
	}
}

// Finish applies a status correction to an initiated transaction in place.
func (t *Transaction) Finish(status TxStatus, reason int, at time.Time) bool {
	if t.Status != TxInitiated || !status.Final() {
		return false
	}
	at = at.UTC()
	t.Status = status
	t.UpdatedAt = at
	if status == TxCompleted {
		t.CompletedAt = at
	} else {
		t.FailedAt = at
		t.Reason = reason
	}
	return true
}

// ActiveFor returns the first initiated transaction in txs other than providerTxID.
func ActiveFor(txs []Transaction, providerTxID string) (Transaction, bool) {
	for _, tx := range txs {
		if tx.Status == TxInitiated && tx.ProviderTxID != providerTxID {
			return tx, true
		}
	}
	return Transaction{}, false
}

// HasCompleted reports whether any transaction in txs completed.
func HasCompleted(txs []Transaction) bool {
	for _, tx := range txs {
		if tx.Status == TxCompleted {
			return true
		}
	}
	return false
}
