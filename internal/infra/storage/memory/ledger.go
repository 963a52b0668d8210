package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
)

// Ledger is an in-memory payments.Ledger keyed by provider and provider transaction id.
type Ledger struct {
	mu    sync.Mutex
	items map[string]*domainpayments.Transaction
}

func NewLedger() *Ledger {
	return &Ledger{items: make(map[string]*domainpayments.Transaction)}
}

func ledgerKey(provider domainpayments.Provider, providerTxID string) string {
	return string(provider) + "|" + providerTxID
}

func (l *Ledger) Record(ctx context.Context, attempt domainpayments.Attempt) (domainpayments.RecordResult, error) {
	if err := attempt.Validate(); err != nil {
		return domainpayments.RecordResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(attempt.Provider, attempt.ProviderTxID)
	if stored, ok := l.items[key]; ok {
		return domainpayments.Replay(*stored, attempt), nil
	}
	tx := domainpayments.NewTransaction(attempt)
	l.items[key] = &tx
	return domainpayments.RecordResult{Transaction: tx, IsNew: true}, nil
}

func (l *Ledger) Get(ctx context.Context, provider domainpayments.Provider, providerTxID string) (domainpayments.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.items[ledgerKey(provider, providerTxID)]
	if !ok {
		return domainpayments.Transaction{}, domainpayments.ErrTransactionNotFound
	}
	return *tx, nil
}

func (l *Ledger) Complete(ctx context.Context, provider domainpayments.Provider, providerTxID string, at time.Time) (domainpayments.Transaction, bool, error) {
	return l.finish(provider, providerTxID, domainpayments.TxCompleted, 0, at)
}

func (l *Ledger) Fail(ctx context.Context, provider domainpayments.Provider, providerTxID string, reason int, at time.Time) (domainpayments.Transaction, bool, error) {
	return l.finish(provider, providerTxID, domainpayments.TxFailed, reason, at)
}

func (l *Ledger) finish(provider domainpayments.Provider, providerTxID string, status domainpayments.TxStatus, reason int, at time.Time) (domainpayments.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.items[ledgerKey(provider, providerTxID)]
	if !ok {
		return domainpayments.Transaction{}, false, domainpayments.ErrTransactionNotFound
	}
	changed := tx.Finish(status, reason, at)
	return *tx, changed, nil
}

func (l *Ledger) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]domainpayments.Transaction, error) {
	return l.filter(func(tx *domainpayments.Transaction) bool { return tx.BookingID == bookingID }), nil
}

func (l *Ledger) ListBetween(ctx context.Context, provider domainpayments.Provider, from, to time.Time) ([]domainpayments.Transaction, error) {
	return l.filter(func(tx *domainpayments.Transaction) bool {
		return tx.Provider == provider && !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to)
	}), nil
}

func (l *Ledger) filter(match func(*domainpayments.Transaction) bool) []domainpayments.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domainpayments.Transaction, 0)
	for _, tx := range l.items {
		if match(tx) {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ domainpayments.Ledger = (*Ledger)(nil)
