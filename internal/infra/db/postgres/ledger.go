package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	"venuebook/internal/domain/shared/money"
)

const transactionColumns = `id, booking_id, provider, provider_tx_id, amount, currency, status, reason,
	provider_time, created_at, updated_at, completed_at, failed_at`

const insertTransaction = `INSERT INTO payment_transactions (` + transactionColumns + `)
	VALUES (:id, :booking_id, :provider, :provider_tx_id, :amount, :currency, :status, :reason,
	:provider_time, :created_at, :updated_at, :completed_at, :failed_at)`

// Ledger stores payment transactions. The per-provider partial unique indexes
// turn a concurrent duplicate insert into a 23505, which is read as a replay.
type Ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Record(ctx context.Context, attempt domainpayments.Attempt) (domainpayments.RecordResult, error) {
	if err := attempt.Validate(); err != nil {
		return domainpayments.RecordResult{}, err
	}
	tx := domainpayments.NewTransaction(attempt)
	err := l.insert(ctx, newTransactionRow(tx))
	if err == nil {
		return domainpayments.RecordResult{Transaction: tx, IsNew: true}, nil
	}
	if !isUniqueViolation(err) {
		return domainpayments.RecordResult{}, err
	}
	stored, err := l.Get(ctx, attempt.Provider, attempt.ProviderTxID)
	if err != nil {
		return domainpayments.RecordResult{}, err
	}
	return domainpayments.Replay(stored, attempt), nil
}

// insert guards the statement with a savepoint inside a transaction so a
// duplicate does not abort the caller's transaction.
func (l *Ledger) insert(ctx context.Context, row transactionRow) error {
	tx, ok := txFrom(ctx)
	if !ok {
		_, err := sqlx.NamedExecContext(ctx, l.db, insertTransaction, row)
		return err
	}
	if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_record`); err != nil {
		return err
	}
	if _, err := sqlx.NamedExecContext(ctx, tx, insertTransaction, row); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ledger_record`); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT ledger_record`)
	return err
}

func (l *Ledger) Get(ctx context.Context, provider domainpayments.Provider, providerTxID string) (domainpayments.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, conn(ctx, l.db), &row,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE provider = $1 AND provider_tx_id = $2`,
		string(provider), providerTxID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainpayments.Transaction{}, domainpayments.ErrTransactionNotFound
	}
	if err != nil {
		return domainpayments.Transaction{}, err
	}
	return row.toTransaction(), nil
}

func (l *Ledger) Complete(ctx context.Context, provider domainpayments.Provider, providerTxID string, at time.Time) (domainpayments.Transaction, bool, error) {
	return l.finish(ctx, provider, providerTxID,
		`UPDATE payment_transactions SET status = $1, updated_at = $2, completed_at = $2
		WHERE provider = $3 AND provider_tx_id = $4 AND status = 'initiated'
		RETURNING `+transactionColumns,
		string(domainpayments.TxCompleted), at.UTC(), string(provider), providerTxID)
}

func (l *Ledger) Fail(ctx context.Context, provider domainpayments.Provider, providerTxID string, reason int, at time.Time) (domainpayments.Transaction, bool, error) {
	return l.finish(ctx, provider, providerTxID,
		`UPDATE payment_transactions SET status = $1, updated_at = $2, failed_at = $2, reason = $5
		WHERE provider = $3 AND provider_tx_id = $4 AND status = 'initiated'
		RETURNING `+transactionColumns,
		string(domainpayments.TxFailed), at.UTC(), string(provider), providerTxID, reason)
}

// finish runs a conditional update; no returned row means the transaction
// already left initiated or does not exist.
func (l *Ledger) finish(ctx context.Context, provider domainpayments.Provider, providerTxID, query string, args ...any) (domainpayments.Transaction, bool, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, conn(ctx, l.db), &row, query, args...)
	if err == nil {
		return row.toTransaction(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domainpayments.Transaction{}, false, err
	}
	stored, err := l.Get(ctx, provider, providerTxID)
	if err != nil {
		return domainpayments.Transaction{}, false, err
	}
	return stored, false, nil
}

func (l *Ledger) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]domainpayments.Transaction, error) {
	return l.list(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE booking_id = $1 ORDER BY created_at`, string(bookingID))
}

func (l *Ledger) ListBetween(ctx context.Context, provider domainpayments.Provider, from, to time.Time) ([]domainpayments.Transaction, error) {
	return l.list(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE provider = $1 AND created_at >= $2 AND created_at <= $3 ORDER BY created_at`,
		string(provider), from.UTC(), to.UTC())
}

func (l *Ledger) list(ctx context.Context, query string, args ...any) ([]domainpayments.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, conn(ctx, l.db), &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]domainpayments.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTransaction())
	}
	return out, nil
}

type transactionRow struct {
	ID           string     `db:"id"`
	BookingID    string     `db:"booking_id"`
	Provider     string     `db:"provider"`
	ProviderTxID string     `db:"provider_tx_id"`
	Amount       int64      `db:"amount"`
	Currency     string     `db:"currency"`
	Status       string     `db:"status"`
	Reason       int        `db:"reason"`
	ProviderTime *time.Time `db:"provider_time"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	FailedAt     *time.Time `db:"failed_at"`
}

func newTransactionRow(tx domainpayments.Transaction) transactionRow {
	return transactionRow{
		ID:           tx.ID,
		BookingID:    string(tx.BookingID),
		Provider:     string(tx.Provider),
		ProviderTxID: tx.ProviderTxID,
		Amount:       tx.Amount.Amount,
		Currency:     tx.Amount.Currency,
		Status:       string(tx.Status),
		Reason:       tx.Reason,
		ProviderTime: timeOrNil(tx.ProviderTime),
		CreatedAt:    tx.CreatedAt.UTC(),
		UpdatedAt:    tx.UpdatedAt.UTC(),
		CompletedAt:  timeOrNil(tx.CompletedAt),
		FailedAt:     timeOrNil(tx.FailedAt),
	}
}

func (row transactionRow) toTransaction() domainpayments.Transaction {
	return domainpayments.Transaction{
		ID:           row.ID,
		BookingID:    domainbooking.BookingID(row.BookingID),
		Provider:     domainpayments.Provider(row.Provider),
		ProviderTxID: row.ProviderTxID,
		Amount:       money.Money{Amount: row.Amount, Currency: row.Currency},
		Status:       domainpayments.TxStatus(row.Status),
		Reason:       row.Reason,
		ProviderTime: derefUTC(row.ProviderTime),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		CompletedAt:  derefUTC(row.CompletedAt),
		FailedAt:     derefUTC(row.FailedAt),
	}
}

var _ domainpayments.Ledger = (*Ledger)(nil)
