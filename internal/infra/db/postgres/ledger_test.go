package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/app/uow"
	domainpayments "venuebook/internal/domain/payments"
	domainplaces "venuebook/internal/domain/places"
	"venuebook/internal/domain/shared/money"
)

var txCols = []string{
	"id", "booking_id", "provider", "provider_tx_id", "amount", "currency", "status", "reason",
	"provider_time", "created_at", "updated_at", "completed_at", "failed_at",
}

func storedTx(status string, amount int64) *sqlmock.Rows {
	var completed any
	if status == "completed" {
		completed = created.Add(time.Minute)
	}
	return sqlmock.NewRows(txCols).AddRow(
		"tx-row-1", "bk-1", "payme", "6650f1", amount, "UZS", status, 0,
		nil, created, created, completed, nil,
	)
}

func attempt(amount int64) domainpayments.Attempt {
	return domainpayments.Attempt{
		BookingID:    "bk-1",
		Provider:     domainpayments.ProviderPayme,
		ProviderTxID: "6650f1",
		Amount:       money.Must(amount, "UZS"),
		Status:       domainpayments.TxInitiated,
		At:           created,
	}
}

func TestLedger_RecordFirstSeen(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)

	mock.ExpectExec(q("INSERT INTO payment_transactions")).WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ledger.Record(context.Background(), attempt(21_000_000))
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, domainpayments.TxInitiated, res.Transaction.Status)
	assert.NotEmpty(t, res.Transaction.ID)
}

func TestLedger_DuplicateIsReplayWithMismatch(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)

	mock.ExpectExec(q("INSERT INTO payment_transactions")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(q("FROM payment_transactions WHERE provider = $1 AND provider_tx_id = $2")).
		WithArgs("payme", "6650f1").
		WillReturnRows(storedTx("initiated", 21_000_000))

	res, err := ledger.Record(context.Background(), attempt(20_000_000))
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.True(t, res.AmountMismatch)
	assert.False(t, res.BookingMismatch)
	assert.Equal(t, "tx-row-1", res.Transaction.ID)
	assert.Equal(t, money.Must(21_000_000, "UZS"), res.Transaction.Amount)
}

func TestLedger_DuplicateInsideTransactionRollsBackToSavepoint(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)
	repo := NewBookingRepository(db)
	factory := Factory{DB: db, BookingRepo: repo, Directory: domainplaces.NewDirectory(NewPlaceRepository(db)), LedgerStore: ledger}

	mock.ExpectBegin()
	mock.ExpectExec(q("SAVEPOINT ledger_record")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO payment_transactions")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(q("ROLLBACK TO SAVEPOINT ledger_record")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM payment_transactions WHERE provider = $1")).WillReturnRows(storedTx("initiated", 21_000_000))
	mock.ExpectCommit()

	unit, err := factory.Begin(context.Background(), uow.TxOptions{})
	require.NoError(t, err)
	ctx := unit.(*Unit).InjectContext(context.Background())
	res, err := unit.Ledger().Record(ctx, attempt(21_000_000))
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.False(t, res.AmountMismatch)
	require.NoError(t, unit.Commit(ctx))
}

func TestLedger_OtherInsertErrorsPropagate(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)

	mock.ExpectExec(q("INSERT INTO payment_transactions")).WillReturnError(&pq.Error{Code: "23514"})

	_, err := ledger.Record(context.Background(), attempt(21_000_000))
	require.Error(t, err)
}

func TestLedger_CompleteOnlyOnce(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)
	at := created.Add(time.Minute)

	mock.ExpectQuery(q("UPDATE payment_transactions SET status = $1, updated_at = $2, completed_at = $2")).
		WithArgs("completed", at, "payme", "6650f1").
		WillReturnRows(storedTx("completed", 21_000_000))
	mock.ExpectQuery(q("UPDATE payment_transactions SET status = $1")).
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery(q("FROM payment_transactions WHERE provider = $1")).
		WillReturnRows(storedTx("completed", 21_000_000))

	tx, changed, err := ledger.Complete(context.Background(), domainpayments.ProviderPayme, "6650f1", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, at, tx.CompletedAt)

	tx, changed, err = ledger.Complete(context.Background(), domainpayments.ProviderPayme, "6650f1", at)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domainpayments.TxCompleted, tx.Status)
}

func TestLedger_GetMissing(t *testing.T) {
	db, mock := setupMock(t)
	ledger := NewLedger(db)

	mock.ExpectQuery(q("FROM payment_transactions WHERE provider = $1")).WillReturnRows(sqlmock.NewRows(txCols))

	_, err := ledger.Get(context.Background(), domainpayments.ProviderClick, "nope")
	assert.ErrorIs(t, err, domainpayments.ErrTransactionNotFound)
}
