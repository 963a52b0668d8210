package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"venuebook/internal/app/uow"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	domainplaces "venuebook/internal/domain/places"
)

var ErrUnitOfWorkNotConfigured = errors.New("postgres: unit of work factory missing database")

// Factory opens one SQL transaction per unit. Repositories pick the
// transaction up from the context injected by the unit.
type Factory struct {
	DB *sqlx.DB

	BookingRepo domainbooking.Repository
	Directory   *domainplaces.Directory
	LedgerStore domainpayments.Ledger
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil || f.BookingRepo == nil || f.Directory == nil || f.LedgerStore == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	txOpts := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	if opts.ReadOnly {
		txOpts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := f.DB.BeginTxx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	return &Unit{tx: tx, bookings: f.BookingRepo, places: f.Directory, ledger: f.LedgerStore}, nil
}

type Unit struct {
	tx *sqlx.Tx

	bookings domainbooking.Repository
	places   *domainplaces.Directory
	ledger   domainpayments.Ledger
}

func (u *Unit) Bookings() domainbooking.Repository {
	return u.bookings
}

func (u *Unit) Places() *domainplaces.Directory {
	return u.places
}

func (u *Unit) Ledger() domainpayments.Ledger {
	return u.ledger
}

func (u *Unit) Commit(ctx context.Context) error {
	return u.tx.Commit()
}

// Rollback after Commit is a no-op.
func (u *Unit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return withTx(ctx, u.tx)
}
