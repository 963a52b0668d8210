package uow

import (
	"context"

	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	domainplaces "venuebook/internal/domain/places"
)

// UnitOfWork coordinates repositories inside a transaction boundary.
type UnitOfWork interface {
	Bookings() domainbooking.Repository
	Places() *domainplaces.Directory
	Ledger() domainpayments.Ledger

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries. Bypass runs the command without
// a surrounding transaction; it is used by commands whose writes are
// compare-and-set on their own.
type TxOptions struct {
	ReadOnly bool
	Bypass   bool
}
