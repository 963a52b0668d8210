package support

import (
	"context"

	"venuebook/internal/app/uow"
)

// Read runs fn inside the unit already on ctx, or inside a fresh read-only
// unit that is rolled back afterwards. Queries never commit.
func Read[T any](ctx context.Context, factory uow.UoWFactory, fn func(ctx context.Context, unit uow.UnitOfWork) (T, error)) (T, error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return fn(ctx, unit)
	}
	var zero T
	if factory == nil {
		return zero, uow.ErrUnitOfWorkMissing
	}
	unit, err := factory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return zero, err
	}
	execCtx := uow.Enter(ctx, unit)
	defer func() { _ = unit.Rollback(execCtx) }()
	return fn(execCtx, unit)
}
