package middleware

import (
	"context"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/uow"
)

// TransactionalCommand lets a command pick its own transaction options.
type TransactionalCommand interface {
	commands.Command
	TxOptions() uow.TxOptions
}

// CommandTxOptions reads options from commands implementing TransactionalCommand.
func CommandTxOptions(cmd commands.Command) uow.TxOptions {
	if tc, ok := cmd.(TransactionalCommand); ok {
		return tc.TxOptions()
	}
	return uow.TxOptions{}
}

type TxOptionsProvider func(cmd commands.Command) uow.TxOptions

func Transaction(factory uow.UoWFactory, optsProvider TxOptionsProvider) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			opts := CommandTxOptions(cmd)
			if optsProvider != nil {
				opts = optsProvider(cmd)
			}
			if opts.Bypass {
				return nextFn(ctx, cmd)
			}
			unit, err := factory.Begin(ctx, opts)
			if err != nil {
				return nil, err
			}
			execCtx := uow.Enter(ctx, unit)
			committed := false
			defer func() {
				if !committed {
					_ = unit.Rollback(execCtx)
				}
			}()

			res, err := nextFn(execCtx, cmd)
			if err != nil {
				return nil, err
			}
			if err := unit.Commit(execCtx); err != nil {
				return nil, err
			}
			committed = true
			return res, nil
		})
	}
}
