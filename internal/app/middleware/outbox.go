package middleware

import (
	"context"
	"log/slog"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/outbox"
)

// OutboxFlush compacts the outbox after a successful command. Events are
// already stored inside the command's unit, so a failed flush is logged and
// the command still commits.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := nextFn(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				logger.WarnContext(ctx, "outbox flush failed", "command", string(cmd.Name()), "error", err)
			}
			return res, nil
		})
	}
}
