package notify

import (
	"context"
	"errors"
	"log/slog"

	appoutbox "venuebook/internal/app/outbox"
	"venuebook/internal/app/policies"
)

var ErrOutboxRequired = errors.New("notify: outbox required")

// OutboxTrigger turns a transition into an outbox record. The outbox worker
// delivers it to Kafka, where the SMS and push consumers pick it up.
type OutboxTrigger struct {
	Outbox  appoutbox.Outbox
	Encoder appoutbox.EventEncoder
}

func (t OutboxTrigger) Notify(ctx context.Context, n policies.Notification) error {
	if t.Outbox == nil {
		return ErrOutboxRequired
	}
	if n.Event == nil {
		return nil
	}
	encoder := t.Encoder
	if encoder == nil {
		encoder = appoutbox.JSONEventEncoder{}
	}
	rec, err := encoder.Encode(n.Event)
	if err != nil {
		return err
	}
	if rec.Headers == nil {
		rec.Headers = map[string]string{}
	}
	rec.Headers["booking_id"] = string(n.BookingID)
	rec.Headers["notification_kind"] = n.Kind
	if err := t.Outbox.Add(ctx, rec); err != nil {
		return err
	}
	return t.Outbox.Flush(ctx)
}

// LogTrigger writes every notification to the log.
type LogTrigger struct {
	Logger *slog.Logger
}

func (t LogTrigger) Notify(ctx context.Context, n policies.Notification) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "booking notification", "booking_id", n.BookingID, "kind", n.Kind)
	return nil
}

var (
	_ policies.NotificationTrigger = OutboxTrigger{}
	_ policies.NotificationTrigger = LogTrigger{}
)
