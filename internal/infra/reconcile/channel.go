package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appoutbox "venuebook/internal/app/outbox"
	"venuebook/internal/app/policies"
	"venuebook/internal/infra/storage/s3"
)

const warningEventName = "payments.reconciliation_warning"

type WarningRecorder interface {
	RecordWarning(kind string)
}

// Channel hands reconciliation warnings to operators. The warning is archived
// as a JSON document and published on the outbox so the back office sees it.
// Each sink is optional.
type Channel struct {
	Archive  s3.Archiver
	Outbox   appoutbox.Outbox
	Recorder WarningRecorder
	Logger   *slog.Logger
}

func (c Channel) Report(ctx context.Context, w policies.ReconciliationWarning) error {
	if c.Recorder != nil {
		c.Recorder.RecordWarning(string(w.Kind))
	}
	doc := newWarningDocument(w)
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var errs []error
	if c.Archive != nil {
		location, err := c.Archive.Put(ctx, archiveKey(w), body, "application/json")
		switch {
		case errors.Is(err, s3.ErrArchiveDisabled):
		case err != nil:
			errs = append(errs, fmt.Errorf("archive warning: %w", err))
		default:
			c.logger().Info("reconciliation warning archived", "kind", w.Kind, "booking_id", w.BookingID, "location", location)
		}
	}
	if c.Outbox != nil {
		rec := appoutbox.EventRecord{
			ID:         uuid.NewString(),
			Name:       warningEventName,
			Payload:    body,
			OccurredAt: doc.At,
			Aggregate:  string(w.BookingID),
			Headers:    map[string]string{"warning_kind": string(w.Kind), "provider": string(w.Provider)},
		}
		if err := c.Outbox.Add(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("queue warning: %w", err))
		} else if err := c.Outbox.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush warning: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c Channel) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// archiveKey groups warnings per day and keeps one object per provider
// transaction and kind, so a repeated report overwrites instead of piling up.
func archiveKey(w policies.ReconciliationWarning) string {
	at := w.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	provider := string(w.Provider)
	if provider == "" {
		provider = "unknown"
	}
	return fmt.Sprintf("reconciliation/%s/%s/%s-%s.json", at.Format("2006/01/02"), provider, sanitize(w.ProviderTxID), w.Kind)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return string(out)
}

type moneyDocument struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type transactionDocument struct {
	ID           string        `json:"id"`
	BookingID    string        `json:"booking_id"`
	Status       string        `json:"status"`
	Amount       moneyDocument `json:"amount"`
	ProviderTxID string        `json:"provider_tx_id"`
	CreatedAt    time.Time     `json:"created_at"`
}

type warningDocument struct {
	Kind           string               `json:"kind"`
	BookingID      string               `json:"booking_id"`
	Provider       string               `json:"provider"`
	ProviderTxID   string               `json:"provider_tx_id"`
	Detail         string               `json:"detail,omitempty"`
	At             time.Time            `json:"at"`
	Stored         *transactionDocument `json:"stored,omitempty"`
	AttemptAmount  moneyDocument        `json:"attempt_amount"`
	AttemptStatus  string               `json:"attempt_status"`
	AttemptBooking string               `json:"attempt_booking_id"`
}

func newWarningDocument(w policies.ReconciliationWarning) warningDocument {
	doc := warningDocument{
		Kind:           string(w.Kind),
		BookingID:      string(w.BookingID),
		Provider:       string(w.Provider),
		ProviderTxID:   w.ProviderTxID,
		Detail:         w.Detail,
		At:             w.At.UTC(),
		AttemptAmount:  moneyDocument{Amount: w.Attempt.Amount.Amount, Currency: w.Attempt.Amount.Currency},
		AttemptStatus:  string(w.Attempt.Status),
		AttemptBooking: string(w.Attempt.BookingID),
	}
	if w.Stored != nil {
		doc.Stored = &transactionDocument{
			ID:           w.Stored.ID,
			BookingID:    string(w.Stored.BookingID),
			Status:       string(w.Stored.Status),
			Amount:       moneyDocument{Amount: w.Stored.Amount.Amount, Currency: w.Stored.Amount.Currency},
			ProviderTxID: w.Stored.ProviderTxID,
			CreatedAt:    w.Stored.CreatedAt.UTC(),
		}
	}
	return doc
}

var _ policies.OperatorChannel = Channel{}
