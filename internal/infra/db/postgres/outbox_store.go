package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	appoutbox "venuebook/internal/app/outbox"
	infraoutbox "venuebook/internal/infra/outbox"
)

const (
	outboxNew     = "NEW"
	outboxClaimed = "CLAIMED"
	outboxSent    = "SENT"
	outboxFailed  = "FAILED"
)

// OutboxStore writes outbox rows in the caller's transaction when there is one.
type OutboxStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewOutboxStore(db *sqlx.DB) *OutboxStore {
	return &OutboxStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *OutboxStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = conn(ctx, s.db).ExecContext(ctx, `INSERT INTO outbox_events
		(id, name, payload, occurred_at, aggregate, headers, state, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`,
		record.ID, record.Name, record.Payload, record.OccurredAt.UTC(), record.Aggregate,
		types.JSONText(headers), outboxNew, now)
	return err
}

func (s *OutboxStore) Flush(context.Context) error {
	return nil
}

// Claim locks one due row; SKIP LOCKED lets several workers poll the table.
func (s *OutboxStore) Claim(ctx context.Context, workerID string) (*infraoutbox.Message, error) {
	now := s.now()
	var row outboxRow
	err := sqlx.GetContext(ctx, s.db, &row, `UPDATE outbox_events SET state = $1, claimed_by = $2, claimed_at = $3
		WHERE id = (
			SELECT id FROM outbox_events
			WHERE state IN ($4, $5) AND next_attempt_at <= $3
			ORDER BY next_attempt_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, payload, occurred_at, aggregate, headers, attempts`,
		outboxClaimed, workerID, now, outboxNew, outboxFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMessage()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_events SET state = $1, sent_at = $2 WHERE id = $3`, outboxSent, s.now(), id)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_events
		SET state = $1, next_attempt_at = $2, last_error = $3, attempts = attempts + 1
		WHERE id = $4`, outboxFailed, next.UTC(), errMsg, id)
	return err
}

type outboxRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Payload    []byte         `db:"payload"`
	OccurredAt time.Time      `db:"occurred_at"`
	Aggregate  string         `db:"aggregate"`
	Headers    types.JSONText `db:"headers"`
	Attempts   int            `db:"attempts"`
}

func (row outboxRow) toMessage() (*infraoutbox.Message, error) {
	headers := map[string]string{}
	if err := row.Headers.Unmarshal(&headers); err != nil {
		return nil, err
	}
	return &infraoutbox.Message{
		ID:         row.ID,
		Name:       row.Name,
		Payload:    row.Payload,
		OccurredAt: row.OccurredAt.UTC(),
		Aggregate:  row.Aggregate,
		Headers:    headers,
		Attempts:   row.Attempts,
	}, nil
}

var (
	_ infraoutbox.Store = (*OutboxStore)(nil)
	_ appoutbox.Outbox  = (*OutboxStore)(nil)
)
