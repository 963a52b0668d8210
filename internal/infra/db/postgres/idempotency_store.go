package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"venuebook/internal/app/middleware"
)

// IdempotencyStore keeps command results for Idempotency-Key replays. The
// primary key on key is what makes Reserve an atomic claim.
type IdempotencyStore struct {
	db *sqlx.DB
}

func NewIdempotencyStore(db *sqlx.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

type idempotencyRow struct {
	Key        string    `db:"key"`
	Payload    []byte    `db:"payload"`
	Error      string    `db:"error"`
	ErrorCode  string    `db:"error_code"`
	Pending    bool      `db:"pending"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	var row idempotencyRow
	err := sqlx.GetContext(ctx, s.db, &row, `SELECT key, payload, error, error_code, pending, occurred_at
		FROM app_idempotency WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return middleware.IdempotencyRecord{
		Key:        row.Key,
		Payload:    row.Payload,
		Error:      row.Error,
		ErrorCode:  row.ErrorCode,
		Pending:    row.Pending,
		OccurredAt: row.OccurredAt.UTC(),
	}, true, nil
}

// Reserve inserts a pending row, or takes over a pending row whose owner
// stopped before staleBefore. A conflict that matches neither affects no rows.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, at, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO app_idempotency (key, pending, occurred_at, created_at)
		VALUES ($1, TRUE, $2, $2)
		ON CONFLICT (key) DO UPDATE SET occurred_at = EXCLUDED.occurred_at, created_at = EXCLUDED.created_at
		WHERE app_idempotency.pending AND app_idempotency.occurred_at < $3`,
		key, at.UTC(), staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO app_idempotency (key, payload, error, error_code, pending, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, NOW())
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, error = EXCLUDED.error,
		error_code = EXCLUDED.error_code, pending = FALSE, occurred_at = EXCLUDED.occurred_at`,
		rec.Key, rec.Payload, rec.Error, rec.ErrorCode, rec.OccurredAt.UTC())
	return err
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_idempotency WHERE key = $1 AND pending`, key)
	return err
}

// Purge drops records older than before. It runs as a scheduled job since
// Postgres has no TTL index.
func (s *IdempotencyStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_idempotency WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
