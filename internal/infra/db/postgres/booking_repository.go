package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

const bookingColumns = `id, place_id, host_id, client_id, slots, perks, currency, base_price, service_fee,
	protection_plan_selected, protection_plan_fee, final_total, refund_policy, status, selected_at,
	paid_at, approved_at, rejected_at, cancelled_at, status_reason, refund_percent, refund_amount,
	refund_window, payment_provider, payment_reference, created_at, updated_at, version`

const insertBooking = `INSERT INTO bookings (` + bookingColumns + `)
	VALUES (:id, :place_id, :host_id, :client_id, :slots, :perks, :currency, :base_price, :service_fee,
	:protection_plan_selected, :protection_plan_fee, :final_total, :refund_policy, :status, :selected_at,
	:paid_at, :approved_at, :rejected_at, :cancelled_at, :status_reason, :refund_percent, :refund_amount,
	:refund_window, :payment_provider, :payment_reference, :created_at, :updated_at, :version)
	ON CONFLICT (id) DO NOTHING`

// Only status, payment and bookkeeping columns change after creation.
const updateBooking = `UPDATE bookings SET status = :status, selected_at = :selected_at, paid_at = :paid_at,
	approved_at = :approved_at, rejected_at = :rejected_at, cancelled_at = :cancelled_at,
	status_reason = :status_reason, refund_percent = :refund_percent, refund_amount = :refund_amount,
	refund_window = :refund_window, payment_provider = :payment_provider,
	payment_reference = :payment_reference, updated_at = :updated_at, version = :version
	WHERE id = :id AND version = :prev_version`

type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var row bookingRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domainbooking.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toAggregate()
}

// Save inserts version 0 and otherwise updates only the row still at b.Version.
func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	row, err := newBookingRow(b)
	if err != nil {
		return err
	}
	row.Version = b.Version + 1
	var res sql.Result
	if b.Version == 0 {
		res, err = sqlx.NamedExecContext(ctx, conn(ctx, r.db), insertBooking, row)
	} else {
		res, err = sqlx.NamedExecContext(ctx, conn(ctx, r.db), updateBooking, versionedRow{bookingRow: row, PrevVersion: b.Version})
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version = row.Version
	return nil
}

func (r *BookingRepository) ListByClient(ctx context.Context, clientID string, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(ctx, "client_id = $1", clientID, filter)
}

func (r *BookingRepository) ListByHost(ctx context.Context, hostID domainplaces.HostID, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(ctx, "host_id = $1", string(hostID), filter)
}

func (r *BookingRepository) ListSelectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domainbooking.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = $1 AND selected_at < $2 ORDER BY selected_at`
	args := []any{string(domainbooking.StatusSelected), cutoff.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

func (r *BookingRepository) list(ctx context.Context, where string, owner string, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + where
	args := []any{owner}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	return r.query(ctx, query, args...)
}

func (r *BookingRepository) query(ctx context.Context, query string, args ...any) ([]*domainbooking.Booking, error) {
	var rows []bookingRow
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*domainbooking.Booking, 0, len(rows))
	for _, row := range rows {
		b, err := row.toAggregate()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type bookingRow struct {
	ID                     string         `db:"id"`
	PlaceID                string         `db:"place_id"`
	HostID                 string         `db:"host_id"`
	ClientID               string         `db:"client_id"`
	Slots                  types.JSONText `db:"slots"`
	Perks                  pq.StringArray `db:"perks"`
	Currency               string         `db:"currency"`
	BasePrice              int64          `db:"base_price"`
	ServiceFee             int64          `db:"service_fee"`
	ProtectionPlanSelected bool           `db:"protection_plan_selected"`
	ProtectionPlanFee      int64          `db:"protection_plan_fee"`
	FinalTotal             int64          `db:"final_total"`
	RefundPolicy           types.JSONText `db:"refund_policy"`
	Status                 string         `db:"status"`
	SelectedAt             *time.Time     `db:"selected_at"`
	PaidAt                 *time.Time     `db:"paid_at"`
	ApprovedAt             *time.Time     `db:"approved_at"`
	RejectedAt             *time.Time     `db:"rejected_at"`
	CancelledAt            *time.Time     `db:"cancelled_at"`
	StatusReason           string         `db:"status_reason"`
	RefundPercent          int            `db:"refund_percent"`
	RefundAmount           int64          `db:"refund_amount"`
	RefundWindow           int            `db:"refund_window"`
	PaymentProvider        string         `db:"payment_provider"`
	PaymentReference       string         `db:"payment_reference"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
	Version                int64          `db:"version"`
}

type versionedRow struct {
	bookingRow
	PrevVersion int64 `db:"prev_version"`
}

type slotJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type refundJSON struct {
	WindowHours      int `json:"window_hours"`
	RefundPercentage int `json:"refund_percentage"`
}

func newBookingRow(b *domainbooking.Booking) (bookingRow, error) {
	slots := make([]slotJSON, 0, len(b.Slots))
	for _, s := range b.Slots {
		slots = append(slots, slotJSON{Start: s.Start.UTC(), End: s.End.UTC()})
	}
	slotsRaw, err := json.Marshal(slots)
	if err != nil {
		return bookingRow{}, err
	}
	refundRaw, err := json.Marshal(refundsToJSON(b.RefundPolicy.Options()))
	if err != nil {
		return bookingRow{}, err
	}
	rec := domainbooking.RecordOf(b.Status)
	perks := b.Perks
	if perks == nil {
		perks = []string{}
	}
	return bookingRow{
		ID:                     string(b.ID),
		PlaceID:                string(b.PlaceID),
		HostID:                 string(b.HostID),
		ClientID:               b.ClientID,
		Slots:                  types.JSONText(slotsRaw),
		Perks:                  pq.StringArray(perks),
		Currency:               b.Fees.FinalTotal.Currency,
		BasePrice:              b.Fees.BasePrice.Amount,
		ServiceFee:             b.Fees.ServiceFee.Amount,
		ProtectionPlanSelected: b.Fees.ProtectionPlanSelected,
		ProtectionPlanFee:      b.Fees.ProtectionPlanFee.Amount,
		FinalTotal:             b.Fees.FinalTotal.Amount,
		RefundPolicy:           types.JSONText(refundRaw),
		Status:                 rec.Kind,
		SelectedAt:             rec.SelectedAt,
		PaidAt:                 rec.PaidAt,
		ApprovedAt:             rec.ApprovedAt,
		RejectedAt:             rec.RejectedAt,
		CancelledAt:            rec.CancelledAt,
		StatusReason:           rec.Reason,
		RefundPercent:          rec.RefundPercent,
		RefundAmount:           rec.RefundAmount,
		RefundWindow:           rec.RefundWindow,
		PaymentProvider:        b.Payment.Provider,
		PaymentReference:       b.Payment.Reference,
		CreatedAt:              b.CreatedAt.UTC(),
		UpdatedAt:              b.UpdatedAt.UTC(),
		Version:                b.Version,
	}, nil
}

func (row bookingRow) toAggregate() (*domainbooking.Booking, error) {
	currency := row.Currency
	status, err := domainbooking.StatusFromRecord(domainbooking.StatusRecord{
		Kind:          row.Status,
		SelectedAt:    row.SelectedAt,
		PaidAt:        row.PaidAt,
		ApprovedAt:    row.ApprovedAt,
		RejectedAt:    row.RejectedAt,
		CancelledAt:   row.CancelledAt,
		Reason:        row.StatusReason,
		RefundPercent: row.RefundPercent,
		RefundAmount:  row.RefundAmount,
		RefundWindow:  row.RefundWindow,
	}, currency)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", row.ID, err)
	}
	var slots []slotJSON
	if err := row.Slots.Unmarshal(&slots); err != nil {
		return nil, fmt.Errorf("booking %s slots: %w", row.ID, err)
	}
	set := make(timeslot.Set, 0, len(slots))
	for _, s := range slots {
		set = append(set, timeslot.Slot{Start: s.Start.UTC(), End: s.End.UTC()})
	}
	var refunds []refundJSON
	if err := row.RefundPolicy.Unmarshal(&refunds); err != nil {
		return nil, fmt.Errorf("booking %s refund policy: %w", row.ID, err)
	}
	return &domainbooking.Booking{
		ID:       domainbooking.BookingID(row.ID),
		PlaceID:  domainplaces.PlaceID(row.PlaceID),
		HostID:   domainplaces.HostID(row.HostID),
		ClientID: row.ClientID,
		Slots:    set,
		Perks:    []string(row.Perks),
		Fees: domainpricing.Breakdown{
			BasePrice:              money.Money{Amount: row.BasePrice, Currency: currency},
			ServiceFee:             money.Money{Amount: row.ServiceFee, Currency: currency},
			ProtectionPlanSelected: row.ProtectionPlanSelected,
			ProtectionPlanFee:      money.Money{Amount: row.ProtectionPlanFee, Currency: currency},
			FinalTotal:             money.Money{Amount: row.FinalTotal, Currency: currency},
		},
		RefundPolicy: domainbooking.RestoreRefundPolicy(refundsFromJSON(refunds)),
		Status:       status,
		Payment:      domainbooking.PaymentRef{Provider: row.PaymentProvider, Reference: row.PaymentReference},
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		Version:      row.Version,
	}, nil
}

func refundsToJSON(options []domainplaces.RefundOption) []refundJSON {
	out := make([]refundJSON, 0, len(options))
	for _, o := range options {
		out = append(out, refundJSON{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	return out
}

func refundsFromJSON(in []refundJSON) []domainplaces.RefundOption {
	out := make([]domainplaces.RefundOption, 0, len(in))
	for _, o := range in {
		out = append(out, domainplaces.RefundOption{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	return out
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
