package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
)

const placeColumns = `id, host_id, name, currency, hourly_rate, minimum_hours, full_day_hours,
	full_day_discount_price, refund_options, perks, updated_at`

type PlaceRepository struct {
	db *sqlx.DB
}

func NewPlaceRepository(db *sqlx.DB) *PlaceRepository {
	return &PlaceRepository{db: db}
}

func (r *PlaceRepository) Place(ctx context.Context, id domainplaces.PlaceID) (*domainplaces.Place, error) {
	var row placeRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT `+placeColumns+` FROM places WHERE id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domainplaces.ErrPlaceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toPlace()
}

// Upsert stores a place; it is used to seed fixtures.
func (r *PlaceRepository) Upsert(ctx context.Context, p domainplaces.Place) error {
	row, err := newPlaceRow(p)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, conn(ctx, r.db), `INSERT INTO places (`+placeColumns+`)
		VALUES (:id, :host_id, :name, :currency, :hourly_rate, :minimum_hours, :full_day_hours,
		:full_day_discount_price, :refund_options, :perks, :updated_at)
		ON CONFLICT (id) DO UPDATE SET host_id = EXCLUDED.host_id, name = EXCLUDED.name,
		currency = EXCLUDED.currency, hourly_rate = EXCLUDED.hourly_rate,
		minimum_hours = EXCLUDED.minimum_hours, full_day_hours = EXCLUDED.full_day_hours,
		full_day_discount_price = EXCLUDED.full_day_discount_price,
		refund_options = EXCLUDED.refund_options, perks = EXCLUDED.perks, updated_at = EXCLUDED.updated_at`, row)
	return err
}

type placeRow struct {
	ID                   string         `db:"id"`
	HostID               string         `db:"host_id"`
	Name                 string         `db:"name"`
	Currency             string         `db:"currency"`
	HourlyRate           int64          `db:"hourly_rate"`
	MinimumHours         int            `db:"minimum_hours"`
	FullDayHours         int            `db:"full_day_hours"`
	FullDayDiscountPrice int64          `db:"full_day_discount_price"`
	RefundOptions        types.JSONText `db:"refund_options"`
	Perks                types.JSONText `db:"perks"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

type perkJSON struct {
	Name   string `json:"name"`
	IsPaid bool   `json:"is_paid"`
	Price  int64  `json:"price"`
}

func newPlaceRow(p domainplaces.Place) (placeRow, error) {
	refunds, err := json.Marshal(refundsToJSON(p.RefundOptions))
	if err != nil {
		return placeRow{}, err
	}
	perks := make([]perkJSON, 0, len(p.Perks))
	for _, perk := range p.Perks {
		perks = append(perks, perkJSON{Name: perk.Name, IsPaid: perk.IsPaid, Price: perk.Price.Amount})
	}
	perksRaw, err := json.Marshal(perks)
	if err != nil {
		return placeRow{}, err
	}
	return placeRow{
		ID:                   string(p.ID),
		HostID:               string(p.HostID),
		Name:                 p.Name,
		Currency:             p.Currency,
		HourlyRate:           p.Pricing.HourlyRate.Amount,
		MinimumHours:         p.Pricing.MinimumHours,
		FullDayHours:         p.Pricing.FullDayHours,
		FullDayDiscountPrice: p.Pricing.FullDayDiscountPrice.Amount,
		RefundOptions:        types.JSONText(refunds),
		Perks:                types.JSONText(perksRaw),
		UpdatedAt:            p.UpdatedAt.UTC(),
	}, nil
}

func (row placeRow) toPlace() (*domainplaces.Place, error) {
	var refunds []refundJSON
	if err := row.RefundOptions.Unmarshal(&refunds); err != nil {
		return nil, fmt.Errorf("place %s refund options: %w", row.ID, err)
	}
	var perks []perkJSON
	if err := row.Perks.Unmarshal(&perks); err != nil {
		return nil, fmt.Errorf("place %s perks: %w", row.ID, err)
	}
	p := &domainplaces.Place{
		ID:       domainplaces.PlaceID(row.ID),
		HostID:   domainplaces.HostID(row.HostID),
		Name:     row.Name,
		Currency: row.Currency,
		Pricing: domainpricing.Pricing{
			HourlyRate:           money.Money{Amount: row.HourlyRate, Currency: row.Currency},
			MinimumHours:         row.MinimumHours,
			FullDayHours:         row.FullDayHours,
			FullDayDiscountPrice: money.Money{Amount: row.FullDayDiscountPrice, Currency: row.Currency},
		},
		RefundOptions: refundsFromJSON(refunds),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	for _, perk := range perks {
		p.Perks = append(p.Perks, domainplaces.Perk{Name: perk.Name, IsPaid: perk.IsPaid, Price: money.Money{Amount: perk.Price, Currency: row.Currency}})
	}
	return p, nil
}

var _ domainplaces.Source = (*PlaceRepository)(nil)
