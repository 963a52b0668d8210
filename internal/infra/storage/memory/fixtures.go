package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
)

// PlaceFixture is the JSON shape of data/places.json. Amounts are minor units.
type PlaceFixture struct {
	ID                   string          `json:"id"`
	HostID               string          `json:"host_id"`
	Name                 string          `json:"name"`
	Currency             string          `json:"currency"`
	HourlyRate           int64           `json:"hourly_rate"`
	MinimumHours         int             `json:"minimum_hours"`
	FullDayHours         int             `json:"full_day_hours"`
	FullDayDiscountPrice int64           `json:"full_day_discount_price"`
	RefundOptions        []refundFixture `json:"refund_options"`
	Perks                []perkFixture   `json:"perks"`
}

type refundFixture struct {
	WindowHours      int `json:"window_hours"`
	RefundPercentage int `json:"refund_percentage"`
}

type perkFixture struct {
	Name   string `json:"name"`
	IsPaid bool   `json:"is_paid"`
	Price  int64  `json:"price"`
}

func (f PlaceFixture) ToPlace() domainplaces.Place {
	p := domainplaces.Place{
		ID:       domainplaces.PlaceID(f.ID),
		HostID:   domainplaces.HostID(f.HostID),
		Name:     f.Name,
		Currency: f.Currency,
		Pricing: domainpricing.Pricing{
			HourlyRate:           money.Money{Amount: f.HourlyRate, Currency: f.Currency},
			MinimumHours:         f.MinimumHours,
			FullDayHours:         f.FullDayHours,
			FullDayDiscountPrice: money.Money{Amount: f.FullDayDiscountPrice, Currency: f.Currency},
		},
	}
	for _, r := range f.RefundOptions {
		p.RefundOptions = append(p.RefundOptions, domainplaces.RefundOption{WindowHours: r.WindowHours, RefundPercentage: r.RefundPercentage})
	}
	for _, perk := range f.Perks {
		p.Perks = append(p.Perks, domainplaces.Perk{Name: perk.Name, IsPaid: perk.IsPaid, Price: money.Money{Amount: perk.Price, Currency: f.Currency}})
	}
	return p
}

// ReadPlaceFixtures decodes and validates the fixture file. A missing file
// yields no places and no error.
func ReadPlaceFixtures(path string, logger *slog.Logger) ([]domainplaces.Place, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("place fixtures file not found, skipping", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("place fixtures file empty", "path", path)
		return nil, nil
	}
	var fixtures []PlaceFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	out := make([]domainplaces.Place, 0, len(fixtures))
	for _, fx := range fixtures {
		place := fx.ToPlace()
		if err := place.Validate(); err != nil {
			logger.Error("fixture invalid", "place_id", fx.ID, "error", err)
			continue
		}
		out = append(out, place)
	}
	return out, nil
}
