package places

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
)

var (
	ErrPlaceNotFound    = errors.New("places: not found")
	ErrNameRequired     = errors.New("places: name is required")
	ErrHostRequired     = errors.New("places: host is required")
	ErrInvalidRefund    = errors.New("places: refund option is invalid")
	ErrInvalidPerk      = errors.New("places: perk is invalid")
	ErrCurrencyMismatch = errors.New("places: currency does not match pricing")
	ErrPerkNotFound     = errors.New("places: perk not offered by place")
	ErrDuplicateWindow  = errors.New("places: refund windows must be unique")
	ErrCurrencyRequired = errors.New("places: currency is required")
)

type PlaceID string
type HostID string

// RefundOption grants RefundPercentage of the total when the booking is
// cancelled at least WindowHours before it starts.
type RefundOption struct {
	WindowHours      int
	RefundPercentage int
}

func (o RefundOption) Validate() error {
	if o.WindowHours < 0 {
		return fmt.Errorf("%w: window hours %d", ErrInvalidRefund, o.WindowHours)
	}
	if o.RefundPercentage < 0 || o.RefundPercentage > 100 {
		return fmt.Errorf("%w: percentage %d", ErrInvalidRefund, o.RefundPercentage)
	}
	return nil
}

type Perk struct {
	Name   string
	IsPaid bool
	Price  money.Money
}

type Place struct {
	ID            PlaceID
	HostID        HostID
	Name          string
	Currency      string
	Pricing       pricing.Pricing
	RefundOptions []RefundOption
	Perks         []Perk
	UpdatedAt     time.Time
}

// Validate is applied to every place read from a source before it reaches
// the booking core.
func (p *Place) Validate() error {
	if p == nil {
		return ErrPlaceNotFound
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(string(p.HostID)) == "" {
		return ErrHostRequired
	}
	if p.Currency == "" {
		return ErrCurrencyRequired
	}
	if p.Pricing.HourlyRate.Currency != p.Currency {
		return ErrCurrencyMismatch
	}
	if err := p.Pricing.Validate(); err != nil {
		return err
	}
	seen := make(map[int]struct{}, len(p.RefundOptions))
	for _, opt := range p.RefundOptions {
		if err := opt.Validate(); err != nil {
			return err
		}
		if _, dup := seen[opt.WindowHours]; dup {
			return ErrDuplicateWindow
		}
		seen[opt.WindowHours] = struct{}{}
	}
	for _, perk := range p.Perks {
		if strings.TrimSpace(perk.Name) == "" {
			return fmt.Errorf("%w: name is empty", ErrInvalidPerk)
		}
		if !perk.IsPaid {
			continue
		}
		if perk.Price.Amount < 0 || perk.Price.Currency != p.Currency {
			return fmt.Errorf("%w: %q price", ErrInvalidPerk, perk.Name)
		}
	}
	return nil
}

// Extras resolves the named perks into fee extras. Names match case-insensitively
// and a perk named more than once is charged once. Unpaid perks contribute nothing.
func (p *Place) Extras(names []string) ([]pricing.Extra, error) {
	index := make(map[string]Perk, len(p.Perks))
	for _, perk := range p.Perks {
		index[perkKey(perk.Name)] = perk
	}
	var extras []pricing.Extra
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := perkKey(name)
		perk, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPerkNotFound, name)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !perk.IsPaid || perk.Price.Amount == 0 {
			continue
		}
		extras = append(extras, pricing.Extra{Name: perk.Name, Amount: perk.Price})
	}
	return extras, nil
}

func perkKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Source returns a single place. Implementations live in the storage adapters.
type Source interface {
	Place(ctx context.Context, id PlaceID) (*Place, error)
}

// Directory is the read-only view of place data used by the booking core.
type Directory struct {
	source Source
}

func NewDirectory(source Source) *Directory {
	return &Directory{source: source}
}

func (d *Directory) Place(ctx context.Context, id PlaceID) (*Place, error) {
	place, err := d.source.Place(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := place.Validate(); err != nil {
		return nil, fmt.Errorf("place %s: %w", id, err)
	}
	return place, nil
}

func (d *Directory) Pricing(ctx context.Context, id PlaceID) (pricing.Pricing, error) {
	place, err := d.Place(ctx, id)
	if err != nil {
		return pricing.Pricing{}, err
	}
	return place.Pricing, nil
}

func (d *Directory) RefundOptions(ctx context.Context, id PlaceID) ([]RefundOption, error) {
	place, err := d.Place(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]RefundOption(nil), place.RefundOptions...), nil
}
