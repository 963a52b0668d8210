package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
)

const (
	defaultPlaceTTL = 5 * time.Minute
	placeKeyPrefix  = "venuebook:place:"
)

// PlaceCache is a read-through cache in front of a place source. Redis
// failures fall back to the source; they never fail a lookup.
type PlaceCache struct {
	client redis.Cmdable
	source domainplaces.Source
	ttl    time.Duration
	logger *slog.Logger
}

func NewPlaceCache(client redis.Cmdable, source domainplaces.Source, ttl time.Duration, logger *slog.Logger) *PlaceCache {
	if ttl <= 0 {
		ttl = defaultPlaceTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceCache{client: client, source: source, ttl: ttl, logger: logger}
}

func (c *PlaceCache) Place(ctx context.Context, id domainplaces.PlaceID) (*domainplaces.Place, error) {
	key := placeKey(id)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		p, decodeErr := decodePlace(raw)
		if decodeErr == nil {
			return p, nil
		}
		c.logger.Warn("place cache entry unreadable", "place_id", id, "error", decodeErr)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("place cache read failed", "place_id", id, "error", err)
	}

	p, err := c.source.Place(ctx, id)
	if err != nil {
		return nil, err
	}
	encoded, err := encodePlace(p)
	if err != nil {
		c.logger.Warn("place cache encode failed", "place_id", id, "error", err)
		return p, nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warn("place cache write failed", "place_id", id, "error", err)
	}
	return p, nil
}

// Invalidate drops the cached copy after a place changes.
func (c *PlaceCache) Invalidate(ctx context.Context, id domainplaces.PlaceID) error {
	return c.client.Del(ctx, placeKey(id)).Err()
}

func placeKey(id domainplaces.PlaceID) string {
	return placeKeyPrefix + string(id)
}

type placeEntry struct {
	ID                   string        `json:"id"`
	HostID               string        `json:"host_id"`
	Name                 string        `json:"name"`
	Currency             string        `json:"currency"`
	HourlyRate           int64         `json:"hourly_rate"`
	MinimumHours         int           `json:"minimum_hours"`
	FullDayHours         int           `json:"full_day_hours"`
	FullDayDiscountPrice int64         `json:"full_day_discount_price"`
	RefundOptions        []refundEntry `json:"refund_options"`
	Perks                []perkEntry   `json:"perks"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

type refundEntry struct {
	WindowHours      int `json:"window_hours"`
	RefundPercentage int `json:"refund_percentage"`
}

type perkEntry struct {
	Name   string `json:"name"`
	IsPaid bool   `json:"is_paid"`
	Price  int64  `json:"price"`
}

func encodePlace(p *domainplaces.Place) ([]byte, error) {
	entry := placeEntry{
		ID:                   string(p.ID),
		HostID:               string(p.HostID),
		Name:                 p.Name,
		Currency:             p.Currency,
		HourlyRate:           p.Pricing.HourlyRate.Amount,
		MinimumHours:         p.Pricing.MinimumHours,
		FullDayHours:         p.Pricing.FullDayHours,
		FullDayDiscountPrice: p.Pricing.FullDayDiscountPrice.Amount,
		UpdatedAt:            p.UpdatedAt.UTC(),
	}
	for _, o := range p.RefundOptions {
		entry.RefundOptions = append(entry.RefundOptions, refundEntry{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	for _, perk := range p.Perks {
		entry.Perks = append(entry.Perks, perkEntry{Name: perk.Name, IsPaid: perk.IsPaid, Price: perk.Price.Amount})
	}
	return json.Marshal(entry)
}

func decodePlace(raw []byte) (*domainplaces.Place, error) {
	var entry placeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	p := &domainplaces.Place{
		ID:       domainplaces.PlaceID(entry.ID),
		HostID:   domainplaces.HostID(entry.HostID),
		Name:     entry.Name,
		Currency: entry.Currency,
		Pricing: domainpricing.Pricing{
			HourlyRate:           money.Money{Amount: entry.HourlyRate, Currency: entry.Currency},
			MinimumHours:         entry.MinimumHours,
			FullDayHours:         entry.FullDayHours,
			FullDayDiscountPrice: money.Money{Amount: entry.FullDayDiscountPrice, Currency: entry.Currency},
		},
		UpdatedAt: entry.UpdatedAt.UTC(),
	}
	for _, o := range entry.RefundOptions {
		p.RefundOptions = append(p.RefundOptions, domainplaces.RefundOption{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	for _, perk := range entry.Perks {
		p.Perks = append(p.Perks, domainplaces.Perk{Name: perk.Name, IsPaid: perk.IsPaid, Price: money.Money{Amount: perk.Price, Currency: entry.Currency}})
	}
	return p, nil
}

var _ domainplaces.Source = (*PlaceCache)(nil)
