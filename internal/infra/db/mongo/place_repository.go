package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
)

// PlaceRepository reads place data owned by the listing side of the marketplace.
type PlaceRepository struct {
	col *mongo.Collection
}

func NewPlaceRepository(db *mongo.Database) *PlaceRepository {
	return &PlaceRepository{col: db.Collection("places")}
}

func (r *PlaceRepository) Place(ctx context.Context, id domainplaces.PlaceID) (*domainplaces.Place, error) {
	var doc placeDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domainplaces.ErrPlaceNotFound, id)
		}
		return nil, err
	}
	return doc.toPlace(), nil
}

// Upsert stores a place; it is used to seed fixtures into an empty database.
func (r *PlaceRepository) Upsert(ctx context.Context, p domainplaces.Place) error {
	doc := newPlaceDocument(p)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

type placeDocument struct {
	ID            string           `bson:"_id"`
	HostID        string           `bson:"host_id"`
	Name          string           `bson:"name"`
	Currency      string           `bson:"currency"`
	Pricing       pricingDocument  `bson:"pricing"`
	RefundOptions []refundDocument `bson:"refund_options"`
	Perks         []perkDocument   `bson:"perks"`
	UpdatedAt     time.Time        `bson:"updated_at"`
}

type pricingDocument struct {
	HourlyRate           int64 `bson:"hourly_rate"`
	MinimumHours         int   `bson:"minimum_hours"`
	FullDayHours         int   `bson:"full_day_hours"`
	FullDayDiscountPrice int64 `bson:"full_day_discount_price"`
}

type perkDocument struct {
	Name   string `bson:"name"`
	IsPaid bool   `bson:"is_paid"`
	Price  int64  `bson:"price"`
}

func newPlaceDocument(p domainplaces.Place) placeDocument {
	doc := placeDocument{
		ID:       string(p.ID),
		HostID:   string(p.HostID),
		Name:     p.Name,
		Currency: p.Currency,
		Pricing: pricingDocument{
			HourlyRate:           p.Pricing.HourlyRate.Amount,
			MinimumHours:         p.Pricing.MinimumHours,
			FullDayHours:         p.Pricing.FullDayHours,
			FullDayDiscountPrice: p.Pricing.FullDayDiscountPrice.Amount,
		},
		UpdatedAt: p.UpdatedAt.UTC(),
	}
	for _, o := range p.RefundOptions {
		doc.RefundOptions = append(doc.RefundOptions, refundDocument{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	for _, perk := range p.Perks {
		doc.Perks = append(doc.Perks, perkDocument{Name: perk.Name, IsPaid: perk.IsPaid, Price: perk.Price.Amount})
	}
	return doc
}

func (d placeDocument) toPlace() *domainplaces.Place {
	p := &domainplaces.Place{
		ID:       domainplaces.PlaceID(d.ID),
		HostID:   domainplaces.HostID(d.HostID),
		Name:     d.Name,
		Currency: d.Currency,
		Pricing: domainpricing.Pricing{
			HourlyRate:           money.Money{Amount: d.Pricing.HourlyRate, Currency: d.Currency},
			MinimumHours:         d.Pricing.MinimumHours,
			FullDayHours:         d.Pricing.FullDayHours,
			FullDayDiscountPrice: money.Money{Amount: d.Pricing.FullDayDiscountPrice, Currency: d.Currency},
		},
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for _, o := range d.RefundOptions {
		p.RefundOptions = append(p.RefundOptions, domainplaces.RefundOption{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	for _, perk := range d.Perks {
		p.Perks = append(p.Perks, domainplaces.Perk{Name: perk.Name, IsPaid: perk.IsPaid, Price: money.Money{Amount: perk.Price, Currency: d.Currency}})
	}
	return p
}

var _ domainplaces.Source = (*PlaceRepository)(nil)
