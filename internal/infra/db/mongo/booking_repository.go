package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
	domainpricing "venuebook/internal/domain/pricing"
	"venuebook/internal/domain/shared/money"
	"venuebook/internal/domain/shared/timeslot"
)

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	return &BookingRepository{col: db.Collection("agg_booking")}
}

// EnsureIndexes creates the indexes the list queries rely on.
func (r *BookingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "host_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status.kind", Value: 1}, {Key: "status.selected_at", Value: 1}}},
	})
	return err
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domainbooking.ErrBookingNotFound, id)
		}
		return nil, err
	}
	return doc.toAggregate()
}

// Save is a compare-and-set on version. A missing row with version 0 is
// inserted through the upsert; any other mismatch hits the unique _id and
// surfaces as a duplicate key error.
func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	doc := newBookingDocument(b)
	filter := bson.M{"_id": doc.ID, "version": b.Version}
	doc.Version = b.Version + 1
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainbooking.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version = doc.Version
	return nil
}

func (r *BookingRepository) ListByClient(ctx context.Context, clientID string, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(ctx, withStatus(bson.M{"client_id": clientID}, filter), filter.Limit, bson.D{{Key: "created_at", Value: -1}})
}

func (r *BookingRepository) ListByHost(ctx context.Context, hostID domainplaces.HostID, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(ctx, withStatus(bson.M{"host_id": string(hostID)}, filter), filter.Limit, bson.D{{Key: "created_at", Value: -1}})
}

func (r *BookingRepository) ListSelectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domainbooking.Booking, error) {
	query := bson.M{
		"status.kind":        string(domainbooking.StatusSelected),
		"status.selected_at": bson.M{"$lt": cutoff.UTC()},
	}
	return r.list(ctx, query, limit, bson.D{{Key: "status.selected_at", Value: 1}})
}

func (r *BookingRepository) list(ctx context.Context, query bson.M, limit int, sort bson.D) ([]*domainbooking.Booking, error) {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*domainbooking.Booking
	for cur.Next(ctx) {
		var doc bookingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		b, err := doc.toAggregate()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, cur.Err()
}

func withStatus(query bson.M, filter domainbooking.ListFilter) bson.M {
	if filter.Status != "" {
		query["status.kind"] = string(filter.Status)
	}
	return query
}

type bookingDocument struct {
	ID           string           `bson:"_id"`
	PlaceID      string           `bson:"place_id"`
	HostID       string           `bson:"host_id"`
	ClientID     string           `bson:"client_id"`
	Slots        []slotDocument   `bson:"slots"`
	Perks        []string         `bson:"perks"`
	Fees         feesDocument     `bson:"fees"`
	RefundPolicy []refundDocument `bson:"refund_policy"`
	Status       statusDocument   `bson:"status"`
	Payment      paymentDocument  `bson:"payment"`
	CreatedAt    int64            `bson:"created_at"`
	UpdatedAt    int64            `bson:"updated_at"`
	Version      int64            `bson:"version"`
}

type slotDocument struct {
	Start int64 `bson:"start"`
	End   int64 `bson:"end"`
}

type feesDocument struct {
	Currency               string `bson:"currency"`
	BasePrice              int64  `bson:"base_price"`
	ServiceFee             int64  `bson:"service_fee"`
	ProtectionPlanSelected bool   `bson:"protection_plan_selected"`
	ProtectionPlanFee      int64  `bson:"protection_plan_fee"`
	FinalTotal             int64  `bson:"final_total"`
}

type refundDocument struct {
	WindowHours      int `bson:"window_hours"`
	RefundPercentage int `bson:"refund_percentage"`
}

type statusDocument struct {
	Kind          string     `bson:"kind"`
	SelectedAt    *time.Time `bson:"selected_at,omitempty"`
	PaidAt        *time.Time `bson:"paid_at,omitempty"`
	ApprovedAt    *time.Time `bson:"approved_at,omitempty"`
	RejectedAt    *time.Time `bson:"rejected_at,omitempty"`
	CancelledAt   *time.Time `bson:"cancelled_at,omitempty"`
	Reason        string     `bson:"reason,omitempty"`
	RefundPercent int        `bson:"refund_percent,omitempty"`
	RefundAmount  int64      `bson:"refund_amount,omitempty"`
	RefundWindow  int        `bson:"refund_window,omitempty"`
}

type paymentDocument struct {
	Provider  string `bson:"provider,omitempty"`
	Reference string `bson:"reference,omitempty"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	doc := bookingDocument{
		ID:       string(b.ID),
		PlaceID:  string(b.PlaceID),
		HostID:   string(b.HostID),
		ClientID: b.ClientID,
		Perks:    b.Perks,
		Fees: feesDocument{
			Currency:               b.Fees.FinalTotal.Currency,
			BasePrice:              b.Fees.BasePrice.Amount,
			ServiceFee:             b.Fees.ServiceFee.Amount,
			ProtectionPlanSelected: b.Fees.ProtectionPlanSelected,
			ProtectionPlanFee:      b.Fees.ProtectionPlanFee.Amount,
			FinalTotal:             b.Fees.FinalTotal.Amount,
		},
		Payment:   paymentDocument{Provider: b.Payment.Provider, Reference: b.Payment.Reference},
		CreatedAt: b.CreatedAt.UnixMilli(),
		UpdatedAt: b.UpdatedAt.UnixMilli(),
		Version:   b.Version,
	}
	for _, s := range b.Slots {
		doc.Slots = append(doc.Slots, slotDocument{Start: s.Start.UnixMilli(), End: s.End.UnixMilli()})
	}
	for _, o := range b.RefundPolicy.Options() {
		doc.RefundPolicy = append(doc.RefundPolicy, refundDocument{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	rec := domainbooking.RecordOf(b.Status)
	doc.Status = statusDocument{
		Kind:          rec.Kind,
		SelectedAt:    rec.SelectedAt,
		PaidAt:        rec.PaidAt,
		ApprovedAt:    rec.ApprovedAt,
		RejectedAt:    rec.RejectedAt,
		CancelledAt:   rec.CancelledAt,
		Reason:        rec.Reason,
		RefundPercent: rec.RefundPercent,
		RefundAmount:  rec.RefundAmount,
		RefundWindow:  rec.RefundWindow,
	}
	return doc
}

func (d bookingDocument) toAggregate() (*domainbooking.Booking, error) {
	currency := d.Fees.Currency
	status, err := domainbooking.StatusFromRecord(domainbooking.StatusRecord{
		Kind:          d.Status.Kind,
		SelectedAt:    d.Status.SelectedAt,
		PaidAt:        d.Status.PaidAt,
		ApprovedAt:    d.Status.ApprovedAt,
		RejectedAt:    d.Status.RejectedAt,
		CancelledAt:   d.Status.CancelledAt,
		Reason:        d.Status.Reason,
		RefundPercent: d.Status.RefundPercent,
		RefundAmount:  d.Status.RefundAmount,
		RefundWindow:  d.Status.RefundWindow,
	}, currency)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", d.ID, err)
	}
	slots := make(timeslot.Set, 0, len(d.Slots))
	for _, s := range d.Slots {
		slots = append(slots, timeslot.Slot{Start: timestampToTime(s.Start), End: timestampToTime(s.End)})
	}
	refunds := make([]domainplaces.RefundOption, 0, len(d.RefundPolicy))
	for _, o := range d.RefundPolicy {
		refunds = append(refunds, domainplaces.RefundOption{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	return &domainbooking.Booking{
		ID:       domainbooking.BookingID(d.ID),
		PlaceID:  domainplaces.PlaceID(d.PlaceID),
		HostID:   domainplaces.HostID(d.HostID),
		ClientID: d.ClientID,
		Slots:    slots,
		Perks:    d.Perks,
		Fees: domainpricing.Breakdown{
			BasePrice:              money.Money{Amount: d.Fees.BasePrice, Currency: currency},
			ServiceFee:             money.Money{Amount: d.Fees.ServiceFee, Currency: currency},
			ProtectionPlanSelected: d.Fees.ProtectionPlanSelected,
			ProtectionPlanFee:      money.Money{Amount: d.Fees.ProtectionPlanFee, Currency: currency},
			FinalTotal:             money.Money{Amount: d.Fees.FinalTotal, Currency: currency},
		},
		RefundPolicy: domainbooking.RestoreRefundPolicy(refunds),
		Status:       status,
		Payment:      domainbooking.PaymentRef{Provider: d.Payment.Provider, Reference: d.Payment.Reference},
		CreatedAt:    timestampToTime(d.CreatedAt),
		UpdatedAt:    timestampToTime(d.UpdatedAt),
		Version:      d.Version,
	}, nil
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
