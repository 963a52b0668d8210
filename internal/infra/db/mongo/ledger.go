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
	domainpayments "venuebook/internal/domain/payments"
	"venuebook/internal/domain/shared/money"
)

// Ledger stores payment transactions. The unique {provider, provider_tx_id}
// index is what turns concurrent duplicate callbacks into replays.
type Ledger struct {
	col *mongo.Collection
}

func NewLedger(ctx context.Context, db *mongo.Database) (*Ledger, error) {
	col := db.Collection("payment_transactions")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_tx_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("provider_tx_unique"),
		},
		{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger indexes: %w", err)
	}
	return &Ledger{col: col}, nil
}

func (l *Ledger) Record(ctx context.Context, attempt domainpayments.Attempt) (domainpayments.RecordResult, error) {
	if err := attempt.Validate(); err != nil {
		return domainpayments.RecordResult{}, err
	}
	tx := domainpayments.NewTransaction(attempt)
	_, err := l.col.InsertOne(ctx, newTransactionDocument(tx))
	if err == nil {
		return domainpayments.RecordResult{Transaction: tx, IsNew: true}, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return domainpayments.RecordResult{}, err
	}
	stored, err := l.Get(ctx, attempt.Provider, attempt.ProviderTxID)
	if err != nil {
		return domainpayments.RecordResult{}, err
	}
	return domainpayments.Replay(stored, attempt), nil
}

func (l *Ledger) Get(ctx context.Context, provider domainpayments.Provider, providerTxID string) (domainpayments.Transaction, error) {
	var doc transactionDocument
	err := l.col.FindOne(ctx, txKey(provider, providerTxID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domainpayments.Transaction{}, domainpayments.ErrTransactionNotFound
	}
	if err != nil {
		return domainpayments.Transaction{}, err
	}
	return doc.toTransaction(), nil
}

func (l *Ledger) Complete(ctx context.Context, provider domainpayments.Provider, providerTxID string, at time.Time) (domainpayments.Transaction, bool, error) {
	at = at.UTC()
	return l.finish(ctx, provider, providerTxID, bson.M{
		"status":       string(domainpayments.TxCompleted),
		"updated_at":   at,
		"completed_at": at,
	})
}

func (l *Ledger) Fail(ctx context.Context, provider domainpayments.Provider, providerTxID string, reason int, at time.Time) (domainpayments.Transaction, bool, error) {
	at = at.UTC()
	return l.finish(ctx, provider, providerTxID, bson.M{
		"status":     string(domainpayments.TxFailed),
		"reason":     reason,
		"updated_at": at,
		"failed_at":  at,
	})
}

// finish applies the update only while the row is still initiated.
func (l *Ledger) finish(ctx context.Context, provider domainpayments.Provider, providerTxID string, set bson.M) (domainpayments.Transaction, bool, error) {
	filter := txKey(provider, providerTxID)
	filter["status"] = string(domainpayments.TxInitiated)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc transactionDocument
	err := l.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if err == nil {
		return doc.toTransaction(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domainpayments.Transaction{}, false, err
	}
	stored, err := l.Get(ctx, provider, providerTxID)
	if err != nil {
		return domainpayments.Transaction{}, false, err
	}
	return stored, false, nil
}

func (l *Ledger) ListByBooking(ctx context.Context, bookingID domainbooking.BookingID) ([]domainpayments.Transaction, error) {
	return l.find(ctx, bson.M{"booking_id": string(bookingID)})
}

func (l *Ledger) ListBetween(ctx context.Context, provider domainpayments.Provider, from, to time.Time) ([]domainpayments.Transaction, error) {
	return l.find(ctx, bson.M{
		"provider":   string(provider),
		"created_at": bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	})
}

func (l *Ledger) find(ctx context.Context, filter bson.M) ([]domainpayments.Transaction, error) {
	cur, err := l.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]domainpayments.Transaction, 0)
	for cur.Next(ctx) {
		var doc transactionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toTransaction())
	}
	return out, cur.Err()
}

func txKey(provider domainpayments.Provider, providerTxID string) bson.M {
	return bson.M{"provider": string(provider), "provider_tx_id": providerTxID}
}

type transactionDocument struct {
	ID           string    `bson:"_id"`
	BookingID    string    `bson:"booking_id"`
	Provider     string    `bson:"provider"`
	ProviderTxID string    `bson:"provider_tx_id"`
	Amount       int64     `bson:"amount"`
	Currency     string    `bson:"currency"`
	Status       string    `bson:"status"`
	Reason       int       `bson:"reason"`
	ProviderTime time.Time `bson:"provider_time"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
	CompletedAt  time.Time `bson:"completed_at"`
	FailedAt     time.Time `bson:"failed_at"`
}

func newTransactionDocument(tx domainpayments.Transaction) transactionDocument {
	return transactionDocument{
		ID:           tx.ID,
		BookingID:    string(tx.BookingID),
		Provider:     string(tx.Provider),
		ProviderTxID: tx.ProviderTxID,
		Amount:       tx.Amount.Amount,
		Currency:     tx.Amount.Currency,
		Status:       string(tx.Status),
		Reason:       tx.Reason,
		ProviderTime: tx.ProviderTime,
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
		CompletedAt:  tx.CompletedAt,
		FailedAt:     tx.FailedAt,
	}
}

func (d transactionDocument) toTransaction() domainpayments.Transaction {
	return domainpayments.Transaction{
		ID:           d.ID,
		BookingID:    domainbooking.BookingID(d.BookingID),
		Provider:     domainpayments.Provider(d.Provider),
		ProviderTxID: d.ProviderTxID,
		Amount:       money.Money{Amount: d.Amount, Currency: d.Currency},
		Status:       domainpayments.TxStatus(d.Status),
		Reason:       d.Reason,
		ProviderTime: d.ProviderTime.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
		CompletedAt:  d.CompletedAt.UTC(),
		FailedAt:     d.FailedAt.UTC(),
	}
}

var _ domainpayments.Ledger = (*Ledger)(nil)
