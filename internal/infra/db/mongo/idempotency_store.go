package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"venuebook/internal/app/middleware"
)

// IdempotencyStore keeps command results for Idempotency-Key replays. Rows
// expire through a TTL index on created_at.
type IdempotencyStore struct {
	col *mongo.Collection
}

func NewIdempotencyStore(ctx context.Context, db *mongo.Database, ttl time.Duration) (*IdempotencyStore, error) {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	col := db.Collection("app_idempotency")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds()))},
	})
	if err != nil {
		return nil, err
	}
	return &IdempotencyStore{col: col}, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	var doc idempotencyDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return middleware.IdempotencyRecord{}, false, nil
		}
		return middleware.IdempotencyRecord{}, false, err
	}
	return doc.toRecord(), true, nil
}

// Reserve upserts a pending document. When the key exists and is not a stale
// reservation the filter misses, the upsert collides on _id and the key
// stays with its current owner.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, at, staleBefore time.Time) (bool, error) {
	filter := bson.M{"_id": key, "pending": true, "occurred_at": bson.M{"$lt": staleBefore.UTC()}}
	update := bson.M{"$set": bson.M{
		"key":         key,
		"pending":     true,
		"payload":     nil,
		"error":       "",
		"error_code":  "",
		"occurred_at": at.UTC(),
		"created_at":  at.UTC(),
	}}
	_, err := s.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	update := bson.M{"$set": bson.M{
		"key":         rec.Key,
		"pending":     false,
		"payload":     rec.Payload,
		"error":       rec.Error,
		"error_code":  rec.ErrorCode,
		"occurred_at": rec.OccurredAt.UTC(),
		"created_at":  time.Now().UTC(),
	}}
	_, err := s.col.UpdateByID(ctx, rec.Key, update, options.Update().SetUpsert(true))
	return err
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": key, "pending": true})
	return err
}

type idempotencyDocument struct {
	ID         string    `bson:"_id"`
	Key        string    `bson:"key"`
	Payload    []byte    `bson:"payload"`
	Error      string    `bson:"error"`
	ErrorCode  string    `bson:"error_code"`
	Pending    bool      `bson:"pending"`
	OccurredAt time.Time `bson:"occurred_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d idempotencyDocument) toRecord() middleware.IdempotencyRecord {
	return middleware.IdempotencyRecord{
		Key:        d.Key,
		Payload:    d.Payload,
		Error:      d.Error,
		ErrorCode:  d.ErrorCode,
		Pending:    d.Pending,
		OccurredAt: d.OccurredAt.UTC(),
	}
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
