package memory

import (
	"context"
	"sync"
	"time"

	"venuebook/internal/app/middleware"
)

// IdempotencyStore keeps command outcomes and in-flight reservations in a map.
// Purge plays the role of the TTL index the Mongo store relies on.
type IdempotencyStore struct {
	mu    sync.Mutex
	items map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{items: make(map[string]middleware.IdempotencyRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, at, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.items[key]; ok && !(rec.Pending && rec.OccurredAt.Before(staleBefore)) {
		return false, nil
	}
	s.items[key] = middleware.IdempotencyRecord{Key: key, Pending: true, OccurredAt: at}
	return true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Pending = false
	s.items[rec.Key] = rec
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.items[key]; ok && rec.Pending {
		delete(s.items, key)
	}
	return nil
}

// Purge drops records written before before.
func (s *IdempotencyStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.items {
		if rec.OccurredAt.Before(before) {
			delete(s.items, key)
			n++
		}
	}
	return n, nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
