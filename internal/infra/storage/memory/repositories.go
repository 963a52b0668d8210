package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainbooking "venuebook/internal/domain/booking"
	domainplaces "venuebook/internal/domain/places"
)

// BookingRepository keeps bookings in memory. Rows are cloned on the way in
// and out so callers never share state with the store.
type BookingRepository struct {
	mu    sync.RWMutex
	items map[domainbooking.BookingID]*domainbooking.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{items: make(map[domainbooking.BookingID]*domainbooking.Booking)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.items[b.ID]
	switch {
	case exists && stored.Version != b.Version:
		return domainbooking.ErrConcurrentUpdate
	case !exists && b.Version != 0:
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version++
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *BookingRepository) ListByClient(ctx context.Context, clientID string, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(filter, func(b *domainbooking.Booking) bool { return b.ClientID == clientID }), nil
}

func (r *BookingRepository) ListByHost(ctx context.Context, hostID domainplaces.HostID, filter domainbooking.ListFilter) ([]*domainbooking.Booking, error) {
	return r.list(filter, func(b *domainbooking.Booking) bool { return b.HostID == hostID }), nil
}

func (r *BookingRepository) ListSelectedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domainbooking.Booking, error) {
	filter := domainbooking.ListFilter{Status: domainbooking.StatusSelected, Limit: limit}
	return r.list(filter, func(b *domainbooking.Booking) bool {
		at, ok := domainbooking.SelectedAt(b.Status)
		return ok && at.Before(cutoff)
	}), nil
}

func (r *BookingRepository) list(filter domainbooking.ListFilter, match func(*domainbooking.Booking) bool) []*domainbooking.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainbooking.Booking, 0)
	for _, b := range r.items {
		if !match(b) {
			continue
		}
		if filter.Status != "" && b.Kind() != filter.Status {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// PlaceStore is the in-memory place source used in local mode and tests.
type PlaceStore struct {
	mu    sync.RWMutex
	items map[domainplaces.PlaceID]domainplaces.Place
}

func NewPlaceStore() *PlaceStore {
	return &PlaceStore{items: make(map[domainplaces.PlaceID]domainplaces.Place)}
}

func (s *PlaceStore) Place(ctx context.Context, id domainplaces.PlaceID) (*domainplaces.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return nil, domainplaces.ErrPlaceNotFound
	}
	return clonePlace(p), nil
}

// Upsert replaces the stored place. Bookings already holding a refund
// snapshot are not affected.
func (s *PlaceStore) Upsert(p domainplaces.Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ID] = *clonePlace(p)
}

func clonePlace(p domainplaces.Place) *domainplaces.Place {
	out := p
	out.RefundOptions = append([]domainplaces.RefundOption(nil), p.RefundOptions...)
	out.Perks = append([]domainplaces.Perk(nil), p.Perks...)
	return &out
}

var (
	_ domainbooking.Repository = (*BookingRepository)(nil)
	_ domainplaces.Source      = (*PlaceStore)(nil)
)
