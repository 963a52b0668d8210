package timeslot

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrInvalidSlot  = errors.New("timeslot: end must be after start")
	ErrEmptySet     = errors.New("timeslot: at least one slot is required")
	ErrOverlap      = errors.New("timeslot: slots overlap")
	ErrSlotInPast   = errors.New("timeslot: slot starts in the past")
	ErrUnalignedSet = errors.New("timeslot: slots must start on a minute boundary")
)

// Slot represents a half-open interval [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) (Slot, error) {
	s := Slot{Start: start.UTC(), End: end.UTC()}
	if err := s.Validate(); err != nil {
		return Slot{}, err
	}
	return s, nil
}

func (s Slot) Validate() error {
	if s.Start.IsZero() || s.End.IsZero() {
		return ErrInvalidSlot
	}
	if !s.End.After(s.Start) {
		return ErrInvalidSlot
	}
	if s.Start.Truncate(time.Minute) != s.Start || s.End.Truncate(time.Minute) != s.End {
		return ErrUnalignedSet
	}
	return nil
}

func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Set is an ordered, non-overlapping collection of slots for one booking.
type Set []Slot

// NewSet validates, normalizes to UTC and orders the slots by start time.
func NewSet(slots []Slot) (Set, error) {
	if len(slots) == 0 {
		return nil, ErrEmptySet
	}
	out := make(Set, 0, len(slots))
	for _, raw := range slots {
		s, err := New(raw.Start, raw.End)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	for i := 1; i < len(out); i++ {
		if out[i-1].Overlaps(out[i]) {
			return nil, ErrOverlap
		}
	}
	return out, nil
}

// Duration sums the length of every slot.
func (s Set) Duration() time.Duration {
	var total time.Duration
	for _, slot := range s {
		total += slot.Duration()
	}
	return total
}

// Start returns the earliest slot start, or the zero time for an empty set.
func (s Set) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Start
}

func (s Set) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].End
}

// NotBefore rejects sets whose first slot starts before now.
func (s Set) NotBefore(now time.Time) error {
	if len(s) == 0 {
		return ErrEmptySet
	}
	if s.Start().Before(now) {
		return ErrSlotInPast
	}
	return nil
}

func (s Set) Copy() Set {
	return append(Set(nil), s...)
}
