package booking

import (
	"fmt"
	"strings"
	"time"
)

// StatusKind is the external name of a status as exposed to clients and storage.
type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusSelected  StatusKind = "selected"
	StatusApproved  StatusKind = "approved"
	StatusRejected  StatusKind = "rejected"
	StatusCancelled StatusKind = "cancelled"
	// StatusUnknown marks a value this build does not recognise. It is never actionable.
	StatusUnknown StatusKind = "unknown"
)

// ParseStatusKind never fails: unrecognised values map to StatusUnknown.
func ParseStatusKind(raw string) StatusKind {
	switch StatusKind(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusSelected:
		return StatusSelected
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

func (k StatusKind) Terminal() bool {
	return k == StatusApproved || k == StatusRejected || k == StatusCancelled
}

// Actionable reports whether any transition may still start from k.
func (k StatusKind) Actionable() bool {
	return k == StatusPending || k == StatusSelected
}

// Status is a closed set of variants, each carrying the timestamps reached so far.
type Status interface {
	Kind() StatusKind
	isStatus()
}

type Pending struct{}

type Selected struct {
	SelectedAt time.Time
}

type Approved struct {
	SelectedAt time.Time
	PaidAt     time.Time
	ApprovedAt time.Time
}

// Rejected keeps SelectedAt zero when the host rejected straight from pending.
type Rejected struct {
	SelectedAt time.Time
	RejectedAt time.Time
	Reason     string
}

type Cancelled struct {
	SelectedAt  time.Time
	CancelledAt time.Time
	Reason      string
	Refund      RefundQuote
}

// Unknown wraps a stored status value this build cannot interpret.
type Unknown struct {
	Raw string
}

func (Pending) Kind() StatusKind   { return StatusPending }
func (Selected) Kind() StatusKind  { return StatusSelected }
func (Approved) Kind() StatusKind  { return StatusApproved }
func (Rejected) Kind() StatusKind  { return StatusRejected }
func (Cancelled) Kind() StatusKind { return StatusCancelled }
func (Unknown) Kind() StatusKind   { return StatusUnknown }

func (Pending) isStatus()   {}
func (Selected) isStatus()  {}
func (Approved) isStatus()  {}
func (Rejected) isStatus()  {}
func (Cancelled) isStatus() {}
func (Unknown) isStatus()   {}

// StatusRecord is the flat column form of a Status used by storage adapters.
type StatusRecord struct {
	Kind          string
	SelectedAt    *time.Time
	PaidAt        *time.Time
	ApprovedAt    *time.Time
	RejectedAt    *time.Time
	CancelledAt   *time.Time
	Reason        string
	RefundPercent int
	RefundAmount  int64
	RefundWindow  int
}

// RecordOf flattens a status. Timestamps that the variant does not carry stay nil.
func RecordOf(s Status) StatusRecord {
	switch v := s.(type) {
	case Pending:
		return StatusRecord{Kind: string(StatusPending)}
	case Selected:
		return StatusRecord{Kind: string(StatusSelected), SelectedAt: timePtr(v.SelectedAt)}
	case Approved:
		return StatusRecord{
			Kind:       string(StatusApproved),
			SelectedAt: timePtr(v.SelectedAt),
			PaidAt:     timePtr(v.PaidAt),
			ApprovedAt: timePtr(v.ApprovedAt),
		}
	case Rejected:
		return StatusRecord{
			Kind:       string(StatusRejected),
			SelectedAt: timePtr(v.SelectedAt),
			RejectedAt: timePtr(v.RejectedAt),
			Reason:     v.Reason,
		}
	case Cancelled:
		return StatusRecord{
			Kind:          string(StatusCancelled),
			SelectedAt:    timePtr(v.SelectedAt),
			CancelledAt:   timePtr(v.CancelledAt),
			Reason:        v.Reason,
			RefundPercent: v.Refund.Percentage,
			RefundAmount:  v.Refund.Amount.Amount,
			RefundWindow:  v.Refund.WindowHours,
		}
	case Unknown:
		return StatusRecord{Kind: v.Raw}
	default:
		return StatusRecord{Kind: string(StatusUnknown)}
	}
}

// StatusFromRecord rebuilds the variant and rejects rows whose timestamps
// disagree with their status.
func StatusFromRecord(rec StatusRecord, currency string) (Status, error) {
	kind := ParseStatusKind(rec.Kind)
	switch kind {
	case StatusPending:
		return Pending{}, nil
	case StatusSelected:
		if rec.SelectedAt == nil {
			return nil, corrupt(rec, "selected_at missing")
		}
		return Selected{SelectedAt: rec.SelectedAt.UTC()}, nil
	case StatusApproved:
		if rec.SelectedAt == nil || rec.PaidAt == nil || rec.ApprovedAt == nil {
			return nil, corrupt(rec, "approval timestamps missing")
		}
		return Approved{SelectedAt: rec.SelectedAt.UTC(), PaidAt: rec.PaidAt.UTC(), ApprovedAt: rec.ApprovedAt.UTC()}, nil
	case StatusRejected:
		if rec.RejectedAt == nil {
			return nil, corrupt(rec, "rejected_at missing")
		}
		return Rejected{SelectedAt: derefTime(rec.SelectedAt), RejectedAt: rec.RejectedAt.UTC(), Reason: rec.Reason}, nil
	case StatusCancelled:
		if rec.CancelledAt == nil {
			return nil, corrupt(rec, "cancelled_at missing")
		}
		return Cancelled{
			SelectedAt:  derefTime(rec.SelectedAt),
			CancelledAt: rec.CancelledAt.UTC(),
			Reason:      rec.Reason,
			Refund:      RefundQuote{Percentage: rec.RefundPercent, WindowHours: rec.RefundWindow, Amount: moneyOf(rec.RefundAmount, currency)},
		}, nil
	default:
		return Unknown{Raw: rec.Kind}, nil
	}
}

// SelectedAt returns the selection time carried by s, if any.
func SelectedAt(s Status) (time.Time, bool) {
	var at time.Time
	switch v := s.(type) {
	case Selected:
		at = v.SelectedAt
	case Approved:
		at = v.SelectedAt
	case Rejected:
		at = v.SelectedAt
	case Cancelled:
		at = v.SelectedAt
	}
	return at, !at.IsZero()
}

func corrupt(rec StatusRecord, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrCorruptStatus, rec.Kind, msg)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
