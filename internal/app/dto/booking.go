package dto

import (
	"time"

	domainbooking "venuebook/internal/domain/booking"
	"venuebook/internal/domain/shared/money"
)

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

type SlotDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type FeesDTO struct {
	BasePrice              MoneyDTO `json:"base_price"`
	ServiceFee             MoneyDTO `json:"service_fee"`
	ProtectionPlanSelected bool     `json:"protection_plan_selected"`
	ProtectionPlanFee      MoneyDTO `json:"protection_plan_fee"`
	FinalTotal             MoneyDTO `json:"final_total"`
}

type RefundOptionDTO struct {
	WindowHours      int `json:"window_hours"`
	RefundPercentage int `json:"refund_percentage"`
}

type RefundQuoteDTO struct {
	Percentage  int      `json:"percentage"`
	WindowHours int      `json:"window_hours"`
	Amount      MoneyDTO `json:"amount"`
}

type PaymentRefDTO struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
}

// StatusDTO flattens the status variant. Only the timestamps the booking
// actually reached are present.
type StatusDTO struct {
	Kind        string          `json:"kind"`
	SelectedAt  *time.Time      `json:"selected_at,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	RejectedAt  *time.Time      `json:"rejected_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Refund      *RefundQuoteDTO `json:"refund,omitempty"`
}

type BookingDTO struct {
	ID           string            `json:"id"`
	PlaceID      string            `json:"place_id"`
	HostID       string            `json:"host_id"`
	ClientID     string            `json:"client_id"`
	Slots        []SlotDTO         `json:"slots"`
	Perks        []string          `json:"perks"`
	Fees         FeesDTO           `json:"fees"`
	RefundPolicy []RefundOptionDTO `json:"refund_policy"`
	Status       StatusDTO         `json:"status"`
	Payment      *PaymentRefDTO    `json:"payment,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type BookingCollection struct {
	Items []BookingDTO `json:"items"`
}

// BookingActionResult is returned by status-changing commands. Changed is
// false when the booking was already in the requested status.
type BookingActionResult struct {
	BookingID string          `json:"booking_id"`
	Status    string          `json:"status"`
	Changed   bool            `json:"changed"`
	Refund    *RefundQuoteDTO `json:"refund,omitempty"`
}

func MapMoney(value money.Money) MoneyDTO {
	return MoneyDTO{
		Amount:   value.Amount,
		Currency: value.Currency,
		Display:  value.String(),
	}
}

func MapBooking(b *domainbooking.Booking) BookingDTO {
	out := BookingDTO{
		ID:       string(b.ID),
		PlaceID:  string(b.PlaceID),
		HostID:   string(b.HostID),
		ClientID: b.ClientID,
		Perks:    append([]string{}, b.Perks...),
		Fees: FeesDTO{
			BasePrice:              MapMoney(b.Fees.BasePrice),
			ServiceFee:             MapMoney(b.Fees.ServiceFee),
			ProtectionPlanSelected: b.Fees.ProtectionPlanSelected,
			ProtectionPlanFee:      MapMoney(b.Fees.ProtectionPlanFee),
			FinalTotal:             MapMoney(b.Fees.FinalTotal),
		},
		RefundPolicy: make([]RefundOptionDTO, 0),
		Status:       MapStatus(b.Status),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	for _, s := range b.Slots {
		out.Slots = append(out.Slots, SlotDTO{Start: s.Start, End: s.End})
	}
	for _, o := range b.RefundPolicy.Options() {
		out.RefundPolicy = append(out.RefundPolicy, RefundOptionDTO{WindowHours: o.WindowHours, RefundPercentage: o.RefundPercentage})
	}
	if !b.Payment.IsZero() {
		out.Payment = &PaymentRefDTO{Provider: b.Payment.Provider, Reference: b.Payment.Reference}
	}
	return out
}

func MapBookings(items []*domainbooking.Booking) BookingCollection {
	out := BookingCollection{Items: make([]BookingDTO, 0, len(items))}
	for _, b := range items {
		out.Items = append(out.Items, MapBooking(b))
	}
	return out
}

func MapStatus(s domainbooking.Status) StatusDTO {
	rec := domainbooking.RecordOf(s)
	out := StatusDTO{
		Kind:        string(domainbooking.ParseStatusKind(rec.Kind)),
		SelectedAt:  rec.SelectedAt,
		PaidAt:      rec.PaidAt,
		ApprovedAt:  rec.ApprovedAt,
		RejectedAt:  rec.RejectedAt,
		CancelledAt: rec.CancelledAt,
		Reason:      rec.Reason,
	}
	if c, ok := s.(domainbooking.Cancelled); ok {
		out.Refund = MapRefundQuote(c.Refund)
	}
	return out
}

func MapRefundQuote(q domainbooking.RefundQuote) *RefundQuoteDTO {
	return &RefundQuoteDTO{Percentage: q.Percentage, WindowHours: q.WindowHours, Amount: MapMoney(q.Amount)}
}
