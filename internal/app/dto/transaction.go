package dto

import (
	"time"

	domainpayments "venuebook/internal/domain/payments"
)

type TransactionDTO struct {
	ID           string     `json:"id"`
	BookingID    string     `json:"booking_id"`
	Provider     string     `json:"provider"`
	ProviderTxID string     `json:"provider_tx_id"`
	Amount       MoneyDTO   `json:"amount"`
	Status       string     `json:"status"`
	Reason       int        `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

type TransactionCollection struct {
	Items []TransactionDTO `json:"items"`
}

func MapTransactions(txs []domainpayments.Transaction) TransactionCollection {
	out := TransactionCollection{Items: make([]TransactionDTO, 0, len(txs))}
	for _, tx := range txs {
		item := TransactionDTO{
			ID:           tx.ID,
			BookingID:    string(tx.BookingID),
			Provider:     string(tx.Provider),
			ProviderTxID: tx.ProviderTxID,
			Amount:       MapMoney(tx.Amount),
			Status:       string(tx.Status),
			Reason:       tx.Reason,
			CreatedAt:    tx.CreatedAt,
			UpdatedAt:    tx.UpdatedAt,
		}
		if !tx.CompletedAt.IsZero() {
			at := tx.CompletedAt
			item.CompletedAt = &at
		}
		if !tx.FailedAt.IsZero() {
			at := tx.FailedAt
			item.FailedAt = &at
		}
		out.Items = append(out.Items, item)
	}
	return out
}
