// Package click implements the Click Shop API prepare and complete callbacks.
package click

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	apppayments "venuebook/internal/app/payments"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	"venuebook/internal/domain/shared/money"
)

type Settler interface {
	Settle(ctx context.Context, attempt domainpayments.Attempt) (apppayments.Outcome, error)
	Complete(ctx context.Context, provider domainpayments.Provider, providerTxID string) (apppayments.Outcome, error)
	Fail(ctx context.Context, provider domainpayments.Provider, providerTxID string, reason int) (domainpayments.Transaction, bool, error)
}

type BookingReader interface {
	ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
}

type CallbackRecorder interface {
	RecordCallback(provider, method, outcome string)
}

type Config struct {
	ServiceID string
	SecretKey string
	Currency  string
}

type Merchant struct {
	cfg      Config
	bookings BookingReader
	ledger   domainpayments.Ledger
	settler  Settler
	recorder CallbackRecorder
	logger   *slog.Logger
}

type Option func(*Merchant)

func WithLogger(l *slog.Logger) Option       { return func(m *Merchant) { m.logger = l } }
func WithRecorder(r CallbackRecorder) Option { return func(m *Merchant) { m.recorder = r } }

func NewMerchant(cfg Config, bookings BookingReader, ledger domainpayments.Ledger, settler Settler, opts ...Option) *Merchant {
	if cfg.Currency == "" {
		cfg.Currency = "UZS"
	}
	m := &Merchant{
		cfg:      cfg,
		bookings: bookings,
		ledger:   ledger,
		settler:  settler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// rejection is a Click error code plus the reason it was chosen.
type rejection struct {
	code  int
	cause error
}

func reject(code int, format string, args ...any) *rejection {
	return &rejection{code: code, cause: fmt.Errorf(format, args...)}
}

func invalid(code int, format string, args ...any) *rejection {
	return &rejection{code: code, cause: fmt.Errorf("%w: "+format, append([]any{domainpayments.ErrInvalidCallback}, args...)...)}
}

func failure(err error) *rejection {
	return &rejection{code: CodeUpdateFailed, cause: err}
}

// Prepare handles action 0: the payment is about to be charged.
func (m *Merchant) Prepare(ctx context.Context, r Request) Response {
	resp := Response{ClickTransID: r.ClickTransID, MerchantTransID: r.MerchantTransID}
	tx, rej := m.prepare(ctx, r)
	if rej == nil {
		resp.MerchantPrepareID = tx.ID
	}
	return m.finish(resp, "prepare", rej)
}

// Complete handles action 1. A complete call without a preceding prepare is
// recorded directly as a completed transaction.
func (m *Merchant) Complete(ctx context.Context, r Request) Response {
	resp := Response{ClickTransID: r.ClickTransID, MerchantTransID: r.MerchantTransID}
	tx, rej := m.complete(ctx, r)
	if rej == nil {
		resp.MerchantConfirmID = tx.ID
	}
	return m.finish(resp, "complete", rej)
}

func (m *Merchant) prepare(ctx context.Context, r Request) (domainpayments.Transaction, *rejection) {
	amount, rej := m.validate(r, ActionPrepare)
	if rej != nil {
		return domainpayments.Transaction{}, rej
	}
	stored, found, rej := m.stored(ctx, r.ClickTransID)
	if rej != nil {
		return domainpayments.Transaction{}, rej
	}
	if found {
		switch stored.Status {
		case domainpayments.TxCompleted:
			return stored, reject(CodeAlreadyPaid, "transaction %s already completed", stored.ProviderTxID)
		case domainpayments.TxFailed:
			return stored, reject(CodeTransactionCancelled, "transaction %s is cancelled", stored.ProviderTxID)
		}
		out, err := m.settler.Settle(ctx, m.attempt(r, amount, domainpayments.TxInitiated))
		if err != nil {
			return domainpayments.Transaction{}, failure(err)
		}
		return out.Transaction, nil
	}
	if _, rej := m.payableBooking(ctx, r.MerchantTransID, amount); rej != nil {
		return domainpayments.Transaction{}, rej
	}
	out, err := m.settler.Settle(ctx, m.attempt(r, amount, domainpayments.TxInitiated))
	if err != nil {
		return domainpayments.Transaction{}, failure(err)
	}
	return out.Transaction, nil
}

func (m *Merchant) complete(ctx context.Context, r Request) (domainpayments.Transaction, *rejection) {
	amount, rej := m.validate(r, ActionComplete)
	if rej != nil {
		return domainpayments.Transaction{}, rej
	}
	clickError, err := parseErrorCode(r.Error)
	if err != nil {
		return domainpayments.Transaction{}, invalid(CodeBadRequest, "error field %q", r.Error)
	}
	stored, found, rej := m.stored(ctx, r.ClickTransID)
	if rej != nil {
		return domainpayments.Transaction{}, rej
	}
	if !found && r.MerchantPrepareID != "" {
		return domainpayments.Transaction{}, reject(CodeTransactionNotFound, "no prepared transaction %s", r.ClickTransID)
	}
	if found && r.MerchantPrepareID != "" && r.MerchantPrepareID != stored.ID {
		return domainpayments.Transaction{}, reject(CodeTransactionNotFound, "prepare id %s does not match", r.MerchantPrepareID)
	}
	if found && stored.Status == domainpayments.TxFailed {
		return stored, reject(CodeTransactionCancelled, "transaction %s is cancelled", stored.ProviderTxID)
	}

	if found && stored.Status == domainpayments.TxCompleted {
		out, err := m.settler.Settle(ctx, m.attempt(r, amount, domainpayments.TxCompleted))
		if err != nil {
			return domainpayments.Transaction{}, failure(err)
		}
		return out.Transaction, nil
	}

	if clickError < 0 {
		if found {
			if _, _, err := m.settler.Fail(ctx, domainpayments.ProviderClick, r.ClickTransID, clickError); err != nil {
				return domainpayments.Transaction{}, failure(err)
			}
		} else if _, err := m.settler.Settle(ctx, m.attempt(r, amount, domainpayments.TxFailed)); err != nil {
			return domainpayments.Transaction{}, failure(err)
		}
		return domainpayments.Transaction{}, reject(CodeTransactionCancelled, "click reported error %d: %s", clickError, r.ErrorNote)
	}

	if _, rej := m.payableBooking(ctx, r.MerchantTransID, amount); rej != nil {
		if found && (rej.code == CodeAlreadyPaid || rej.code == CodeTransactionCancelled) {
			if _, _, err := m.settler.Fail(ctx, domainpayments.ProviderClick, r.ClickTransID, rej.code); err != nil {
				return domainpayments.Transaction{}, failure(err)
			}
		}
		return domainpayments.Transaction{}, rej
	}

	out, err := m.settler.Settle(ctx, m.attempt(r, amount, domainpayments.TxCompleted))
	if err != nil {
		return domainpayments.Transaction{}, failure(err)
	}
	if !out.IsNew && out.Transaction.Status == domainpayments.TxInitiated {
		out, err = m.settler.Complete(ctx, domainpayments.ProviderClick, r.ClickTransID)
		if err != nil {
			return domainpayments.Transaction{}, failure(err)
		}
	}
	if out.Transaction.Status == domainpayments.TxFailed {
		return out.Transaction, reject(CodeTransactionCancelled, "transaction %s is cancelled", r.ClickTransID)
	}
	return out.Transaction, nil
}

func (m *Merchant) validate(r Request, action string) (money.Money, *rejection) {
	if field := r.missingField(); field != "" {
		return money.Money{}, invalid(CodeBadRequest, "missing %s", field)
	}
	if r.Action != action {
		return money.Money{}, invalid(CodeActionNotFound, "action %q", r.Action)
	}
	if !validSignature(m.cfg.SecretKey, r) {
		return money.Money{}, invalid(CodeSignCheckFailed, "signature mismatch for %s", r.ClickTransID)
	}
	if r.ServiceID != m.cfg.ServiceID {
		return money.Money{}, invalid(CodeBadRequest, "service id %q", r.ServiceID)
	}
	amount, err := money.ParseMajor(r.Amount, m.cfg.Currency)
	if err != nil || amount.Amount <= 0 {
		return money.Money{}, invalid(CodeIncorrectAmount, "amount %q", r.Amount)
	}
	return amount, nil
}

func (m *Merchant) stored(ctx context.Context, clickTransID string) (domainpayments.Transaction, bool, *rejection) {
	tx, err := m.ledger.Get(ctx, domainpayments.ProviderClick, clickTransID)
	switch {
	case err == nil:
		return tx, true, nil
	case errors.Is(err, domainpayments.ErrTransactionNotFound):
		return domainpayments.Transaction{}, false, nil
	default:
		return domainpayments.Transaction{}, false, failure(err)
	}
}

func (m *Merchant) payableBooking(ctx context.Context, rawID string, amount money.Money) (*domainbooking.Booking, *rejection) {
	b, err := m.bookings.ByID(ctx, domainbooking.BookingID(rawID))
	if errors.Is(err, domainbooking.ErrBookingNotFound) {
		return nil, reject(CodeBookingNotFound, "booking %s: %w", rawID, err)
	}
	if err != nil {
		return nil, failure(err)
	}
	switch b.Kind() {
	case domainbooking.StatusSelected:
	case domainbooking.StatusApproved:
		return nil, reject(CodeAlreadyPaid, "booking %s is already paid", b.ID)
	case domainbooking.StatusCancelled, domainbooking.StatusRejected:
		return nil, reject(CodeTransactionCancelled, "booking %s is %s", b.ID, b.Kind())
	default:
		return nil, reject(CodeBookingNotFound, "booking %s is not awaiting payment", b.ID)
	}
	if !b.Total().Equal(amount) {
		return nil, reject(CodeIncorrectAmount, "%w: expected %s, got %s", domainpayments.ErrAmountMismatch, b.Total(), amount)
	}
	return b, nil
}

func (m *Merchant) attempt(r Request, amount money.Money, status domainpayments.TxStatus) domainpayments.Attempt {
	return domainpayments.Attempt{
		BookingID:    domainbooking.BookingID(r.MerchantTransID),
		Provider:     domainpayments.ProviderClick,
		ProviderTxID: r.ClickTransID,
		Amount:       amount,
		Status:       status,
		ProviderTime: r.signedAt(),
	}
}

func (m *Merchant) finish(resp Response, method string, rej *rejection) Response {
	outcome := "ok"
	resp.Error = CodeSuccess
	if rej != nil {
		resp.Error = rej.code
		outcome = strconv.Itoa(rej.code)
		level := slog.LevelWarn
		if rej.code == CodeUpdateFailed {
			level = slog.LevelError
		}
		m.logger.Log(context.Background(), level, "click request rejected",
			"method", method, "code", rej.code, "click_trans_id", resp.ClickTransID,
			"booking_id", resp.MerchantTransID, "error", rej.cause)
	}
	resp.ErrorNote = notes[resp.Error]
	if m.recorder != nil {
		m.recorder.RecordCallback(string(domainpayments.ProviderClick), method, outcome)
	}
	return resp
}

func parseErrorCode(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
