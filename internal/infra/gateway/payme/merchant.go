// Package payme implements the Payme merchant API (JSON-RPC 2.0) on top of the
// payment processor and the transaction ledger.
package payme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apppayments "venuebook/internal/app/payments"
	domainbooking "venuebook/internal/domain/booking"
	domainpayments "venuebook/internal/domain/payments"
	"venuebook/internal/domain/shared/money"
)

const (
	DefaultLogin   = "Paycom"
	DefaultTimeout = 12 * time.Hour
)

// Settler is the provider-independent payment step.
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
	Login    string
	Key      string
	Currency string
	// Timeout is how long a created transaction may wait for PerformTransaction.
	Timeout time.Duration
}

type Merchant struct {
	cfg      Config
	bookings BookingReader
	ledger   domainpayments.Ledger
	settler  Settler
	recorder CallbackRecorder
	logger   *slog.Logger
	now      func() time.Time
	methods  map[string]func(context.Context, json.RawMessage) (any, *Error)
}

type Option func(*Merchant)

func WithLogger(l *slog.Logger) Option       { return func(m *Merchant) { m.logger = l } }
func WithRecorder(r CallbackRecorder) Option { return func(m *Merchant) { m.recorder = r } }
func WithClock(now func() time.Time) Option  { return func(m *Merchant) { m.now = now } }

func NewMerchant(cfg Config, bookings BookingReader, ledger domainpayments.Ledger, settler Settler, opts ...Option) *Merchant {
	if cfg.Login == "" {
		cfg.Login = DefaultLogin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "UZS"
	}
	m := &Merchant{
		cfg:      cfg,
		bookings: bookings,
		ledger:   ledger,
		settler:  settler,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.methods = map[string]func(context.Context, json.RawMessage) (any, *Error){
		MethodCheckPerformTransaction: m.checkPerformTransaction,
		MethodCreateTransaction:       m.createTransaction,
		MethodPerformTransaction:      m.performTransaction,
		MethodCancelTransaction:       m.cancelTransaction,
		MethodCheckTransaction:        m.checkTransaction,
		MethodGetStatement:            m.getStatement,
	}
	return m
}

// Handle authenticates and executes one JSON-RPC request.
func (m *Merchant) Handle(ctx context.Context, authorization string, body []byte) Response {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return m.reply(req, "unknown", nil, newError(CodeParseError, "", fmt.Errorf("%w: %v", domainpayments.ErrInvalidCallback, err)))
	}
	method := req.Method
	if _, ok := m.methods[method]; !ok {
		method = "unknown"
	}
	if !m.authorized(authorization) {
		return m.reply(req, method, nil, newError(CodeInsufficientPrivilege, "", domainpayments.ErrInvalidCallback))
	}
	if req.Method == "" || len(req.Params) == 0 {
		return m.reply(req, method, nil, newError(CodeInvalidRequest, "", domainpayments.ErrInvalidCallback))
	}
	handler, ok := m.methods[req.Method]
	if !ok {
		return m.reply(req, method, nil, newError(CodeMethodNotFound, req.Method, domainpayments.ErrInvalidCallback))
	}
	result, rpcErr := handler(ctx, req.Params)
	return m.reply(req, method, result, rpcErr)
}

func (m *Merchant) reply(req request, method string, result any, rpcErr *Error) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	outcome := "ok"
	if rpcErr != nil {
		resp.Error = rpcErr
		outcome = strconv.Itoa(rpcErr.Code)
		level := slog.LevelWarn
		if rpcErr.Code == CodeSystemError {
			level = slog.LevelError
		}
		m.logger.Log(context.Background(), level, "payme request rejected",
			"method", method, "code", rpcErr.Code, "data", rpcErr.Data, "error", rpcErr)
	} else {
		resp.Result = result
	}
	if m.recorder != nil {
		m.recorder.RecordCallback(string(domainpayments.ProviderPayme), method, outcome)
	}
	return resp
}

func (m *Merchant) authorized(header string) bool {
	const prefix = "Basic "
	if m.cfg.Key == "" || len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return false
	}
	login, key, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(m.cfg.Login)) == 1
	keyOK := subtle.ConstantTimeCompare([]byte(key), []byte(m.cfg.Key)) == 1
	return loginOK && keyOK
}

func (m *Merchant) checkPerformTransaction(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p checkPerformParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := m.amount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, rpcErr := m.payableBooking(ctx, p.Account.BookingID, amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := m.ensureNoActive(ctx, b.ID, ""); rpcErr != nil {
		return nil, rpcErr
	}
	return checkPerformResult{Allow: true}, nil
}

func (m *Merchant) createTransaction(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p createParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, newError(CodeInvalidRequest, "id", domainpayments.ErrInvalidCallback)
	}
	amount, rpcErr := m.amount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	attempt := domainpayments.Attempt{
		BookingID:    domainbooking.BookingID(strings.TrimSpace(p.Account.BookingID)),
		Provider:     domainpayments.ProviderPayme,
		ProviderTxID: p.ID,
		Amount:       amount,
		Status:       domainpayments.TxInitiated,
		ProviderTime: fromMillis(p.Time),
	}

	stored, err := m.ledger.Get(ctx, domainpayments.ProviderPayme, p.ID)
	switch {
	case err == nil:
		// Replays go through the processor so a changed amount is still reported.
		if attempt.BookingID != "" {
			if _, err := m.settler.Settle(ctx, attempt); err != nil {
				return nil, newError(CodeSystemError, "", err)
			}
		}
		return m.replayCreate(ctx, stored)
	case !errors.Is(err, domainpayments.ErrTransactionNotFound):
		return nil, newError(CodeSystemError, "", err)
	}

	b, rpcErr := m.payableBooking(ctx, p.Account.BookingID, amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := m.ensureNoActive(ctx, b.ID, p.ID); rpcErr != nil {
		return nil, rpcErr
	}
	out, err := m.settler.Settle(ctx, attempt)
	if err != nil {
		return nil, newError(CodeSystemError, "", err)
	}
	if out.Transaction.Status != domainpayments.TxInitiated {
		return m.replayCreate(ctx, out.Transaction)
	}
	return createResult{
		CreateTime:  millis(out.Transaction.CreatedAt),
		Transaction: out.Transaction.ID,
		State:       StateCreated,
	}, nil
}

func (m *Merchant) replayCreate(ctx context.Context, tx domainpayments.Transaction) (any, *Error) {
	if tx.Status != domainpayments.TxInitiated {
		return nil, newError(CodeCannotPerform, "", fmt.Errorf("transaction %s is %s", tx.ProviderTxID, tx.Status))
	}
	if m.expired(tx) {
		return nil, m.expire(ctx, tx)
	}
	return createResult{CreateTime: millis(tx.CreatedAt), Transaction: tx.ID, State: StateCreated}, nil
}

func (m *Merchant) performTransaction(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p idParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := m.transaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	switch tx.Status {
	case domainpayments.TxFailed:
		return nil, newError(CodeCannotPerform, "", fmt.Errorf("transaction %s is cancelled", tx.ProviderTxID))
	case domainpayments.TxInitiated:
		if m.expired(tx) {
			return nil, m.expire(ctx, tx)
		}
		b, err := m.bookings.ByID(ctx, tx.BookingID)
		if err != nil && !errors.Is(err, domainbooking.ErrBookingNotFound) {
			return nil, newError(CodeSystemError, "", err)
		}
		if err != nil || !b.Payable() {
			if _, _, ferr := m.settler.Fail(ctx, domainpayments.ProviderPayme, tx.ProviderTxID, ReasonExecutionError); ferr != nil {
				return nil, newError(CodeSystemError, "", ferr)
			}
			return nil, newError(CodeCannotPerform, "", fmt.Errorf("booking %s is not awaiting payment", tx.BookingID))
		}
	}

	out, err := m.settler.Complete(ctx, domainpayments.ProviderPayme, tx.ProviderTxID)
	if err != nil {
		return nil, newError(CodeSystemError, "", err)
	}
	if out.Transaction.Status != domainpayments.TxCompleted {
		return nil, newError(CodeCannotPerform, "", fmt.Errorf("transaction %s is %s", tx.ProviderTxID, out.Transaction.Status))
	}
	return performResult{
		Transaction: out.Transaction.ID,
		PerformTime: millis(out.Transaction.CompletedAt),
		State:       StatePerformed,
	}, nil
}

// cancelTransaction only cancels transactions that were never performed.
// Performed payments are refunded by operators, outside this API.
func (m *Merchant) cancelTransaction(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p cancelParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := m.transaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if tx.Status == domainpayments.TxInitiated {
		updated, _, err := m.settler.Fail(ctx, domainpayments.ProviderPayme, tx.ProviderTxID, p.Reason)
		if err != nil {
			return nil, newError(CodeSystemError, "", err)
		}
		tx = updated
	}
	if tx.Status == domainpayments.TxCompleted {
		return nil, newError(CodeCannotCancel, "", fmt.Errorf("transaction %s is performed", tx.ProviderTxID))
	}
	return cancelResult{Transaction: tx.ID, CancelTime: millis(tx.FailedAt), State: StateCancelled}, nil
}

func (m *Merchant) checkTransaction(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p idParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := m.transaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return checkResult{
		CreateTime:  millis(tx.CreatedAt),
		PerformTime: millis(tx.CompletedAt),
		CancelTime:  millis(tx.FailedAt),
		Transaction: tx.ID,
		State:       stateOf(tx),
		Reason:      reasonOf(tx),
	}, nil
}

func (m *Merchant) getStatement(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p statementParams
	if rpcErr := decode(raw, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.From <= 0 || p.To < p.From {
		return nil, newError(CodeInvalidRequest, "from", domainpayments.ErrInvalidCallback)
	}
	txs, err := m.ledger.ListBetween(ctx, domainpayments.ProviderPayme, fromMillis(p.From), fromMillis(p.To))
	if err != nil {
		return nil, newError(CodeSystemError, "", err)
	}
	out := statementResult{Transactions: make([]statementEntry, 0, len(txs))}
	for _, tx := range txs {
		out.Transactions = append(out.Transactions, statementEntry{
			ID:          tx.ProviderTxID,
			Time:        millis(tx.ProviderTime),
			Amount:      tx.Amount.Amount,
			Account:     account{BookingID: string(tx.BookingID)},
			CreateTime:  millis(tx.CreatedAt),
			PerformTime: millis(tx.CompletedAt),
			CancelTime:  millis(tx.FailedAt),
			Transaction: tx.ID,
			State:       stateOf(tx),
			Reason:      reasonOf(tx),
		})
	}
	return out, nil
}

func (m *Merchant) transaction(ctx context.Context, id string) (domainpayments.Transaction, *Error) {
	if strings.TrimSpace(id) == "" {
		return domainpayments.Transaction{}, newError(CodeInvalidRequest, "id", domainpayments.ErrInvalidCallback)
	}
	tx, err := m.ledger.Get(ctx, domainpayments.ProviderPayme, id)
	if errors.Is(err, domainpayments.ErrTransactionNotFound) {
		return domainpayments.Transaction{}, newError(CodeTransactionNotFound, "id", err)
	}
	if err != nil {
		return domainpayments.Transaction{}, newError(CodeSystemError, "", err)
	}
	return tx, nil
}

func (m *Merchant) payableBooking(ctx context.Context, rawID string, amount money.Money) (*domainbooking.Booking, *Error) {
	id := strings.TrimSpace(rawID)
	if id == "" {
		return nil, newError(CodeBookingNotFound, "booking_id", domainpayments.ErrInvalidCallback)
	}
	b, err := m.bookings.ByID(ctx, domainbooking.BookingID(id))
	if errors.Is(err, domainbooking.ErrBookingNotFound) {
		return nil, newError(CodeBookingNotFound, "booking_id", err)
	}
	if err != nil {
		return nil, newError(CodeSystemError, "", err)
	}
	if !b.Payable() {
		return nil, newError(CodeBookingNotFound, "booking_id", fmt.Errorf("booking %s is %s", b.ID, b.Kind()))
	}
	if !b.Total().Equal(amount) {
		return nil, newError(CodeInvalidAmount, "amount", fmt.Errorf("%w: expected %s, got %s", domainpayments.ErrAmountMismatch, b.Total(), amount))
	}
	return b, nil
}

func (m *Merchant) ensureNoActive(ctx context.Context, id domainbooking.BookingID, providerTxID string) *Error {
	txs, err := m.ledger.ListByBooking(ctx, id)
	if err != nil {
		return newError(CodeSystemError, "", err)
	}
	for _, tx := range txs {
		if tx.Provider == domainpayments.ProviderPayme && m.expired(tx) {
			continue
		}
		if tx.Status == domainpayments.TxInitiated && tx.ProviderTxID != providerTxID {
			return newError(CodeTransactionInProgress, "booking_id", fmt.Errorf("transaction %s/%s in progress", tx.Provider, tx.ProviderTxID))
		}
	}
	return nil
}

func (m *Merchant) amount(n json.Number) (money.Money, *Error) {
	v, err := n.Int64()
	if err != nil || v <= 0 {
		return money.Money{}, newError(CodeInvalidAmount, "amount", fmt.Errorf("%w: amount %q", domainpayments.ErrInvalidCallback, n))
	}
	return money.Money{Amount: v, Currency: m.cfg.Currency}, nil
}

func (m *Merchant) expired(tx domainpayments.Transaction) bool {
	return tx.Status == domainpayments.TxInitiated && m.now().Sub(tx.CreatedAt) > m.cfg.Timeout
}

func (m *Merchant) expire(ctx context.Context, tx domainpayments.Transaction) *Error {
	if _, _, err := m.settler.Fail(ctx, domainpayments.ProviderPayme, tx.ProviderTxID, ReasonTimeout); err != nil {
		return newError(CodeSystemError, "", err)
	}
	return newError(CodeCannotPerform, "", fmt.Errorf("transaction %s timed out", tx.ProviderTxID))
}

func decode(raw json.RawMessage, dst any) *Error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return newError(CodeInvalidRequest, "params", fmt.Errorf("%w: %v", domainpayments.ErrInvalidCallback, err))
	}
	return nil
}

func stateOf(tx domainpayments.Transaction) int {
	switch tx.Status {
	case domainpayments.TxCompleted:
		return StatePerformed
	case domainpayments.TxFailed:
		return StateCancelled
	default:
		return StateCreated
	}
}

func reasonOf(tx domainpayments.Transaction) *int {
	if tx.Status != domainpayments.TxFailed || tx.Reason == 0 {
		return nil
	}
	r := tx.Reason
	return &r
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
