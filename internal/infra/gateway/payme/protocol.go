package payme

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC and merchant API error codes.
const (
	CodeSystemError           = -32400
	CodeInsufficientPrivilege = -32504
	CodeParseError            = -32700
	CodeInvalidRequest        = -32600
	CodeMethodNotFound        = -32601
	CodeInvalidAmount         = -31001
	CodeTransactionNotFound   = -31003
	CodeCannotCancel          = -31007
	CodeCannotPerform         = -31008
	CodeBookingNotFound       = -31050
	CodeTransactionInProgress = -31051
)

// Transaction states as Payme reports them.
const (
	StateCreated   = 1
	StatePerformed = 2
	StateCancelled = -1
)

// Cancel reasons set by the merchant side.
const (
	ReasonExecutionError = 3
	ReasonTimeout        = 4
)

const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is always delivered with HTTP 200; failures travel in Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Message struct {
	RU string `json:"ru"`
	UZ string `json:"uz"`
	EN string `json:"en"`
}

type Error struct {
	Code    int     `json:"code"`
	Message Message `json:"message"`
	Data    string  `json:"data,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("payme %d: %v", e.Code, e.cause)
	}
	return fmt.Sprintf("payme %d: %s", e.Code, e.Message.EN)
}

func (e *Error) Unwrap() error { return e.cause }

var messages = map[int]Message{
	CodeSystemError:           {RU: "Системная ошибка", UZ: "Tizim xatosi", EN: "System error"},
	CodeInsufficientPrivilege: {RU: "Недостаточно привилегий", UZ: "Ruxsat yetarli emas", EN: "Insufficient privilege"},
	CodeParseError:            {RU: "Ошибка разбора JSON", UZ: "JSON xatosi", EN: "Parse error"},
	CodeInvalidRequest:        {RU: "Неверный запрос", UZ: "Noto'g'ri so'rov", EN: "Invalid request"},
	CodeMethodNotFound:        {RU: "Метод не найден", UZ: "Metod topilmadi", EN: "Method not found"},
	CodeInvalidAmount:         {RU: "Неверная сумма", UZ: "Noto'g'ri summa", EN: "Invalid amount"},
	CodeTransactionNotFound:   {RU: "Транзакция не найдена", UZ: "Tranzaksiya topilmadi", EN: "Transaction not found"},
	CodeCannotCancel:          {RU: "Невозможно отменить транзакцию", UZ: "Tranzaksiyani bekor qilib bo'lmaydi", EN: "Transaction cannot be cancelled"},
	CodeCannotPerform:         {RU: "Невозможно выполнить операцию", UZ: "Amalni bajarib bo'lmaydi", EN: "Unable to perform operation"},
	CodeBookingNotFound:       {RU: "Бронирование не найдено", UZ: "Bron topilmadi", EN: "Booking not found"},
	CodeTransactionInProgress: {RU: "Ожидается оплата по другой транзакции", UZ: "Boshqa tranzaksiya kutilmoqda", EN: "Another transaction is in progress"},
}

func newError(code int, data string, cause error) *Error {
	return &Error{Code: code, Message: messages[code], Data: data, cause: cause}
}

type account struct {
	BookingID string `json:"booking_id"`
}

type checkPerformParams struct {
	Amount  json.Number `json:"amount"`
	Account account     `json:"account"`
}

type createParams struct {
	ID      string      `json:"id"`
	Time    int64       `json:"time"`
	Amount  json.Number `json:"amount"`
	Account account     `json:"account"`
}

type idParams struct {
	ID string `json:"id"`
}

type cancelParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type statementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type checkPerformResult struct {
	Allow bool `json:"allow"`
}

type createResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type performResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type cancelResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type checkResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type statementEntry struct {
	ID          string  `json:"id"`
	Time        int64   `json:"time"`
	Amount      int64   `json:"amount"`
	Account     account `json:"account"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time"`
	CancelTime  int64   `json:"cancel_time"`
	Transaction string  `json:"transaction"`
	State       int     `json:"state"`
	Reason      *int    `json:"reason"`
}

type statementResult struct {
	Transactions []statementEntry `json:"transactions"`
}
