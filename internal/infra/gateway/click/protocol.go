package click

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

const (
	ActionPrepare  = "0"
	ActionComplete = "1"

	signTimeLayout = "2006-01-02 15:04:05"
)

// Error codes returned in the error field of every answer.
const (
	CodeSuccess              = 0
	CodeSignCheckFailed      = -1
	CodeIncorrectAmount      = -2
	CodeActionNotFound       = -3
	CodeAlreadyPaid          = -4
	CodeBookingNotFound      = -5
	CodeTransactionNotFound  = -6
	CodeUpdateFailed         = -7
	CodeBadRequest           = -8
	CodeTransactionCancelled = -9
)

var notes = map[int]string{
	CodeSuccess:              "Success",
	CodeSignCheckFailed:      "SIGN CHECK FAILED!",
	CodeIncorrectAmount:      "Incorrect parameter amount",
	CodeActionNotFound:       "Action not found",
	CodeAlreadyPaid:          "Already paid",
	CodeBookingNotFound:      "Booking does not exist",
	CodeTransactionNotFound:  "Transaction does not exist",
	CodeUpdateFailed:         "Failed to update booking",
	CodeBadRequest:           "Error in request from click",
	CodeTransactionCancelled: "Transaction cancelled",
}

// tashkent is the zone Click uses for sign_time.
var tashkent = time.FixedZone("UZT", 5*60*60)

// Request carries the form fields of a prepare or complete call.
type Request struct {
	ClickTransID      string
	ServiceID         string
	ClickPaydocID     string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	ErrorNote         string
	SignTime          string
	SignString        string
}

func RequestFromForm(form url.Values) Request {
	get := func(key string) string { return strings.TrimSpace(form.Get(key)) }
	return Request{
		ClickTransID:      get("click_trans_id"),
		ServiceID:         get("service_id"),
		ClickPaydocID:     get("click_paydoc_id"),
		MerchantTransID:   get("merchant_trans_id"),
		MerchantPrepareID: get("merchant_prepare_id"),
		Amount:            get("amount"),
		Action:            get("action"),
		Error:             get("error"),
		ErrorNote:         get("error_note"),
		SignTime:          get("sign_time"),
		SignString:        get("sign_string"),
	}
}

func (r Request) missingField() string {
	fields := []struct{ name, value string }{
		{"click_trans_id", r.ClickTransID},
		{"service_id", r.ServiceID},
		{"merchant_trans_id", r.MerchantTransID},
		{"amount", r.Amount},
		{"action", r.Action},
		{"sign_time", r.SignTime},
		{"sign_string", r.SignString},
	}
	for _, f := range fields {
		if f.value == "" {
			return f.name
		}
	}
	return ""
}

func (r Request) signedAt() time.Time {
	t, err := time.ParseInLocation(signTimeLayout, r.SignTime, tashkent)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Sign computes the md5 sign_string of a request. merchant_prepare_id is part
// of the signed text only for complete calls.
func Sign(secret string, r Request) string {
	var b strings.Builder
	b.WriteString(r.ClickTransID)
	b.WriteString(r.ServiceID)
	b.WriteString(secret)
	b.WriteString(r.MerchantTransID)
	if r.Action == ActionComplete {
		b.WriteString(r.MerchantPrepareID)
	}
	b.WriteString(r.Amount)
	b.WriteString(r.Action)
	b.WriteString(r.SignTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func validSignature(secret string, r Request) bool {
	want := Sign(secret, r)
	got := strings.ToLower(r.SignString)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Response is the JSON answer Click expects from both endpoints.
type Response struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}
