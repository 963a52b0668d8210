package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidCurrency  = errors.New("money: invalid currency code")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrInvalidAmount    = errors.New("money: invalid amount")
	ErrPrecisionLoss    = errors.New("money: amount has more fraction digits than the currency allows")
)

// Money keeps amounts in integer minor units (tiyin, cents) to avoid floating point issues.
type Money struct {
	Amount   int64
	Currency string
}

// minorDigits lists currencies whose minor unit is not two digits.
var minorDigits = map[string]int{
	"JPY": 0,
	"KRW": 0,
}

// New constructs a Money value validating minimal invariants.
func New(amount int64, currency string) (Money, error) {
	if len(currency) != 3 {
		return Money{}, ErrInvalidCurrency
	}
	currency = strings.ToUpper(currency)
	return Money{Amount: amount, Currency: currency}, nil
}

// Must creates Money and panics if validation fails; useful in tests and fixtures.
func Must(amount int64, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: 0, Currency: strings.ToUpper(currency)}
}

// MinorDigits reports how many fraction digits the currency's minor unit has.
func MinorDigits(currency string) int {
	if d, ok := minorDigits[strings.ToUpper(currency)]; ok {
		return d
	}
	return 2
}

// Add adds two money values ensuring currencies match.
func (m Money) Add(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub subtracts other from the receiver.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Neg returns the negated amount preserving currency.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Multiply multiplies the amount by the provided factor.
func (m Money) Multiply(times int64) Money {
	return Money{Amount: m.Amount * times, Currency: m.Currency}
}

// MulDiv returns m * num / den rounded half-up to the minor unit.
func (m Money) MulDiv(num, den int64) Money {
	return Money{Amount: DivRoundHalfUp(m.Amount*num, den), Currency: m.Currency}
}

// IsZero returns true if the amount equals zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && strings.EqualFold(m.Currency, other.Currency)
}

// Less reports whether m is smaller than other. Currencies are assumed to match.
func (m Money) Less(other Money) bool {
	return m.Amount < other.Amount
}

// String renders the amount in major units, e.g. "1000.00 UZS".
func (m Money) String() string {
	return FormatMajor(m.Amount, m.Currency) + " " + m.Currency
}

func (m Money) ensureSameCurrency(other Money) error {
	if m.Currency == "" || other.Currency == "" {
		return ErrInvalidCurrency
	}
	if !strings.EqualFold(m.Currency, other.Currency) {
		return ErrCurrencyMismatch
	}
	return nil
}

// DivRoundHalfUp divides n by d rounding half away from zero. d must be positive.
func DivRoundHalfUp(n, d int64) int64 {
	if d <= 0 {
		panic("money: non-positive divisor")
	}
	q, r := n/d, n%d
	if r < 0 {
		r = -r
	}
	if 2*r >= d {
		if n < 0 {
			return q - 1
		}
		return q + 1
	}
	return q
}

// ParseMajor converts a decimal string in major units ("1000.5", "1000.50") into minor units
// without going through floating point.
func ParseMajor(raw string, currency string) (Money, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return Money{}, ErrInvalidAmount
	}
	digits := MinorDigits(currency)
	if len(frac) > digits {
		if strings.TrimRight(frac[digits:], "0") != "" {
			return Money{}, ErrPrecisionLoss
		}
		frac = frac[:digits]
	}
	frac += strings.Repeat("0", digits-len(frac))
	if whole == "" {
		whole = "0"
	}
	amount, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		amount = -amount
	}
	return New(amount, currency)
}

// FormatMajor renders minor units as a decimal string in major units.
func FormatMajor(amount int64, currency string) string {
	digits := MinorDigits(currency)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	raw := strconv.FormatInt(amount, 10)
	if digits == 0 {
		return sign + raw
	}
	if len(raw) <= digits {
		raw = strings.Repeat("0", digits-len(raw)+1) + raw
	}
	cut := len(raw) - digits
	return sign + raw[:cut] + "." + raw[cut:]
}
