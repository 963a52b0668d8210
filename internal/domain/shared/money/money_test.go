package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivRoundHalfUp(t *testing.T) {
	cases := []struct {
		n, d, want int64
	}{
		{10, 4, 3},
		{9, 4, 2},
		{5, 2, 3},
		{4, 2, 2},
		{-5, 2, -3},
		{-9, 4, -2},
		{0, 7, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DivRoundHalfUp(tc.n, tc.d), "%d/%d", tc.n, tc.d)
	}
}

func TestMoney_AddCurrencyMismatch(t *testing.T) {
	_, err := Must(100, "UZS").Add(Must(100, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	sum, err := Must(100, "uzs").Add(Must(250, "UZS"))
	require.NoError(t, err)
	assert.Equal(t, int64(350), sum.Amount)
}

func TestParseMajor(t *testing.T) {
	m, err := ParseMajor("1000.00", "UZS")
	require.NoError(t, err)
	assert.Equal(t, Must(100000, "UZS"), m)

	m, err = ParseMajor("1000.5", "UZS")
	require.NoError(t, err)
	assert.Equal(t, int64(100050), m.Amount)

	m, err = ParseMajor("12", "UZS")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), m.Amount)

	m, err = ParseMajor("3.1000", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(310), m.Amount)

	_, err = ParseMajor("3.005", "USD")
	assert.ErrorIs(t, err, ErrPrecisionLoss)

	_, err = ParseMajor("abc", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseMajor("", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "1000.00", FormatMajor(100000, "UZS"))
	assert.Equal(t, "0.05", FormatMajor(5, "UZS"))
	assert.Equal(t, "-1.50", FormatMajor(-150, "USD"))
	assert.Equal(t, "1500", FormatMajor(1500, "JPY"))
}
