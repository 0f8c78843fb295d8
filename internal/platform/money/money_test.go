package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse(" 12.50 ")
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.RequireFromString("12.5")))

	d, err = Parse("")
	require.NoError(t, err)
	require.True(t, d.IsZero())

	_, err = Parse("-1")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)
}

func TestRoundAndFormat(t *testing.T) {
	require.Equal(t, "10.13", Round(decimal.RequireFromString("10.125")).StringFixed(2))
	require.Equal(t, "12,500.00 XOF", Format(decimal.NewFromInt(12500), "XOF"))
	require.Equal(t, "1,234.50", Format(decimal.RequireFromString("1234.5"), ""))
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	require.True(t, FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestCurrency(t *testing.T) {
	require.Equal(t, "XOF", Currency(" xof ", "USD"))
	require.Equal(t, "USD", Currency("", "USD"))
}
