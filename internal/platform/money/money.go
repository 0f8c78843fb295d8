// Package money holds decimal helpers for prices and totals.
package money

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Parse parses a non-negative amount; empty input yields zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q must not be negative", s)
	}
	return d, nil
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Currency normalizes an ISO currency code, defaulting to def.
func Currency(code, def string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return def
	}
	return code
}

// Format renders d with thousands separators and the currency code, e.g. "12,500.00 XOF".
func Format(d decimal.Decimal, currency string) string {
	f, _ := Round(d).Float64()
	s := humanize.FormatFloat("#,###.##", f)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// MinorUnits converts d to an integer count of hundredths, as payment gateways expect.
func MinorUnits(d decimal.Decimal) int64 {
	return Round(d).Shift(2).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}
