/*
money.go - Fixed-point money in integral minor units

PURPOSE:
  Every amount the engine stores, compares or moves is a Money. Money is an
  int64 count of minor units (kobo, cents) tagged with a currency. Binary
  operations across currencies fail with ErrCurrencyMismatch instead of
  silently producing a wrong number.

  Rates and fractional math go through decimal.Decimal and are floored back
  to minor units at the edge (see interest.go).

USAGE:
  a := generic.NewMoney(100_000, generic.NGN)   // ₦1,000.00
  b, _ := generic.ParseMoney("50.25", generic.NGN)
  sum, err := a.Add(b)

SEE ALSO:
  - interest.go: Converts decimal interest to Money
  - errors.go: ErrCurrencyMismatch
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	NGN Currency = "NGN"
	USD Currency = "USD"
	GBP Currency = "GBP"
	EUR Currency = "EUR"
)

var minorExponent = map[Currency]int32{
	NGN: 2,
	USD: 2,
	GBP: 2,
	EUR: 2,
}

// ParseCurrency validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := minorExponent[c]; !ok {
		return "", &ValidationError{Field: "currency", Message: fmt.Sprintf("unsupported currency %q", s)}
	}
	return c, nil
}

// Exponent is the number of minor-unit digits.
func (c Currency) Exponent() int32 {
	if e, ok := minorExponent[c]; ok {
		return e
	}
	return 2
}

// =============================================================================
// MONEY
// =============================================================================

type Money struct {
	Minor    int64
	Currency Currency
}

func NewMoney(minor int64, c Currency) Money { return Money{Minor: minor, Currency: c} }

func Zero(c Currency) Money { return Money{Currency: c} }

// FromMajor builds Money from whole major units (e.g. naira).
func FromMajor(major int64, c Currency) Money {
	return Money{Minor: decimal.NewFromInt(major).Shift(c.Exponent()).IntPart(), Currency: c}
}

// ParseMoney parses a major-unit decimal string. More fractional digits than
// the currency supports is a validation error, not a rounding.
func ParseMoney(s string, c Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return FromDecimal(d, c)
}

// FromDecimal converts a major-unit decimal to Money.
func FromDecimal(d decimal.Decimal, c Currency) (Money, error) {
	shifted := d.Shift(c.Exponent())
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("%s has more than %d decimal places", d, c.Exponent())}
	}
	return Money{Minor: shifted.IntPart(), Currency: c}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Minor).Shift(-m.Currency.Exponent())
}

func (m Money) String() string {
	return m.Decimal().StringFixed(m.Currency.Exponent()) + " " + string(m.Currency)
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsPositive() bool { return m.Minor > 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }
func (m Money) Neg() Money       { return Money{Minor: -m.Minor, Currency: m.Currency} }

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return &ValidationError{
			Field:   "currency",
			Message: fmt.Sprintf("%s vs %s", m.Currency, o.Currency),
			Err:     ErrCurrencyMismatch,
		}
	}
	return nil
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor + o.Minor, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor - o.Minor, Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < o.Minor:
		return -1, nil
	case m.Minor > o.Minor:
		return 1, nil
	}
	return 0, nil
}

// Min returns the smaller amount. Currencies must match.
func (m Money) Min(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

// PercentFloor returns floor(m × pct / 100) in minor units.
func (m Money) PercentFloor(pct decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Minor).Mul(pct).Shift(-2).Floor()
	return Money{Minor: v.IntPart(), Currency: m.Currency}
}
