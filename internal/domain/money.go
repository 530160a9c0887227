package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// minorDigits is the number of fractional digits kept for currency amounts.
const minorDigits = 2

// Money is an amount in minor currency units (cents). Arithmetic on Money is
// plain integer arithmetic; decimal text only appears at the edges.
type Money int64

// ErrMoneyOutOfRange is returned for amounts whose cent value does not fit in
// an int64.
var ErrMoneyOutOfRange = errors.New("money amount out of range")

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// MoneyFromDecimal rounds d half-away-from-zero to cents.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Round(minorDigits).Shift(minorDigits)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s", ErrMoneyOutOfRange, d.String())
	}
	return Money(cents.IntPart()), nil
}

// Cents builds a Money from a whole number of cents.
func Cents(c int64) Money {
	return Money(c)
}

// Dollars builds a Money from whole dollars.
func Dollars(d int64) Money {
	return Money(d * 100)
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorDigits)
}

// String returns the amount with exactly two fractional digits, e.g. "20.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(minorDigits)
}

// Display returns the amount as shown to users, e.g. "$20.00".
func (m Money) Display() string {
	return "$" + m.String()
}

func (m Money) IsPositive() bool {
	return m > 0
}

// ParseMoney parses user input such as "20", "20.5" or "$20.50". Input that is
// empty, not a number, negative or more precise than a cent is rejected.
func ParseMoney(input string) (Money, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	if s == "" {
		return 0, &ValidationError{Message: "amount is required"}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ValidationError{Message: fmt.Sprintf("amount %q is not a valid number", input)}
	}
	if d.IsNegative() {
		return 0, &ValidationError{Message: "amount must not be negative"}
	}
	if !d.Equal(d.Round(minorDigits)) {
		return 0, &ValidationError{Message: "amount must have at most two decimal places"}
	}

	m, err := MoneyFromDecimal(d)
	if err != nil {
		return 0, &ValidationError{Message: "amount is too large"}
	}
	return m, nil
}

// MarshalJSON encodes the amount as a JSON number with two fractional digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", data, err)
	}

	v, err := MoneyFromDecimal(d)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", data, err)
	}
	*m = v
	return nil
}

// Value stores the amount as a NUMERIC literal.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads NUMERIC, text and numeric driver values.
func (m *Money) Scan(src any) error {
	var (
		d   decimal.Decimal
		err error
	)

	switch v := src.(type) {
	case nil:
		*m = 0
		return nil
	case []byte:
		d, err = decimal.NewFromString(string(v))
	case string:
		d, err = decimal.NewFromString(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case int64:
		d = decimal.NewFromInt(v)
	default:
		return fmt.Errorf("cannot scan %T into Money", src)
	}
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}

	v, err := MoneyFromDecimal(d)
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	*m = v
	return nil
}
