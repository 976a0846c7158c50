// Package money represents monetary amounts as integer minor units.
//
// Amounts never pass through float64. Textual input is parsed exactly with
// shopspring/decimal and rejected when it carries more fractional digits than
// the minor unit can hold.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits represented by one minor unit (cents).
const Scale = 2

// Amount is a monetary value expressed in minor units.
type Amount int64

var (
	// ErrInvalid is returned when the input is not a finite decimal number
	ErrInvalid = errors.New("money: invalid amount")

	// ErrPrecision is returned when the input has more than Scale fractional digits
	ErrPrecision = errors.New("money: too many fractional digits")

	// ErrOverflow is returned when a value does not fit in int64 minor units
	ErrOverflow = errors.New("money: amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Parse converts a decimal string in major units ("30", "12.5", "0.01") to an Amount.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalid
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return FromDecimal(d)
}

// FromDecimal converts a decimal in major units to an Amount.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return Amount(minor.IntPart()), nil
}

// FromMinor builds an Amount from a count of minor units.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// Minor returns the amount in minor units.
func (a Amount) Minor() int64 {
	return int64(a)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}

// Add returns a+b, or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b, or ErrOverflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount in major units with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// MarshalJSON encodes the amount as a decimal string in major units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a decimal string ("12.34") or a bare JSON number (12.34).
// The number text is parsed exactly; it is never routed through float64.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: null", ErrInvalid)
	}
	text := string(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		text = string(data[1 : len(data)-1])
	}

	parsed, err := Parse(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
