// Package core provides money parsing and handling utilities.
//
// Amounts are stored as integer cents. Parsing goes through decimal
// arithmetic so that "1,250.50" never picks up binary float error.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

type Money struct {
	Cents int64
}

var maxUnits = decimal.New(math.MaxInt64/100, 0)

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Units returns the amount in currency units as a float64 for display and
// for outbound payloads. Use Cents for calculations.
func (m Money) Units() float64 {
	return m.Decimal().InexactFloat64()
}

// String renders the amount without trailing zeros ("250", "1250.5").
func (m Money) String() string {
	return m.Decimal().String()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a string with grouping separators.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Money{}
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseAmount converts user input to Money.
//
// Grouping commas and surrounding whitespace are removed; what remains must
// be a finite, non-negative decimal number. Fractions beyond cents are rounded
// half away from zero.
//
// Examples:
//
//	ParseAmount("250")       -> 250.00
//	ParseAmount("1,250.50")  -> 1250.50
//	ParseAmount("12.345")    -> 12.35
//	ParseAmount("-1")        -> ErrInvalidAmount
//	ParseAmount("12abc")     -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return fromDecimal(d)
}

// SanitizeAmount is the lenient parse used while editing a pending line:
// every character except digits and the decimal point is dropped, and
// anything that still fails to parse becomes zero.
//
//	SanitizeAmount("1,250.50abc") -> 1250.50
//	SanitizeAmount("abc")         -> 0
//	SanitizeAmount("1.2.3")       -> 0
func SanitizeAmount(s string) Money {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" || strings.Count(cleaned, ".") > 1 {
		return Money{}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}
	}
	m, err := fromDecimal(d)
	if err != nil {
		return Money{}
	}
	return m
}

func fromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() || d.Cmp(maxUnits) > 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Round(2).Shift(2).IntPart()}, nil
}
