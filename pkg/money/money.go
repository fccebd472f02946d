// Package money provides currency-safe financial arithmetic for bank statements.
// Amounts live as shopspring/decimal values while being audited and as integer
// minor units (go-money) once persisted, so no value ever passes through float64.
package money

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	EUR = "EUR" // Euro, the default for Croatian accounts since 2023
	HRK = "HRK" // Croatian Kuna, still present on historical statements
)

// Scale is the fixed number of decimal places used for every audit comparison.
const Scale int32 = 2

var (
	// ErrEmptyAmount is returned when an amount string has no digits.
	ErrEmptyAmount = errors.New("empty amount")
	// ErrInvalidAmount is returned when an amount string cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Money represents a monetary value with currency stored in minor units.
type Money struct {
	m *money.Money
}

// New creates a new Money value from minor units and a currency code.
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{
		m: money.New(amountMinor, normalizeCode(currencyCode)),
	}
}

// NewFromDecimal creates Money from a decimal.Decimal value, rounding half away
// from zero to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	code := normalizeCode(currencyCode)
	multiplier := decimal.New(1, fraction(code))
	minor := amount.Mul(multiplier).Round(0).IntPart()
	return New(minor, code)
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -fraction(m.Currency()))
}

// ToMinor converts a decimal amount to minor units of the given currency.
func ToMinor(amount decimal.Decimal, currencyCode string) int64 {
	return NewFromDecimal(amount, currencyCode).Amount()
}

// FromMinor converts minor units of the given currency back to a decimal.
func FromMinor(amountMinor int64, currencyCode string) decimal.Decimal {
	return New(amountMinor, currencyCode).ToDecimal()
}

// Round rounds a decimal to the audit scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ParseAmount parses an amount as printed on Croatian bank statements.
//
// Accepted shapes: "1.234,56", "-1.234,56", "1 234,56", "1234,56", "(1.234,56)",
// "1.234,56-", "1234.56" and "1,234.56". When both separators are present the
// right-most one is the decimal separator. A lone separator followed by exactly
// three digits is a thousands separator ("1.234" is 1234), otherwise it is decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' || r == '−':
			negative = !negative
		case r == '+' || unicode.IsSpace(r) || r == '\'' || r == ' ':
		case unicode.IsLetter(r) || r == '€' || r == '$' || r == '£':
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
	}

	cleaned := b.String()
	if cleaned == "" || strings.Trim(cleaned, ".,") == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrEmptyAmount, raw)
	}

	normalized, err := normalizeSeparators(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func normalizeSeparators(s string) (string, error) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1), checkSingleDecimal(s, ',')
		}
		s = strings.ReplaceAll(s, ",", "")
		return s, checkSingleDecimal(s, '.')
	case lastComma >= 0:
		return resolveLoneSeparator(s, ',')
	case lastDot >= 0:
		return resolveLoneSeparator(s, '.')
	}
	return s, nil
}

func resolveLoneSeparator(s string, sep rune) (string, error) {
	sepStr := string(sep)
	count := strings.Count(s, sepStr)
	first := strings.Index(s, sepStr)
	tail := s[strings.LastIndex(s, sepStr)+1:]

	if count > 1 || (len(tail) == 3 && first > 0 && s[:first] != "0") {
		return strings.ReplaceAll(s, sepStr, ""), nil
	}
	return strings.Replace(s, sepStr, ".", 1), nil
}

func checkSingleDecimal(s string, sep rune) error {
	if strings.Count(s, string(sep)) > 1 {
		return ErrInvalidAmount
	}
	return nil
}

func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return EUR
	}
	return code
}

func fraction(code string) int32 {
	currency := money.GetCurrency(normalizeCode(code))
	if currency == nil {
		return Scale
	}
	return int32(currency.Fraction)
}
