package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Basic Money Operations Tests
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		minor    int64
		currency string
		want     int64
		wantCode string
	}{
		{"positive minor units", 120050, EUR, 120050, EUR},
		{"zero", 0, EUR, 0, EUR},
		{"negative minor units", -5000, EUR, -5000, EUR},
		{"lowercase code", 1000, "hrk", 1000, HRK},
		{"empty code defaults to euro", 1000, "", 1000, EUR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.minor, tt.currency)
			assert.Equal(t, tt.want, m.Amount())
			assert.Equal(t, tt.wantCode, m.Currency())
		})
	}
}

func TestNewFromDecimal(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   int64
	}{
		{"precise decimal", "1200.50", 120050},
		{"rounds half away from zero", "99.995", 10000},
		{"whole number", "500", 50000},
		{"negative", "-25.50", -2550},
		{"negative half", "-0.005", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewFromDecimal(decimal.RequireFromString(tt.amount), EUR)
			assert.Equal(t, tt.want, m.Amount())
		})
	}
}

func TestMinorRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		minor    int64
	}{
		{"euro cents", "1234.56", EUR, 123456},
		{"kuna lipa", "0.01", HRK, 1},
		{"negative euro", "-25.50", EUR, -2550},
		{"zero-fraction currency", "1234", "JPY", 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decimal.RequireFromString(tt.amount)
			minor := ToMinor(d, tt.currency)
			assert.Equal(t, tt.minor, minor)
			assert.True(t, d.Equal(FromMinor(minor, tt.currency)))
		})
	}
}

// ============================================================================
// Statement Amount Parsing Tests
// ============================================================================

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"croatian thousands and decimal", "1.234,56", "1234.56"},
		{"croatian negative", "-1.234,56", "-1234.56"},
		{"space thousands separator", "1 234,56", "1234.56"},
		{"non-breaking space separator", "1 234,56", "1234.56"},
		{"plain comma decimal", "1200,50", "1200.50"},
		{"plain dot decimal", "1234.56", "1234.56"},
		{"english thousands", "1,234.56", "1234.56"},
		{"trailing minus", "1.234,56-", "-1234.56"},
		{"parentheses", "(45,00)", "-45.00"},
		{"currency suffix", "1.200,50 EUR", "1200.50"},
		{"euro sign", "€ 12,30", "12.30"},
		{"thousands only", "1.234", "1234"},
		{"multiple thousands groups", "1.234.567", "1234567"},
		{"explicit plus", "+10,00", "10.00"},
		{"single decimal digit", "10,5", "10.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseAmount_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrEmptyAmount},
		{"whitespace", "   ", ErrEmptyAmount},
		{"only separators", ".,", ErrEmptyAmount},
		{"unexpected symbol", "12#50", ErrInvalidAmount},
		{"two decimal commas", "1.234,56,7", ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAmount(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
