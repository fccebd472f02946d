package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterpartyName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "   ", ""},
		{"payment prefix and trailing reference", "UPLATA ACME D.O.O. 12345678", "ACME d.o.o."},
		{"card payment with date", "POS KONZUM 12.03.2024.", "KONZUM"},
		{"compact legal form", "Acme doo", "Acme d.o.o."},
		{"simple limited company", "Obrt Pero j.d.o.o.", "Obrt Pero j.d.o.o."},
		{"joint stock company", "HRVATSKI TELEKOM D.D.", "HRVATSKI TELEKOM d.d."},
		{"collapses whitespace", "  Fina   Zagreb  ", "Fina Zagreb"},
		{"short numbers survive", "Studio 54", "Studio 54"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CounterpartyName(tt.input))
		})
	}
}

func TestReference(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"HR00 1234-5678", "HR00 1234-5678"},
		{"hr01  55 66", "HR01 5566"},
		{"HR99", "HR99"},
		{"  ref   123 ", "ref 123"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Reference(tt.input))
		})
	}
}

func TestIBAN(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  string
		wantValid bool
	}{
		{"croatian grouped", "HR12 1001 0051 8630 0016 0", "HR1210010051863000160", true},
		{"lower-case foreign", "gb82 west 1234 5698 7654 32", "GB82WEST12345698765432", true},
		{"bad checksum kept as printed", "HR12 1001 0051 8630 0016 1", "HR1210010051863000161", false},
		{"too short kept as printed", "hr12", "HR12", false},
		{"dashes removed", "HR12-1001-0051-8630-0016-0", "HR1210010051863000160", true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IBAN(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.wantValid, ValidIBAN(got))
		})
	}
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, ValidIBAN("HR1210010051863000160"))
	assert.False(t, ValidIBAN("1R1210010051863000160"))
	assert.False(t, ValidIBAN("HRAB10010051863000160"))
	assert.False(t, ValidIBAN("HR12100100518630001#0"))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Račun 12/2024 za usluge", Description(" Račun\t12/2024\n za   usluge "))
}
