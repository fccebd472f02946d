// Package normalizer cleans counterparty names, references and IBANs extracted
// from bank statements before they are persisted and compared.
package normalizer

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

var (
	// Payment-channel prefixes printed by Croatian banks in front of the payee.
	channelPrefixes = []string{
		"PLAĆANJE ", "PLACANJE ", "UPLATA ", "ISPLATA ", "NALOG ",
		"KARTIČNO PLAĆANJE ", "KARTICNO PLACANJE ", "POS ", "EFTPOS ",
		"SEPA ", "SCT ", "TRAJNI NALOG ", "IZRAVNO TERECENJE ", "IZRAVNO TEREĆENJE ",
		"VISA ", "MASTERCARD ", "MAESTRO ",
	}

	trailingRefPattern  = regexp.MustCompile(`\s+\d{6,}$`)
	trailingDatePattern = regexp.MustCompile(`\s+\d{1,2}\.\d{1,2}\.(\d{2,4}\.?)?$`)
	spacePattern        = regexp.MustCompile(`\s+`)

	// Legal forms are rewritten to their canonical spelling so "ACME D.O.O."
	// and "Acme doo" compare equal.
	legalForms = []struct {
		pattern *regexp.Regexp
		form    string
	}{
		{regexp.MustCompile(`(?i)\bj\.?\s?d\.?\s?o\.?\s?o\.?$`), "j.d.o.o."},
		{regexp.MustCompile(`(?i)\bd\.?\s?o\.?\s?o\.?$`), "d.o.o."},
		{regexp.MustCompile(`(?i)\bd\.\s?d\.?$|\bdd$`), "d.d."},
	}

	// Croatian payment model prefix, e.g. "HR00 1234-5678".
	referenceModelPattern = regexp.MustCompile(`^(?i)(HR|SI)\s*(\d{2})\s*(.*)$`)
)

// CounterpartyName strips payment-channel noise from a raw payee string and
// canonicalizes the company legal form. Empty input stays empty.
func CounterpartyName(raw string) string {
	result := strings.TrimSpace(raw)
	if result == "" {
		return ""
	}

	upper := strings.ToUpper(result)
	for _, prefix := range channelPrefixes {
		if strings.HasPrefix(upper, prefix) {
			result = strings.TrimSpace(result[len(prefix):])
			break
		}
	}

	result = trailingRefPattern.ReplaceAllString(result, "")
	result = trailingDatePattern.ReplaceAllString(result, "")
	result = spacePattern.ReplaceAllString(result, " ")
	result = strings.Trim(result, " ,;*")

	for _, lf := range legalForms {
		if lf.pattern.MatchString(result) {
			result = strings.TrimSpace(lf.pattern.ReplaceAllString(result, "")) + " " + lf.form
			break
		}
	}
	return strings.TrimSpace(result)
}

// Description collapses whitespace in a free-text payment description.
func Description(raw string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(raw, " "))
}

// Reference normalizes a payment reference. Croatian model references keep the
// "HRnn " prefix followed by the reference number without inner whitespace.
func Reference(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if m := referenceModelPattern.FindStringSubmatch(s); m != nil {
		body := strings.ReplaceAll(strings.TrimSpace(m[3]), " ", "")
		if body == "" {
			return strings.ToUpper(m[1]) + m[2]
		}
		return strings.ToUpper(m[1]) + m[2] + " " + body
	}
	return spacePattern.ReplaceAllString(s, " ")
}

// IBAN removes spaces and upper-cases an account number. A value that fails
// the ISO 13616 mod-97 check is kept as printed so a reviewer can correct it.
func IBAN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	iban := b.String()
	if iban != "" && !ValidIBAN(iban) {
		slog.Debug("account number fails IBAN checksum, keeping raw value", "iban", iban)
	}
	return iban
}

// ValidIBAN reports whether s is a well-formed IBAN with a valid checksum.
func ValidIBAN(s string) bool {
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	for i, r := range s {
		switch {
		case i < 2 && (r < 'A' || r > 'Z'):
			return false
		case i >= 2 && i < 4 && (r < '0' || r > '9'):
			return false
		case (r < '0' || r > '9') && (r < 'A' || r > 'Z'):
			return false
		}
	}

	rearranged := s[4:] + s[:4]
	remainder := 0
	for _, r := range rearranged {
		if r >= 'A' {
			v := int(r-'A') + 10
			remainder = (remainder*100 + v) % 97
			continue
		}
		remainder = (remainder*10 + int(r-'0')) % 97
	}
	return remainder == 1
}
