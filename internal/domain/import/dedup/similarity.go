package dedup

import (
	"strings"
	"unicode"
)

// Normalize lower-cases s and keeps only letters and digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// bigrams returns the set of 2-rune substrings of s.
func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Similarity is the bigram Jaccard index of the normalized forms of a and b.
// Identical normalized strings score 1 even when shorter than two runes; two
// empty descriptions score 0 since they carry no evidence.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ba, bb := bigrams(na), bigrams(nb)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	intersection := 0
	for g := range ba {
		if _, ok := bb[g]; ok {
			intersection++
		}
	}
	union := len(ba) + len(bb) - intersection
	return float64(intersection) / float64(union)
}
