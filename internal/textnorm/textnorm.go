// Package textnorm reduces text to the word sequence used for exact anchor
// matching: case-folded, NFKC-normalized, punctuation stripped.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Word normalizes a single token. A token made only of punctuation or
// symbols normalizes to "".
func Word(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Words splits s on whitespace and punctuation and normalizes each piece,
// dropping pieces that normalize to nothing. Intra-word punctuation such as
// the hyphen in "charge-off" separates words, so "charge-off" and
// "charge off" normalize identically.
func Words(s string) []string {
	s = norm.NFKC.String(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := Word(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Join returns the canonical single-string form of s.
func Join(s string) string {
	return strings.Join(Words(s), " ")
}

// Index returns the first position at which needle occurs as a contiguous
// run in hay, or -1. An empty needle never matches.
func Index(hay, needle []string) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if Equal(hay[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

// All returns every start position of needle in hay, including overlapping
// occurrences.
func All(hay, needle []string) []int {
	var out []int
	if len(needle) == 0 {
		return out
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if Equal(hay[i:i+len(needle)], needle) {
			out = append(out, i)
		}
	}
	return out
}

// Equal reports whether two word sequences are identical.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether needle's words occur contiguously in hay's words.
func Contains(hay, needle string) bool {
	return Index(Words(hay), Words(needle)) >= 0
}
