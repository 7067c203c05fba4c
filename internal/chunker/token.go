package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docaudit/internal/cost"
)

// TruncateToTokens cuts text to at most t estimated tokens (t*4 characters).
// The cut lands on a rune boundary and backs off to whitespace when one is
// close, so the last word is not split. It reports whether anything was cut.
func TruncateToTokens(text string, t int) (string, bool) {
	limit := cost.CharsForTokens(t)
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	cut := limit
	for i := limit; i > 0 && limit-i < 64; i-- {
		if unicode.IsSpace(runes[i-1]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace), true
}

// overlapTail returns roughly the last t tokens of text, starting on a word.
func overlapTail(text string, t int) string {
	limit := cost.CharsForTokens(t)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return ""
	}
	tail := runes[len(runes)-limit:]
	for i, r := range tail {
		if unicode.IsSpace(r) {
			return strings.TrimSpace(string(tail[i:]))
		}
	}
	return strings.TrimSpace(string(tail))
}
