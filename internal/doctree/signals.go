package doctree

import (
	"regexp"
	"strings"
)

var (
	maskedAccountRe = regexp.MustCompile(`(?i)[X*]{4,}[\s\-]?\d{4}\b`)
	trailingMaskRe  = regexp.MustCompile(`(?i)\b\d{4,}[X*]{2,}`)
	labeledAccount  = regexp.MustCompile(`(?i)account\s*(?:#|number|no\.?)\s*:?\s*([A-Z0-9][A-Z0-9*\-]{3,})`)
	derogatoryRe    = regexp.MustCompile(`(?i)\b(collection|charge[\s\-]?off|charged\s+off|past\s+due|late\s+payment|\d{2,3}\s+days?\s+late|delinquen\w*|repossess\w*|foreclos\w*|bankruptcy|judgment|derogatory)\b`)
)

// AccountIdentifiers returns account-number-like substrings in normalized
// form (uppercase, separators removed, '*' rewritten to 'X'), deduplicated in
// order of first appearance.
func AccountIdentifiers(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		n := NormalizeIdentifier(s)
		if len(n) < 4 || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, m := range maskedAccountRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range trailingMaskRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range labeledAccount.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

// NormalizeIdentifier canonicalizes an account-number-like string.
func NormalizeIdentifier(s string) string {
	s = strings.ToUpper(s)
	s = strings.NewReplacer(" ", "", "-", "", "*", "X").Replace(s)
	return s
}

// IsDerogatory reports whether text mentions a derogatory credit marker.
func IsDerogatory(text string) bool {
	return derogatoryRe.MatchString(text)
}

var columnGapRe = regexp.MustCompile(`\S(\t+| {2,}|\s\|\s)\S`)

// CountTables counts paragraphs that look tabular: at least two lines, most
// of which have two or more column gaps.
func CountTables(text string) int {
	n := 0
	for _, para := range strings.Split(text, "\n\n") {
		lines := strings.Split(strings.TrimSpace(para), "\n")
		if len(lines) < 2 {
			continue
		}
		tabular := 0
		for _, l := range lines {
			if len(columnGapRe.FindAllStringIndex(l, -1)) >= 2 {
				tabular++
			}
		}
		if tabular*2 > len(lines) {
			n++
		}
	}
	return n
}
