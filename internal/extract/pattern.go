package extract

import (
	"regexp"
	"strings"
)

type patternRule struct {
	category string
	class    SeverityClass
	severity Severity
	desc     string
	action   string
	res      []*regexp.Regexp
}

func mustAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

var patternRules = []patternRule{
	{
		category: "collection", class: ClassCritical, severity: SeverityHigh,
		desc:   "Account reported as in collection.",
		action: "Verify the debt and request validation from the collector.",
		res:    mustAll(`\bcollection\b`, `collection agency`, `portfolio recovery`, `cavalry portfolio`, `debt buyer`),
	},
	{
		category: "charge_off", class: ClassCritical, severity: SeverityHigh,
		desc:   "Account reported as charged off.",
		action: "Confirm the charge-off date and balance; dispute if inaccurate.",
		res:    mustAll(`charge[\s\-_]?off`, `charged off`, `written off`),
	},
	{
		category: "late_payment", class: ClassWarning, severity: SeverityMedium,
		desc:   "Late payment reported.",
		action: "Check the payment history against your records.",
		res:    mustAll(`\b(30|60|90|120|150|180)\s*days?\s*past\s*due`, `\b(30|60|90|120|150|180)\s*days?\s*late`, `past[\s\-_]?due`),
	},
	{
		category: "truncated_account", class: ClassWarning, severity: SeverityMedium,
		desc:   "Account number is truncated; confirm it matches the creditor's records.",
		action: "Request the full account number from the creditor if the account is unfamiliar.",
		res:    mustAll(`[X*]{4,}[\s\-]?\d{4}`, `\.{3,}\d{4}`),
	},
	{
		category: "utilization", class: ClassAttention, severity: SeverityLow,
		desc:   "High credit utilization.",
		action: "Consider paying down the balance below 30% of the limit.",
		res:    mustAll(`\b(8[0-9]|9[0-9]|100)%?\s*utilization`, `over[\s\-]?limit`, `maxed[\s\-]?out`),
	},
	{
		category: "derogatory", class: ClassCritical, severity: SeverityHigh,
		desc:   "Derogatory mark reported.",
		action: "Review the item and dispute it if it is inaccurate or obsolete.",
		res:    mustAll(`\bderogatory\b`, `\bdelinquent\b`, `\bdefault\b`, `\brepossession\b`, `\bforeclosure\b`, `\bbankruptcy\b`),
	},
}

// PatternDetector finds well-known credit report problems by regular
// expression. Every finding's anchor is the literal matched text.
type PatternDetector struct{}

// Detect scans one page of a unit. Matches are reported in text order per
// rule; a span matched by an earlier rule is not reported again.
func (PatternDetector) Detect(unitID string, page int, text string) []Finding {
	var out []Finding
	var taken [][2]int
	overlaps := func(a, b int) bool {
		for _, t := range taken {
			if a < t[1] && t[0] < b {
				return true
			}
		}
		return false
	}
	for _, rule := range patternRules {
		for _, re := range rule.res {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				if overlaps(loc[0], loc[1]) {
					continue
				}
				anchor := strings.TrimSpace(text[loc[0]:loc[1]])
				if anchor == "" {
					continue
				}
				taken = append(taken, [2]int{loc[0], loc[1]})
				out = append(out, Finding{
					ID:                FindingID(unitID+"#pattern", len(out), page, anchor),
					SeverityClass:     rule.class,
					Category:          rule.category,
					Severity:          rule.severity,
					Description:       rule.desc,
					PageNumber:        page,
					AnchorText:        ClampAnchor(anchor),
					RecommendedAction: rule.action,
					UnitID:            unitID,
					Source:            SourcePattern,
				})
			}
		}
	}
	return out
}
