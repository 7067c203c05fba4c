package parser

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

const (
	complexPageTables = 2
	complexPageWords  = 900
	maxHeadingWords   = 6
)

var familyMarkers = []string{
	"credit report", "credit score", "equifax", "experian", "transunion",
	"tradeline", "inquiries", "account number", "creditor", "payment history",
}

type headingRule struct {
	re  *regexp.Regexp
	typ doctree.SemanticType
}

var headingRules = []headingRule{
	{regexp.MustCompile(`(?i)^(personal\s+(information|data|profile)|identification|consumer\s+information)$`), doctree.TypePersonalInfo},
	{regexp.MustCompile(`(?i)^(account\s+summary|report\s+summary|summary|credit\s+summary)$`), doctree.TypeSummary},
	{regexp.MustCompile(`(?i)^((credit\s+|adverse\s+|satisfactory\s+|closed\s+|open\s+)?accounts?(\s+(history|information|details))?|trade\s*lines?|collections?)$`), doctree.TypeAccount},
	{regexp.MustCompile(`(?i)^((hard\s+|soft\s+)?inquir(y|ies)|requests\s+for\s+your\s+credit\s+history)$`), doctree.TypeInquiry},
	{regexp.MustCompile(`(?i)^public\s+records?$`), doctree.TypePublicRecord},
	{regexp.MustCompile(`(?i)^(disputes?|dispute\s+(history|information|results)|consumer\s+statements?)$`), doctree.TypeDispute},
}

var (
	disputeRe = regexp.MustCompile(`(?i)\bdisput(e|ed|es|ing)\b`)
	paymentRe = regexp.MustCompile(`(?i)\b(payment\s+history|payments?\s+(received|made|due)|scheduled\s+payment|last\s+payment)\b`)
)

// DetectStructure finds the document family, top-level sections, the
// account/dispute/payment sub-sections and pages too dense to split further.
// Detection is heuristic and never fails; an unrecognized document yields a
// generic structure with no sections.
func DetectStructure(doc *doctree.Document) *doctree.Structure {
	st := &doctree.Structure{Family: detectFamily(doc)}
	if doc == nil {
		return st
	}
	st.Sections = detectSections(doc)
	for _, page := range doc.Pages {
		if page.Number <= 0 {
			continue
		}
		if doctree.CountTables(page.Text) >= complexPageTables || len(strings.Fields(page.Text)) > complexPageWords {
			st.ComplexPages = append(st.ComplexPages, page.Number)
		}
		for _, para := range page.Paragraphs() {
			addSubSection(st, page.Number, para)
		}
	}
	return st
}

func detectFamily(doc *doctree.Document) doctree.Family {
	if doc == nil {
		return doctree.FamilyGeneric
	}
	var sb strings.Builder
	sb.WriteString(strings.ToLower(doc.Title))
	for i, p := range doc.Pages {
		if i >= 3 {
			break
		}
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(p.Text))
	}
	text := sb.String()
	hits := 0
	for _, m := range familyMarkers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	if hits >= 2 {
		return doctree.FamilyCreditReport
	}
	return doctree.FamilyGeneric
}

// detectSections treats short lines that match a known heading as section
// starts. A section runs until the page before the next heading, or to the
// heading's own page when the next heading shares it.
func detectSections(doc *doctree.Document) []doctree.Section {
	var out []doctree.Section
	last := 0
	for _, page := range doc.Pages {
		if page.Number <= 0 {
			continue
		}
		last = page.Number
		for _, line := range strings.Split(page.Text, "\n") {
			line = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ":"))
			if line == "" || len(strings.Fields(line)) > maxHeadingWords {
				continue
			}
			typ, ok := headingType(line)
			if !ok {
				continue
			}
			if n := len(out); n > 0 {
				end := page.Number - 1
				if end < out[n-1].StartPage {
					end = out[n-1].StartPage
				}
				out[n-1].EndPage = end
			}
			out = append(out, doctree.Section{Type: typ, Title: line, StartPage: page.Number})
		}
	}
	if n := len(out); n > 0 {
		out[n-1].EndPage = last
		if last < out[n-1].StartPage {
			out[n-1].EndPage = out[n-1].StartPage
		}
	}
	return mergeSamePage(out)
}

// mergeSamePage folds consecutive same-type sections that start on one page
// into a single section.
func mergeSamePage(secs []doctree.Section) []doctree.Section {
	var out []doctree.Section
	for _, s := range secs {
		if n := len(out); n > 0 && out[n-1].Type == s.Type && out[n-1].StartPage == s.StartPage {
			if s.EndPage > out[n-1].EndPage {
				out[n-1].EndPage = s.EndPage
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func headingType(line string) (doctree.SemanticType, bool) {
	for _, rule := range headingRules {
		if rule.re.MatchString(line) {
			return rule.typ, true
		}
	}
	return "", false
}

func addSubSection(st *doctree.Structure, page int, para string) {
	if _, ok := headingType(strings.TrimRight(para, ":")); ok {
		return
	}
	ids := doctree.AccountIdentifiers(para)
	id := ""
	if len(ids) > 0 {
		id = ids[0]
	}
	sub := doctree.SubSection{
		Label:      firstLine(para),
		Identifier: id,
		Pages:      []int{page},
		Text:       para,
		Derogatory: doctree.IsDerogatory(para),
	}
	switch {
	case disputeRe.MatchString(para):
		sub.Kind = doctree.SubDispute
		st.Disputes = appendSub(st.Disputes, sub)
	case id != "":
		sub.Kind = doctree.SubAccount
		st.Accounts = appendSub(st.Accounts, sub)
	case paymentRe.MatchString(para):
		sub.Kind = doctree.SubPayment
		st.Payments = appendSub(st.Payments, sub)
	}
}

// appendSub merges an entry that continues the previous one onto the next
// page (same identifier, adjacent page) instead of starting a new one.
func appendSub(list []doctree.SubSection, sub doctree.SubSection) []doctree.SubSection {
	if n := len(list); n > 0 && sub.Identifier != "" {
		prev := &list[n-1]
		lastPage := prev.Pages[len(prev.Pages)-1]
		if prev.Identifier == sub.Identifier && (sub.Pages[0] == lastPage || sub.Pages[0] == lastPage+1) {
			if sub.Pages[0] != lastPage {
				prev.Pages = append(prev.Pages, sub.Pages[0])
			}
			prev.Text += "\n\n" + sub.Text
			prev.Derogatory = prev.Derogatory || sub.Derogatory
			return list
		}
	}
	return append(list, sub)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 80 {
		line = string(r[:80])
	}
	return line
}
