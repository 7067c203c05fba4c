package latechunk

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// BuildSummary condenses a document for the whole-document embedding: the
// text of the first pages, the section outline, then derogatory account
// lines and the first table of each complex page. The result is cut to
// maxChars runes.
func BuildSummary(doc *doctree.Document, st *doctree.Structure, pages, maxChars int) string {
	if doc == nil {
		return ""
	}
	var sb strings.Builder
	for i, p := range doc.Pages {
		if i >= pages {
			break
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			sb.WriteString(t)
			sb.WriteString("\n\n")
		}
	}
	if st != nil {
		for _, s := range st.Sections {
			fmt.Fprintf(&sb, "%s (pages %d-%d)\n", s.Title, s.StartPage, s.EndPage)
		}
		for _, a := range st.SubSections() {
			if a.Derogatory && firstPage(a.Pages) > pages {
				fmt.Fprintf(&sb, "%s: %s\n", a.Kind, firstLineOf(a.Text))
			}
		}
		for _, n := range st.ComplexPages {
			if n <= pages {
				continue
			}
			if p := doc.Page(n); p != nil {
				if tbl := firstTable(p); tbl != "" {
					sb.WriteString(tbl)
					sb.WriteString("\n")
				}
			}
		}
	}
	return truncateRunes(strings.TrimSpace(sb.String()), maxChars)
}

func firstPage(pages []int) int {
	if len(pages) == 0 {
		return 0
	}
	return pages[0]
}

func firstLineOf(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

func firstTable(p *doctree.Page) string {
	for _, para := range p.Paragraphs() {
		if doctree.CountTables(para) > 0 {
			return para
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
