package chunker

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/doctree"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docWithPages(texts ...string) *doctree.Document {
	doc := &doctree.Document{ID: "doc"}
	for i, t := range texts {
		doc.Pages = append(doc.Pages, doctree.Page{Number: i + 1, Width: 612, Height: 792, Text: t})
	}
	return doc
}

func coveredPages(units []doctree.Unit) map[int]bool {
	out := map[int]bool{}
	for _, u := range units {
		for _, p := range u.PageNumbers {
			out[p] = true
		}
	}
	return out
}

func TestSegment_SmallDocumentFitsOneUnit(t *testing.T) {
	doc := docWithPages("First paragraph.\n\nSecond paragraph.")
	seg := New(Config{TokenBudget: 1000, Overlap: 50}, quietLogger())

	res := seg.Segment(doc, nil)
	if len(res.Units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(res.Units))
	}
	u := res.Units[0]
	if u.Index != 0 {
		t.Errorf("expected index 0, got %d", u.Index)
	}
	if !strings.Contains(u.Content, "Second paragraph.") {
		t.Errorf("expected content to contain both paragraphs, got %q", u.Content)
	}
	if u.StructuralElements.Granularity != doctree.GranularityParagraph {
		t.Errorf("expected paragraph granularity, got %q", u.StructuralElements.Granularity)
	}
}

func TestSegment_TokenBudgetAndCoverage(t *testing.T) {
	var pages []string
	for i := 0; i < 6; i++ {
		var paras []string
		for j := 0; j < 5; j++ {
			paras = append(paras, strings.Repeat(fmt.Sprintf("page%d para%d words ", i, j), 12))
		}
		pages = append(pages, strings.Join(paras, "\n\n"))
	}
	doc := docWithPages(pages...)
	cfg := Config{TokenBudget: 300, Overlap: 20, ComplexPageTables: 5, ComplexPageTokens: 100000}
	res := New(cfg, quietLogger()).Segment(doc, nil)

	if len(res.Units) < 2 {
		t.Fatalf("expected the document to be split, got %d units", len(res.Units))
	}
	for i, u := range res.Units {
		if u.TokenCount > cfg.TokenBudget {
			t.Errorf("unit %d: %d tokens exceeds budget %d", i, u.TokenCount, cfg.TokenBudget)
		}
		if got := cost.EstimateTokens(u.Content); got != u.TokenCount {
			t.Errorf("unit %d: token count %d does not match content estimate %d", i, u.TokenCount, got)
		}
		if u.Index != i {
			t.Errorf("unit %d: expected index %d, got %d", i, i, u.Index)
		}
	}
	covered := coveredPages(res.Units)
	for n := 1; n <= len(pages); n++ {
		if !covered[n] {
			t.Errorf("page %d not covered by any unit", n)
		}
	}
}

func TestSegment_OverlapCarriedIntoNextUnit(t *testing.T) {
	para := func(tag string) string { return strings.Repeat(tag+" ", 60) }
	doc := docWithPages(para("alpha") + "\n\n" + para("beta") + "\n\n" + para("gamma"))
	res := New(Config{TokenBudget: 120, Overlap: 10}, quietLogger()).Segment(doc, nil)

	if len(res.Units) < 2 {
		t.Fatalf("expected at least 2 units, got %d", len(res.Units))
	}
	second := res.Units[1]
	if !second.StructuralElements.HasOverlap {
		t.Errorf("expected second unit to carry overlap")
	}
	if !strings.HasPrefix(second.Content, "alpha") {
		t.Errorf("expected second unit to start with tail of the first, got %q", second.Content[:20])
	}
}

func TestSegment_OversizedParagraphIsOwnTruncatedUnit(t *testing.T) {
	huge := strings.Repeat("x", 2000) // 500 tokens
	doc := docWithPages("short intro\n\n" + huge + "\n\nshort outro")
	cfg := Config{TokenBudget: 100}
	res := New(cfg, quietLogger()).Segment(doc, nil)

	var oversized []doctree.Unit
	for _, u := range res.Units {
		if u.StructuralElements.Oversized {
			oversized = append(oversized, u)
		}
		if u.TokenCount > cfg.TokenBudget {
			t.Errorf("unit %s exceeds budget: %d", u.ID, u.TokenCount)
		}
	}
	if len(oversized) != 1 {
		t.Fatalf("expected exactly one oversized unit, got %d", len(oversized))
	}
	if !oversized[0].StructuralElements.Truncated {
		t.Errorf("expected oversized unit to be marked truncated")
	}
	if len(oversized[0].Content) != cost.CharsForTokens(cfg.TokenBudget) {
		t.Errorf("expected truncation at %d chars, got %d", cost.CharsForTokens(cfg.TokenBudget), len(oversized[0].Content))
	}
	if len(res.Units) != 3 {
		t.Errorf("expected intro, oversized, outro units, got %d", len(res.Units))
	}
}

func TestSegment_OversizedParagraphKeptUpToHardCeiling(t *testing.T) {
	cases := []struct {
		name      string
		chars     int
		truncated bool
		wantChars int
	}{
		{"below ceiling kept whole", 1200, false, 1200}, // 300 tokens
		{"above ceiling truncated", 4000, true, cost.CharsForTokens(400)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := docWithPages("intro\n\n" + strings.Repeat("y", tc.chars) + "\n\noutro")
			cfg := Config{TokenBudget: 100, HardCeiling: 400}
			res := New(cfg, quietLogger()).Segment(doc, nil)

			var big *doctree.Unit
			for i := range res.Units {
				u := &res.Units[i]
				if u.TokenCount > cfg.HardCeiling {
					t.Errorf("unit %s exceeds hard ceiling: %d", u.ID, u.TokenCount)
				}
				if u.StructuralElements.Oversized {
					big = u
				}
			}
			if big == nil {
				t.Fatal("expected an oversized unit")
			}
			if big.StructuralElements.Truncated != tc.truncated {
				t.Errorf("truncated = %v, want %v", big.StructuralElements.Truncated, tc.truncated)
			}
			if len(big.Content) != tc.wantChars {
				t.Errorf("content length = %d, want %d", len(big.Content), tc.wantChars)
			}
		})
	}
}

func TestNew_HardCeilingRaisedToBudget(t *testing.T) {
	seg := New(Config{TokenBudget: 500, HardCeiling: 100}, quietLogger())
	if seg.cfg.HardCeiling != 500 {
		t.Errorf("expected ceiling raised to budget, got %d", seg.cfg.HardCeiling)
	}
}

func TestSegment_EmptyPagesProduceNoUnit(t *testing.T) {
	doc := docWithPages("content on page one", "   ", "")
	res := New(DefaultConfig(), quietLogger()).Segment(doc, nil)
	for _, u := range res.Units {
		for _, p := range u.PageNumbers {
			if p != 1 {
				t.Errorf("unexpected unit for empty page %d", p)
			}
		}
	}
	if len(res.Issues) != 0 {
		t.Errorf("empty pages are not structural issues, got %v", res.Issues)
	}
}

func TestSegment_MalformedPagesSkipped(t *testing.T) {
	doc := &doctree.Document{Pages: []doctree.Page{
		{Number: 1, Text: "good page"},
		{Number: 0, Text: "bad number"},
		{Number: 1, Text: "duplicate"},
		{Number: 2, Text: "another good page"},
	}}
	res := New(DefaultConfig(), quietLogger()).Segment(doc, nil)
	if len(res.Issues) != 2 {
		t.Fatalf("expected 2 structural issues, got %d: %v", len(res.Issues), res.Issues)
	}
	covered := coveredPages(res.Units)
	if !covered[1] || !covered[2] {
		t.Errorf("expected valid pages to be covered, got %v", covered)
	}
	for _, u := range res.Units {
		if strings.Contains(u.Content, "duplicate") || strings.Contains(u.Content, "bad number") {
			t.Errorf("malformed page content leaked into unit %s", u.ID)
		}
	}
}

func TestSegment_GranularityOrder(t *testing.T) {
	table := "Creditor  Balance  Status\nACME  $100  Open\nBETA  $200  Closed"
	doc := docWithPages(
		"PERSONAL INFORMATION\n\nName: Jane Doe",
		"ACCOUNTS\n\nAccount Number: XXXX1234 collection",
		table+"\n\n"+table,
		"Closing remarks.",
	)
	st := &doctree.Structure{
		Family:   doctree.FamilyCreditReport,
		Sections: []doctree.Section{{Type: doctree.TypePersonalInfo, Title: "Personal Information", StartPage: 1, EndPage: 1}},
		Accounts: []doctree.SubSection{{
			Kind: doctree.SubAccount, Label: "ACME", Identifier: "XXXX1234",
			Pages: []int{2}, Text: "Account Number: XXXX1234 collection",
		}},
	}
	res := New(Config{TokenBudget: 1000}, quietLogger()).Segment(doc, st)

	want := []doctree.Granularity{
		doctree.GranularitySection,
		doctree.GranularitySubSection,
		doctree.GranularityPage,
		doctree.GranularityParagraph,
	}
	if len(res.Units) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(res.Units))
	}
	for i, g := range want {
		if res.Units[i].StructuralElements.Granularity != g {
			t.Errorf("unit %d: expected %s, got %s", i, g, res.Units[i].StructuralElements.Granularity)
		}
	}
	acct := res.Units[1]
	if acct.SemanticType != doctree.TypeAccount {
		t.Errorf("expected account type, got %s", acct.SemanticType)
	}
	if acct.Priority != doctree.PriorityCritical {
		t.Errorf("expected derogatory account to be critical, got %s", acct.Priority)
	}
	if len(acct.StructuralElements.Identifiers) == 0 || acct.StructuralElements.Identifiers[0] != "XXXX1234" {
		t.Errorf("expected identifier XXXX1234, got %v", acct.StructuralElements.Identifiers)
	}
	if res.Units[2].StructuralElements.Tables < 2 {
		t.Errorf("expected complex page with 2 tables, got %d", res.Units[2].StructuralElements.Tables)
	}
}

func TestSegment_LargeSectionFallsThrough(t *testing.T) {
	big := strings.Repeat("word ", 400)
	doc := docWithPages(big, big)
	st := &doctree.Structure{Sections: []doctree.Section{{Type: doctree.TypeSection, Title: "All", StartPage: 1, EndPage: 2}}}
	res := New(Config{TokenBudget: 600, ComplexPageTokens: 100000}, quietLogger()).Segment(doc, st)
	for _, u := range res.Units {
		if u.StructuralElements.Granularity == doctree.GranularitySection {
			t.Errorf("section over budget should not become a single unit")
		}
	}
	covered := coveredPages(res.Units)
	if !covered[1] || !covered[2] {
		t.Errorf("expected both pages covered by finer units")
	}
}

func TestAssignPriority(t *testing.T) {
	tests := []struct {
		typ  doctree.SemanticType
		text string
		want doctree.Priority
	}{
		{doctree.TypeDispute, "", doctree.PriorityCritical},
		{doctree.TypeAccount, "charged off", doctree.PriorityCritical},
		{doctree.TypeAccount, "current", doctree.PriorityHigh},
		{doctree.TypeInquiry, "", doctree.PriorityMedium},
		{doctree.TypeParagraph, "30 days late", doctree.PriorityHigh},
		{doctree.TypeParagraph, "hello", doctree.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.text, func(t *testing.T) {
			if got := AssignPriority(tt.typ, tt.text, false); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTruncateToTokens(t *testing.T) {
	text := "alpha beta gamma delta"
	got, cut := TruncateToTokens(text, 3) // 12 chars
	if !cut {
		t.Fatal("expected truncation")
	}
	if got != "alpha beta" {
		t.Errorf("expected cut at word boundary, got %q", got)
	}
	same, cut := TruncateToTokens("short", 10)
	if cut || same != "short" {
		t.Errorf("expected untouched text, got %q cut=%v", same, cut)
	}
}
