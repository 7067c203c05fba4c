package chunker

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/doctree"
)

// Config controls segmentation.
type Config struct {
	TokenBudget       int // T: target size; packed units never exceed it.
	// HardCeiling bounds indivisible units (an oversized paragraph, table,
	// sub-section or page). Content past it is truncated. Values below
	// TokenBudget are raised to it.
	HardCeiling       int
	Overlap           int // O: tokens carried from one paragraph unit into the next.
	ComplexPageTables int // A page with at least this many tables is complex.
	ComplexPageTokens int // A page with at least this many tokens is complex.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TokenBudget:       8000,
		HardCeiling:       12000,
		Overlap:           200,
		ComplexPageTables: 2,
		ComplexPageTokens: 1500,
	}
}

// ConfigFrom derives segmentation settings from a run configuration.
func ConfigFrom(a config.Analysis) Config {
	return Config{
		TokenBudget:       a.TokenBudget,
		HardCeiling:       a.HardCeiling,
		Overlap:           a.Overlap,
		ComplexPageTables: a.ComplexPageTables,
		ComplexPageTokens: a.ComplexPageTokens,
	}
}

// StructuralIssue records a page the segmenter skipped.
type StructuralIssue struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

// Result is the output of Segment.
type Result struct {
	Units  []doctree.Unit    `json:"units"`
	Issues []StructuralIssue `json:"issues"`
}

// Segmenter builds units top-down across four granularities: sections,
// sub-sections, complex pages, then paragraph fallback for what is left.
type Segmenter struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Segmenter {
	def := DefaultConfig()
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.HardCeiling < cfg.TokenBudget {
		cfg.HardCeiling = cfg.TokenBudget
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.TokenBudget {
		cfg.Overlap = 0
	}
	if cfg.ComplexPageTables <= 0 {
		cfg.ComplexPageTables = def.ComplexPageTables
	}
	if cfg.ComplexPageTokens <= 0 {
		cfg.ComplexPageTokens = def.ComplexPageTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{cfg: cfg, log: log}
}

type pageText struct {
	number int
	text   string
	tables int
}

// segmentation is the mutable state of one Segment call.
type segmentation struct {
	s       *Segmenter
	pages   map[int]pageText
	order   []int
	covered map[int]bool
	units   []doctree.Unit
	issues  []StructuralIssue
}

// Segment produces an ordered unit list covering every non-empty page.
// Malformed pages are skipped and reported, never fatal.
func (s *Segmenter) Segment(doc *doctree.Document, st *doctree.Structure) Result {
	if st == nil {
		st = &doctree.Structure{Family: doctree.FamilyGeneric}
	}
	sg := &segmentation{
		s:       s,
		pages:   make(map[int]pageText),
		covered: make(map[int]bool),
	}
	sg.loadPages(doc)
	sg.sections(st)
	sg.subSections(st)
	sg.complexPages(st)
	sg.paragraphs()

	for i := range sg.units {
		sg.units[i].Index = i
	}
	s.log.Info("segmented document",
		"units", len(sg.units),
		"pages", len(sg.order),
		"issues", len(sg.issues),
	)
	return Result{Units: sg.units, Issues: sg.issues}
}

func (sg *segmentation) skip(page int, reason string) {
	sg.s.log.Warn("skipping malformed page", "page", page, "reason", reason)
	sg.issues = append(sg.issues, StructuralIssue{Page: page, Reason: reason})
}

func (sg *segmentation) loadPages(doc *doctree.Document) {
	if doc == nil {
		return
	}
	for _, p := range doc.Pages {
		if p.Number <= 0 {
			sg.skip(p.Number, "non-positive page number")
			continue
		}
		if _, dup := sg.pages[p.Number]; dup {
			sg.skip(p.Number, "duplicate page number")
			continue
		}
		text := strings.TrimSpace(p.Text)
		if text == "" && len(p.Tokens) > 0 {
			text = textFromTokens(p.Tokens)
		}
		if text == "" {
			continue
		}
		tables := p.Tables
		if tables == 0 {
			tables = doctree.CountTables(text)
		}
		sg.pages[p.Number] = pageText{number: p.Number, text: text, tables: tables}
		sg.order = append(sg.order, p.Number)
	}
	sort.Ints(sg.order)
}

func (sg *segmentation) sections(st *doctree.Structure) {
	for _, sec := range st.Sections {
		var parts []string
		var pages []int
		tables := 0
		for _, n := range sec.Pages() {
			p, ok := sg.pages[n]
			if !ok {
				continue
			}
			parts = append(parts, p.text)
			pages = append(pages, n)
			tables += p.tables
		}
		if len(parts) == 0 {
			continue
		}
		content := strings.Join(parts, "\n\n")
		if cost.EstimateTokens(content) > sg.s.cfg.TokenBudget {
			// Too large as a whole; finer passes pick it up.
			continue
		}
		semType := sec.Type
		if semType == "" {
			semType = doctree.TypeSection
		}
		sg.emit(doctree.GranularitySection, sec.Title, content, semType, pages, tables, false)
		sg.cover(pages)
	}
}

func (sg *segmentation) subSections(st *doctree.Structure) {
	before := make(map[int]bool, len(sg.covered))
	for k := range sg.covered {
		before[k] = true
	}
	var touched []int
	for _, sub := range st.SubSections() {
		content := strings.TrimSpace(sub.Text)
		if content == "" {
			continue
		}
		var pages []int
		alreadyCovered := true
		for _, n := range sub.Pages {
			if _, ok := sg.pages[n]; !ok {
				continue
			}
			pages = append(pages, n)
			if !before[n] {
				alreadyCovered = false
			}
		}
		if len(pages) == 0 || alreadyCovered {
			continue
		}
		semType := doctree.TypeAccount
		switch sub.Kind {
		case doctree.SubDispute:
			semType = doctree.TypeDispute
		case doctree.SubPayment:
			semType = doctree.TypePayment
		}
		derog := sub.Derogatory || doctree.IsDerogatory(content)
		sg.emit(doctree.GranularitySubSection, sub.Label, content, semType, pages, doctree.CountTables(content), derog)
		touched = append(touched, pages...)
	}
	sg.cover(touched)
}

func (sg *segmentation) complexPages(st *doctree.Structure) {
	flagged := make(map[int]bool, len(st.ComplexPages))
	for _, n := range st.ComplexPages {
		flagged[n] = true
	}
	for _, n := range sg.order {
		if sg.covered[n] {
			continue
		}
		p := sg.pages[n]
		isComplex := flagged[n] ||
			p.tables >= sg.s.cfg.ComplexPageTables ||
			cost.EstimateTokens(p.text) >= sg.s.cfg.ComplexPageTokens
		if !isComplex {
			continue
		}
		semType := classify(p.text)
		if semType == doctree.TypeParagraph {
			semType = doctree.TypeComplexPage
		}
		sg.emit(doctree.GranularityPage, fmt.Sprintf("Page %d", n), p.text, semType, []int{n}, p.tables, false)
		sg.cover([]int{n})
	}
}

type paragraph struct {
	page int
	text string
}

// paragraphs greedily packs the paragraphs of uncovered pages until the
// next one would exceed the budget, then starts a new unit.
func (sg *segmentation) paragraphs() {
	var paras []paragraph
	for _, n := range sg.order {
		if sg.covered[n] {
			continue
		}
		p := sg.pages[n]
		for _, text := range (&doctree.Page{Text: p.text}).Paragraphs() {
			paras = append(paras, paragraph{page: n, text: text})
		}
	}

	budget := sg.s.cfg.TokenBudget
	var current []paragraph
	currentTokens := 0
	overlap := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		var parts []string
		if overlap != "" {
			parts = append(parts, overlap)
		}
		var pages []int
		for _, p := range current {
			parts = append(parts, p.text)
			pages = appendUnique(pages, p.page)
		}
		content := strings.Join(parts, "\n\n")
		u := sg.emit(doctree.GranularityParagraph, "", content, classify(content), pages, doctree.CountTables(content), false)
		u.StructuralElements.HasOverlap = overlap != ""
		sg.cover(pages)
		overlap = overlapTail(content, sg.s.cfg.Overlap)
		current = nil
		currentTokens = 0
	}

	for _, p := range paras {
		t := cost.EstimateTokens(p.text)
		if t > budget {
			// Oversized paragraph or table: its own unit, never split.
			flush()
			u := sg.emit(doctree.GranularityParagraph, "", p.text, classify(p.text), []int{p.page}, doctree.CountTables(p.text), false)
			u.StructuralElements.Oversized = true
			sg.cover([]int{p.page})
			overlap = ""
			continue
		}
		if len(current) > 0 && currentTokens+t+sepTokens > budget {
			flush()
		}
		if len(current) == 0 && overlap != "" {
			if cost.EstimateTokens(overlap)+t+sepTokens > budget {
				overlap = ""
			} else {
				currentTokens = cost.EstimateTokens(overlap) + sepTokens
			}
		}
		current = append(current, p)
		currentTokens += t + sepTokens
	}
	flush()
}

// sepTokens accounts for the "\n\n" joiner between paragraphs.
const sepTokens = 1

// emit appends a unit, truncating its content to the hard ceiling, and
// returns a pointer to it for flag updates.
func (sg *segmentation) emit(g doctree.Granularity, title, content string, semType doctree.SemanticType, pages []int, tables int, derogatory bool) *doctree.Unit {
	oversized := cost.EstimateTokens(content) > sg.s.cfg.TokenBudget
	content, truncated := TruncateToTokens(content, sg.s.cfg.HardCeiling)
	if truncated {
		sg.s.log.Warn("unit truncated to hard ceiling",
			"granularity", g, "pages", pages, "ceiling", sg.s.cfg.HardCeiling)
	}
	idx := len(sg.units)
	u := doctree.Unit{
		ID:           fmt.Sprintf("%s-%03d", g, idx),
		Title:        title,
		Content:      content,
		SemanticType: semType,
		PageNumbers:  append([]int(nil), pages...),
		TokenCount:   cost.EstimateTokens(content),
		Priority:     AssignPriority(semType, content, derogatory),
		StructuralElements: doctree.StructuralElements{
			Granularity: g,
			Tables:      tables,
			Identifiers: doctree.AccountIdentifiers(content),
			Truncated:   truncated,
			Oversized:   oversized,
		},
	}
	sg.units = append(sg.units, u)
	return &sg.units[idx]
}

func (sg *segmentation) cover(pages []int) {
	for _, n := range pages {
		sg.covered[n] = true
	}
}

// AssignPriority ranks a unit for dispatch.
func AssignPriority(t doctree.SemanticType, content string, derogatory bool) doctree.Priority {
	derog := derogatory || doctree.IsDerogatory(content)
	switch t {
	case doctree.TypeDispute:
		return doctree.PriorityCritical
	case doctree.TypeAccount:
		if derog {
			return doctree.PriorityCritical
		}
		return doctree.PriorityHigh
	case doctree.TypePublicRecord:
		return doctree.PriorityHigh
	case doctree.TypePayment, doctree.TypeInquiry, doctree.TypeSummary:
		return doctree.PriorityMedium
	}
	if derog {
		return doctree.PriorityHigh
	}
	return doctree.PriorityLow
}

var classifiers = []struct {
	re *regexp.Regexp
	t  doctree.SemanticType
}{
	{regexp.MustCompile(`(?i)\bdisput`), doctree.TypeDispute},
	{regexp.MustCompile(`(?i)\b(public\s+records?|bankruptcy|judgment|tax\s+lien)\b`), doctree.TypePublicRecord},
	{regexp.MustCompile(`(?i)\b(account\s*(#|number|no\.?)|creditor|balance|credit\s+limit|high\s+credit)\b`), doctree.TypeAccount},
	{regexp.MustCompile(`(?i)\b(payment\s+history|payment\s+status|monthly\s+payment)\b`), doctree.TypePayment},
	{regexp.MustCompile(`(?i)\binquir(y|ies)\b`), doctree.TypeInquiry},
	{regexp.MustCompile(`(?i)\b(personal\s+information|date\s+of\s+birth|social\s+security|address(es)?)\b`), doctree.TypePersonalInfo},
	{regexp.MustCompile(`(?i)\b(summary|overview)\b`), doctree.TypeSummary},
}

func classify(text string) doctree.SemanticType {
	for _, c := range classifiers {
		if c.re.MatchString(text) {
			return c.t
		}
	}
	return doctree.TypeParagraph
}

func textFromTokens(tokens []doctree.PageToken) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text)
	}
	return strings.TrimSpace(sb.String())
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
