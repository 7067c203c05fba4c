package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/textnorm"
)

// Parsed is the validated content of one model answer.
type Parsed struct {
	Findings       []Finding
	ContextSummary string
	// Dropped counts items rejected for a missing or non-literal anchor,
	// a malformed shape, or injected instructions.
	Dropped int
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|` +
		`new\s+instructions)`,
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]`)
	slugRepeat  = regexp.MustCompile(`_+`)
)

// ParseFindings validates a model answer against unit. It accepts
// {"issues": [...]}, {"findings": [...]} or a bare array, optionally wrapped
// in a code fence or surrounded by prose. Out-of-domain enum values are
// coerced to defaults. Items whose anchor is missing or does not occur in
// the unit content are dropped. A response that cannot be read as one of
// the accepted shapes returns *ParseError.
func ParseFindings(raw string, unit *doctree.Unit) (Parsed, error) {
	return ParseFindingsRelated(raw, unit, nil)
}

// ParseFindingsRelated is ParseFindings for a unit whose prompt listed
// findings of related units. References to those findings' IDs are kept
// as relations; references to anything else not in the answer are dropped.
func ParseFindingsRelated(raw string, unit *doctree.Unit, related []Finding) (Parsed, error) {
	text := stripCodeBlock(raw)
	if !gjson.Valid(text) {
		i, j := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if i < 0 || j <= i || !gjson.Valid(text[i:j+1]) {
			return Parsed{}, &ParseError{Reason: "response is not valid JSON", Raw: raw}
		}
		text = text[i : j+1]
	}

	root := gjson.Parse(text)
	var items gjson.Result
	switch {
	case root.IsArray():
		items = root
	case root.Get("issues").IsArray():
		items = root.Get("issues")
	case root.Get("findings").IsArray():
		items = root.Get("findings")
	default:
		return Parsed{}, &ParseError{Reason: "no issues array", Raw: raw}
	}

	out := Parsed{ContextSummary: strings.TrimSpace(root.Get("contextSummary").String())}
	idMap := map[string]string{}
	for _, f := range related {
		idMap[f.ID] = f.ID
	}
	var refs [][]string

	for i, item := range items.Array() {
		f, modelID, rel, ok := validateItem(item, unit, i)
		if !ok {
			out.Dropped++
			continue
		}
		if modelID != "" {
			idMap[modelID] = f.ID
		}
		out.Findings = append(out.Findings, f)
		refs = append(refs, rel)
	}

	for i := range out.Findings {
		seen := map[string]bool{}
		for _, ref := range refs[i] {
			id, ok := idMap[ref]
			if !ok || id == out.Findings[i].ID || seen[id] {
				continue
			}
			seen[id] = true
			out.Findings[i].RelatedFindingIDs = append(out.Findings[i].RelatedFindingIDs, id)
		}
	}
	return out, nil
}

func validateItem(item gjson.Result, unit *doctree.Unit, index int) (f Finding, modelID string, related []string, ok bool) {
	if !item.IsObject() {
		return Finding{}, "", nil, false
	}
	anchor := ClampAnchor(strings.TrimSpace(item.Get("anchorText").String()))
	if anchor == "" || !textnorm.Contains(unit.Content, anchor) {
		return Finding{}, "", nil, false
	}
	desc := strings.TrimSpace(item.Get("description").String())
	action := strings.TrimSpace(item.Get("recommendedAction").String())
	if injectionPattern.MatchString(desc) || injectionPattern.MatchString(action) {
		return Finding{}, "", nil, false
	}
	if desc == "" {
		desc = anchor
	}

	page := int(item.Get("pageNumber").Int())
	if !unit.HasPage(page) && len(unit.PageNumbers) > 0 {
		page = unit.PageNumbers[0]
	}

	f = Finding{
		ID:                FindingID(unit.ID, index, page, anchor),
		SeverityClass:     coerceClass(item.Get("type").String()),
		Category:          Slugify(item.Get("category").String()),
		Severity:          coerceSeverity(item.Get("severity").String()),
		Description:       desc,
		PageNumber:        page,
		AnchorText:        anchor,
		RecommendedAction: action,
		UnitID:            unit.ID,
		Source:            SourceModel,
	}
	if c := item.Get("coordinates"); c.IsObject() {
		r := doctree.Rect{
			X:      c.Get("x").Float(),
			Y:      c.Get("y").Float(),
			Width:  c.Get("width").Float(),
			Height: c.Get("height").Float(),
		}
		if !r.Empty() {
			f.Hint = &r
		}
	}
	for _, key := range []string{"relatedIssueIds", "relatedFindingIds"} {
		for _, r := range item.Get(key).Array() {
			related = append(related, r.String())
		}
	}
	return f, strings.TrimSpace(item.Get("id").String()), related, true
}

func coerceClass(s string) SeverityClass {
	switch c := SeverityClass(strings.ToLower(strings.TrimSpace(s))); c {
	case ClassCritical, ClassWarning, ClassAttention, ClassInfo:
		return c
	default:
		return ClassInfo
	}
}

func coerceSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return v
	default:
		return SeverityMedium
	}
}

// ClampAnchor cuts an anchor to MaxAnchorChars runes, backing off to the
// last whole word so the result stays a literal prefix.
func ClampAnchor(s string) string {
	r := []rune(s)
	if len(r) <= MaxAnchorChars {
		return s
	}
	cut := MaxAnchorChars
	if !unicode.IsSpace(r[cut]) {
		for cut > 0 && !unicode.IsSpace(r[cut-1]) {
			cut--
		}
	}
	if cut == 0 {
		cut = MaxAnchorChars
	}
	return strings.TrimSpace(string(r[:cut]))
}

// Slugify converts a category to a lowercase identifier.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	s = slugInvalid.ReplaceAllString(s, "_")
	s = slugRepeat.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		return "other"
	}
	return s
}

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}
