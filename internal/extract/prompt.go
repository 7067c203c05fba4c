package extract

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

const AnalysisPrompt = `You are auditing one section of a consumer credit report for errors, inconsistencies and items that hurt the consumer.

Return ONLY a JSON object of this shape:
{
  "issues": [
    {
      "id": "short-unique-id",
      "type": "critical|warning|attention|info",
      "category": "accuracy|identity|collection|late_payment|charge_off|utilization|inquiry|public_record|dispute|compliance|other",
      "severity": "high|medium|low",
      "pageNumber": 1,
      "description": "what is wrong and why it matters",
      "anchorText": "exact text copied from the section",
      "recommendedAction": "what the consumer should do",
      "relatedIssueIds": ["ids of other issues in this answer, or of issues listed under Related issues, about the same item"],
      "coordinates": {"x": 0, "y": 0, "width": 0, "height": 0}
    }
  ],
  "contextSummary": "two or three sentences about this section that will help analyze the next one"
}

Rules:
- "anchorText" MUST be copied verbatim from the section text, at most 120 characters. Prefer the shortest span that pins the issue (an account number, a status, a date). Issues without such text are discarded.
- "pageNumber" MUST be one of the section's pages listed below.
- Report only issues supported by the text. Do not speculate.
- "coordinates" are optional and only a hint.
- Return {"issues": [], "contextSummary": "..."} when nothing is wrong.`

// PromptInput is everything the prompt builder needs for one unit.
type PromptInput struct {
	DocTitle       string
	Unit           *doctree.Unit
	Context        []*doctree.Unit // preceding units, oldest first
	ContextSummary string          // carried from the previous unit
	ContextChars   int             // per context unit; 0 means 600
	// Related are findings already reported for units related to this
	// one. The model may cite their IDs in relatedIssueIds.
	Related []Finding
}

// BuildUnitPrompt renders the user message for one unit.
func BuildUnitPrompt(in PromptInput) string {
	u := in.Unit
	var sb strings.Builder
	sb.WriteString(AnalysisPrompt)
	sb.WriteString("\n\n---\n")
	if in.DocTitle != "" {
		sb.WriteString(fmt.Sprintf("Document: %q\n", in.DocTitle))
	}
	sb.WriteString(fmt.Sprintf("Section: %s (%s, priority %s)\n", u.ID, u.SemanticType, u.Priority))
	sb.WriteString("Pages: ")
	sb.WriteString(joinInts(u.PageNumbers))
	sb.WriteString("\n")
	if len(u.StructuralElements.Identifiers) > 0 {
		sb.WriteString("Account identifiers: ")
		sb.WriteString(strings.Join(u.StructuralElements.Identifiers, ", "))
		sb.WriteString("\n")
	}
	if in.ContextSummary != "" {
		sb.WriteString("Previously: ")
		sb.WriteString(in.ContextSummary)
		sb.WriteString("\n")
	}
	if len(in.Context) > 0 {
		limit := in.ContextChars
		if limit <= 0 {
			limit = 600
		}
		sb.WriteString("\nContext from preceding sections (do not report issues from it):\n")
		for _, c := range in.Context {
			sb.WriteString(fmt.Sprintf("[%s, pages %s] ", c.ID, joinInts(c.PageNumbers)))
			sb.WriteString(clip(c.Content, limit))
			sb.WriteString("\n")
		}
	}
	if len(in.Related) > 0 {
		sb.WriteString("\nRelated issues already reported on other pages (cite their id in relatedIssueIds when an issue here concerns the same item; do not report them again):\n")
		for _, f := range in.Related {
			sb.WriteString(fmt.Sprintf("- %s (page %d, %s): %q\n", f.ID, f.PageNumber, f.Category, f.AnchorText))
		}
	}
	sb.WriteString("---\n")
	sb.WriteString(u.Content)
	return sb.String()
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
