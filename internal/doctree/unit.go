package doctree

// SemanticType classifies a unit's content.
type SemanticType string

const (
	TypePersonalInfo  SemanticType = "personal_info"
	TypeAccount       SemanticType = "account"
	TypeDispute       SemanticType = "dispute"
	TypePayment       SemanticType = "payment"
	TypeInquiry       SemanticType = "inquiry"
	TypePublicRecord  SemanticType = "public_record"
	TypeSummary       SemanticType = "summary"
	TypeComplexPage   SemanticType = "complex_page"
	TypeParagraph     SemanticType = "paragraph"
	TypeSection       SemanticType = "section"
)

// Priority orders dispatch. Lower rank is dispatched first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns 0 for critical through 3 for low; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Granularity records which segmentation pass produced a unit.
type Granularity string

const (
	GranularitySection    Granularity = "section"
	GranularitySubSection Granularity = "subsection"
	GranularityPage       Granularity = "page"
	GranularityParagraph  Granularity = "paragraph"
)

// StructuralElements summarizes what a unit contains.
type StructuralElements struct {
	Granularity Granularity `json:"granularity"`
	Tables      int         `json:"tables"`
	Identifiers []string    `json:"identifiers,omitempty"`
	Truncated   bool        `json:"truncated,omitempty"`
	Oversized   bool        `json:"oversized,omitempty"`
	HasOverlap  bool        `json:"hasOverlap,omitempty"`
}

// Unit is one analyzable chunk of the document.
type Unit struct {
	ID                 string             `json:"id"`
	Index              int                `json:"index"`
	Title              string             `json:"title"`
	Content            string             `json:"content"`
	SemanticType       SemanticType       `json:"semanticType"`
	PageNumbers        []int              `json:"pageNumbers"`
	TokenCount         int                `json:"tokenCount"`
	Priority           Priority           `json:"priority"`
	Embedding          []float32          `json:"-"`
	RelatedUnitIDs     []string           `json:"relatedUnitIds"`
	StructuralElements StructuralElements `json:"structuralElements"`
}

// HasPage reports whether the unit covers page n.
func (u *Unit) HasPage(n int) bool {
	for _, p := range u.PageNumbers {
		if p == n {
			return true
		}
	}
	return false
}
