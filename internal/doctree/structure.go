package doctree

// Family is the detected document family.
type Family string

const (
	FamilyCreditReport Family = "credit_report"
	FamilyGeneric      Family = "generic"
)

// Section is a declared page range with a semantic type.
type Section struct {
	Type      SemanticType `json:"type"`
	Title     string       `json:"title"`
	StartPage int          `json:"startPage"`
	EndPage   int          `json:"endPage"`
}

// Pages expands the section range.
func (s Section) Pages() []int {
	var out []int
	for p := s.StartPage; p <= s.EndPage; p++ {
		out = append(out, p)
	}
	return out
}

// SubSectionKind distinguishes account, dispute and payment entries.
type SubSectionKind string

const (
	SubAccount SubSectionKind = "account"
	SubDispute SubSectionKind = "dispute"
	SubPayment SubSectionKind = "payment"
)

// SubSection is a lightweight index entry into the document.
type SubSection struct {
	Kind       SubSectionKind `json:"kind"`
	Label      string         `json:"label"`
	Identifier string         `json:"identifier,omitempty"` // account-number-like
	Pages      []int          `json:"pages"`
	Text       string         `json:"text"`
	Derogatory bool           `json:"derogatory,omitempty"`
}

// Structure is built once per run by the structural detection collaborator.
type Structure struct {
	Family   Family       `json:"family"`
	Sections []Section    `json:"sections"`
	Accounts []SubSection `json:"accounts"`
	Disputes []SubSection `json:"disputes"`
	Payments []SubSection `json:"payments"`
	// ComplexPages lists pages with many tables or dense content.
	ComplexPages []int `json:"complexPages"`
}

// SubSections returns accounts, disputes and payments in that order.
func (s *Structure) SubSections() []SubSection {
	out := make([]SubSection, 0, len(s.Accounts)+len(s.Disputes)+len(s.Payments))
	out = append(out, s.Accounts...)
	out = append(out, s.Disputes...)
	out = append(out, s.Payments...)
	return out
}
