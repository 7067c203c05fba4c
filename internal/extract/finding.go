package extract

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/textnorm"
)

// SeverityClass is the display class of a finding.
type SeverityClass string

const (
	ClassCritical  SeverityClass = "critical"
	ClassWarning   SeverityClass = "warning"
	ClassAttention SeverityClass = "attention"
	ClassInfo      SeverityClass = "info"
)

// Severity is the model's impact estimate.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Source records which detector produced a finding.
type Source string

const (
	SourceModel   Source = "model"
	SourcePattern Source = "pattern"
)

// MaxAnchorChars caps anchor text length.
const MaxAnchorChars = 120

// Finding is one reported issue. AnchorText is always a literal substring
// of the analyzed content; Hint holds model-reported coordinates, which are
// never used for placement.
type Finding struct {
	ID                string        `json:"id"`
	SeverityClass     SeverityClass `json:"severityClass"`
	Category          string        `json:"category"`
	Severity          Severity      `json:"severity"`
	Description       string        `json:"description"`
	PageNumber        int           `json:"pageNumber"`
	AnchorText        string        `json:"anchorText"`
	RecommendedAction string        `json:"recommendedAction,omitempty"`
	RelatedFindingIDs []string      `json:"relatedFindingIds,omitempty"`
	UnitID            string        `json:"unitId,omitempty"`
	Source            Source        `json:"source"`
	Hint              *doctree.Rect `json:"hint,omitempty"`
}

var findingNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("docaudit.finding"))

// FindingID derives a stable ID from where a finding came from and what it
// anchors to.
func FindingID(unitID string, index int, page int, anchor string) string {
	key := fmt.Sprintf("%s|%d|%d|%s", unitID, index, page, textnorm.Join(anchor))
	return uuid.NewSHA1(findingNamespace, []byte(key)).String()
}

// DedupKey identifies findings that describe the same thing.
func (f *Finding) DedupKey() string {
	return fmt.Sprintf("%d|%s|%s", f.PageNumber, textnorm.Join(f.AnchorText), strings.ToLower(f.Category))
}

// Merge appends extra findings to base, skipping any whose DedupKey is
// already present. Order is preserved.
func Merge(base, extra []Finding) []Finding {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]Finding, 0, len(base)+len(extra))
	for _, group := range [][]Finding{base, extra} {
		for _, f := range group {
			k := f.DedupKey()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, f)
		}
	}
	return out
}
