package coordmap

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
)

// DefaultOpacity is applied to every highlight region.
const DefaultOpacity = 0.4

// KindHighlight is the only region kind produced by the mapper.
const KindHighlight = "highlight"

// Metadata ties a region back to its finding.
type Metadata struct {
	FindingID string                `json:"findingId"`
	Severity  extract.SeverityClass `json:"severity"`
	Category  string                `json:"category"`
}

// Region is a highlight rectangle in page points, top-left origin.
type Region struct {
	ID       string       `json:"id"`
	Page     int          `json:"page"`
	Rect     doctree.Rect `json:"rect"`
	Color    string       `json:"color"`
	Opacity  float64      `json:"opacity"`
	Kind     string       `json:"kind"`
	Tooltip  string       `json:"tooltip"`
	Metadata Metadata     `json:"metadata"`
}

var severityColors = map[extract.SeverityClass]string{
	extract.ClassCritical:  "#FF0000",
	extract.ClassWarning:   "#FF8C00",
	extract.ClassAttention: "#FFD700",
	extract.ClassInfo:      "#1E90FF",
}

// ColorFor returns the highlight color of a severity class.
func ColorFor(c extract.SeverityClass) string {
	if col, ok := severityColors[c]; ok {
		return col
	}
	return severityColors[extract.ClassInfo]
}

// Tooltip renders the hover text of a finding's regions.
func Tooltip(f *extract.Finding) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(string(f.SeverityClass)))
	sb.WriteString(" · ")
	sb.WriteString(f.Category)
	sb.WriteString("\n")
	sb.WriteString(f.Description)
	if f.RecommendedAction != "" {
		sb.WriteString("\nAction: ")
		sb.WriteString(f.RecommendedAction)
	}
	return sb.String()
}

var regionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("docaudit.region"))

func regionID(findingID string, page, index int) string {
	return uuid.NewSHA1(regionNamespace, []byte(fmt.Sprintf("%s|%d|%d", findingID, page, index))).String()
}

func newRegion(f *extract.Finding, page, index int, r doctree.Rect) Region {
	return Region{
		ID:      regionID(f.ID, page, index),
		Page:    page,
		Rect:    r,
		Color:   ColorFor(f.SeverityClass),
		Opacity: DefaultOpacity,
		Kind:    KindHighlight,
		Tooltip: Tooltip(f),
		Metadata: Metadata{
			FindingID: f.ID,
			Severity:  f.SeverityClass,
			Category:  f.Category,
		},
	}
}
