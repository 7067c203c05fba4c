package highlight

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
)

// LinkKind says what two linked findings have in common.
type LinkKind string

const (
	LinkSameAccount  LinkKind = "same_account"
	LinkSameCategory LinkKind = "same_category"
	LinkRelated      LinkKind = "related"
)

// Link connects the first regions of two related findings on different pages.
type Link struct {
	ID                string       `json:"id"`
	Kind              LinkKind     `json:"linkKind"`
	RelationshipLabel string       `json:"relationshipLabel"`
	FromFindingID     string       `json:"fromFindingId"`
	ToFindingID       string       `json:"toFindingId"`
	FromRegionID      string       `json:"fromRegionId"`
	ToRegionID        string       `json:"toRegionId"`
	FromPage          int          `json:"fromPage"`
	ToPage            int          `json:"toPage"`
	FromRect          doctree.Rect `json:"fromRect"`
	ToRect            doctree.Rect `json:"toRect"`
}

var linkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("docaudit.link"))

// BuildLinks materializes declared finding relations against the regions
// produced for each finding. A relation becomes a link only when both
// findings have regions and those regions are on different pages. Each
// unordered pair yields at most one link, oriented from the finding that
// declared it first.
func BuildLinks(findings []extract.Finding, regions []coordmap.Region) []Link {
	first := make(map[string]coordmap.Region)
	for _, r := range regions {
		if _, ok := first[r.Metadata.FindingID]; !ok {
			first[r.Metadata.FindingID] = r
		}
	}

	byID := make(map[string]*extract.Finding, len(findings))
	for i := range findings {
		byID[findings[i].ID] = &findings[i]
	}

	seen := make(map[[2]string]bool)
	var links []Link
	for _, f := range findings {
		from, ok := first[f.ID]
		if !ok {
			continue
		}
		for _, rel := range f.RelatedFindingIDs {
			if rel == f.ID {
				continue
			}
			to, ok := first[rel]
			if !ok || to.Page == from.Page {
				continue
			}
			key := [2]string{f.ID, rel}
			if rel < f.ID {
				key = [2]string{rel, f.ID}
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			kind, label := relationship(&f, byID[rel], to.Page)
			links = append(links, Link{
				ID:                uuid.NewSHA1(linkNamespace, []byte(from.ID+"|"+to.ID)).String(),
				Kind:              kind,
				RelationshipLabel: label,
				FromFindingID:     f.ID,
				ToFindingID:       rel,
				FromRegionID:      from.ID,
				ToRegionID:        to.ID,
				FromPage:          from.Page,
				ToPage:            to.Page,
				FromRect:          from.Rect,
				ToRect:            to.Rect,
			})
		}
	}
	return links
}

// relationship classifies a link from a to b. b may be nil when the
// related finding is not in the set; the link is then generic.
func relationship(a, b *extract.Finding, toPage int) (LinkKind, string) {
	if b == nil {
		return LinkRelated, fmt.Sprintf("Related issue on page %d", toPage)
	}
	if id := sharedIdentifier(a, b); id != "" {
		return LinkSameAccount, fmt.Sprintf("Same account %s on page %d", id, toPage)
	}
	if a.Category != "" && a.Category == b.Category {
		return LinkSameCategory, fmt.Sprintf("Related %s on page %d", strings.ReplaceAll(a.Category, "_", " "), toPage)
	}
	return LinkRelated, fmt.Sprintf("Related issue on page %d", toPage)
}

func linkTitle(l Link) string {
	if l.RelationshipLabel != "" {
		return l.RelationshipLabel
	}
	return fmt.Sprintf("Related finding on page %d", l.ToPage)
}

func sharedIdentifier(a, b *extract.Finding) string {
	ids := make(map[string]bool)
	for _, id := range doctree.AccountIdentifiers(a.AnchorText + "\n" + a.Description) {
		ids[doctree.NormalizeIdentifier(id)] = true
	}
	for _, id := range doctree.AccountIdentifiers(b.AnchorText + "\n" + b.Description) {
		if ids[doctree.NormalizeIdentifier(id)] {
			return id
		}
	}
	return ""
}
