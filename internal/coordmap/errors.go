package coordmap

import (
	"fmt"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// UnmappableFindingError reports a finding whose anchor does not occur on
// its declared page.
type UnmappableFindingError struct {
	FindingID string `json:"findingId"`
	Page      int    `json:"page"`
	Anchor    string `json:"anchor"`
	Reason    string `json:"reason"`
}

func (e *UnmappableFindingError) Error() string {
	return fmt.Sprintf("finding %s unmappable on page %d: %s", e.FindingID, e.Page, e.Reason)
}

// GeometryError reports a rectangle rejected during validation.
type GeometryError struct {
	FindingID string       `json:"findingId"`
	Page      int          `json:"page"`
	Rect      doctree.Rect `json:"rect"`
	Reason    string       `json:"reason"`
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("region for finding %s on page %d rejected: %s (%.1f,%.1f %.1fx%.1f)",
		e.FindingID, e.Page, e.Reason, e.Rect.X, e.Rect.Y, e.Rect.Width, e.Rect.Height)
}
