package latechunk

import (
	"sort"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// RelationRules decides when two units are related.
type RelationRules struct {
	PageWindow int
	Threshold  float64
}

// Link relates units i and j (indices into units) when any rule holds:
// same semantic type with pages within the window, raw-embedding cosine
// above the threshold, or a shared account identifier between an account
// unit and a dispute unit. vecs may hold nil for units that failed to
// embed; those only take part in the non-similarity rules.
// Relations are symmetric, deduplicated and sorted by unit index.
func (r RelationRules) Link(units []doctree.Unit, vecs [][]float32) int {
	related := make([]map[int]bool, len(units))
	for i := range related {
		related[i] = map[int]bool{}
	}
	edges := 0
	for i := 0; i < len(units); i++ {
		for j := i + 1; j < len(units); j++ {
			if !r.related(&units[i], &units[j], vecAt(vecs, i), vecAt(vecs, j)) {
				continue
			}
			related[i][j] = true
			related[j][i] = true
			edges++
		}
	}
	for i := range units {
		idx := make([]int, 0, len(related[i]))
		for j := range related[i] {
			idx = append(idx, j)
		}
		sort.Ints(idx)
		ids := make([]string, 0, len(idx))
		for _, j := range idx {
			ids = append(ids, units[j].ID)
		}
		units[i].RelatedUnitIDs = ids
	}
	return edges
}

func (r RelationRules) related(a, b *doctree.Unit, va, vb []float32) bool {
	if a.SemanticType == b.SemanticType && pageDistance(a.PageNumbers, b.PageNumbers) <= r.PageWindow {
		return true
	}
	if va != nil && vb != nil && Cosine(va, vb) > r.Threshold {
		return true
	}
	return accountDisputePair(a, b) && shareIdentifier(a, b)
}

func vecAt(vecs [][]float32, i int) []float32 {
	if i < len(vecs) {
		return vecs[i]
	}
	return nil
}

func pageDistance(a, b []int) int {
	best := -1
	for _, x := range a {
		for _, y := range b {
			d := x - y
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	if best < 0 {
		return int(^uint(0) >> 1)
	}
	return best
}

func accountDisputePair(a, b *doctree.Unit) bool {
	return (a.SemanticType == doctree.TypeAccount && b.SemanticType == doctree.TypeDispute) ||
		(a.SemanticType == doctree.TypeDispute && b.SemanticType == doctree.TypeAccount)
}

func shareIdentifier(a, b *doctree.Unit) bool {
	ids := identifiers(a)
	for id := range identifiers(b) {
		if ids[id] {
			return true
		}
	}
	return false
}

func identifiers(u *doctree.Unit) map[string]bool {
	out := map[string]bool{}
	src := u.StructuralElements.Identifiers
	if len(src) == 0 {
		src = doctree.AccountIdentifiers(u.Content)
	}
	for _, id := range src {
		out[doctree.NormalizeIdentifier(id)] = true
	}
	return out
}
