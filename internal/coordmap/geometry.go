package coordmap

import (
	"math"
	"sort"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// PixelsToPoints converts an image-space rectangle to page points.
func PixelsToPoints(r doctree.Rect, dpi float64) doctree.Rect {
	if dpi <= 0 {
		return r
	}
	return r.Scale(72 / dpi)
}

// PointsToPixels is the inverse of PixelsToPoints.
func PointsToPixels(r doctree.Rect, dpi float64) doctree.Rect {
	if dpi <= 0 {
		return r
	}
	return r.Scale(dpi / 72)
}

// groupLines splits a matched token run into visual lines. A token joins
// the line whose top is within tol of its own; tol grows to a quarter of
// the font size for large type.
func groupLines(tokens []doctree.PageToken, tol float64) []doctree.Rect {
	type line struct {
		y    float64
		rect doctree.Rect
	}
	var lines []line
	for _, t := range tokens {
		lt := tol
		if t.FontSize > 0 {
			lt = math.Max(tol, t.FontSize/4)
		}
		joined := false
		for i := range lines {
			if math.Abs(lines[i].y-t.Y) <= lt {
				lines[i].rect = lines[i].rect.Union(t.Rect())
				joined = true
				break
			}
		}
		if !joined {
			lines = append(lines, line{y: t.Y, rect: t.Rect()})
		}
	}
	out := make([]doctree.Rect, len(lines))
	for i, l := range lines {
		out[i] = l.rect
	}
	return out
}

// mergeNear unions rectangles whose gap is within tol on both axes,
// repeating until no pair merges. The result is sorted top to bottom, then
// left to right.
func mergeNear(rects []doctree.Rect, tol float64) []doctree.Rect {
	out := append([]doctree.Rect(nil), rects...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(out) && !changed; i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Near(out[j], tol) {
					out[i] = out[i].Union(out[j])
					out = append(out[:j], out[j+1:]...)
					changed = true
					break
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
