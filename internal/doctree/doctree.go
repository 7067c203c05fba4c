package doctree

import (
	"math"
	"strings"
)

// Rect is an axis-aligned rectangle with a top-left origin.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	x0 := math.Min(r.X, o.X)
	y0 := math.Min(r.Y, o.Y)
	x1 := math.Max(r.Right(), o.Right())
	y1 := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersects reports whether r and o overlap with positive area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Near reports whether the gap between r and o is at most tol on both axes.
// Overlapping rectangles have a gap of zero.
func (r Rect) Near(o Rect, tol float64) bool {
	dx := math.Max(0, math.Max(o.X-r.Right(), r.X-o.Right()))
	dy := math.Max(0, math.Max(o.Y-r.Bottom(), r.Y-o.Bottom()))
	return dx <= tol && dy <= tol
}

// Within reports whether r fits inside a w×h page, allowing eps of slack.
func (r Rect) Within(w, h, eps float64) bool {
	return r.X >= -eps && r.Y >= -eps && r.Right() <= w+eps && r.Bottom() <= h+eps
}

// Scale multiplies every component by f.
func (r Rect) Scale(f float64) Rect {
	return Rect{X: r.X * f, Y: r.Y * f, Width: r.Width * f, Height: r.Height * f}
}

// PageToken is one lexical unit with its bounding box on a page.
// Coordinates are page-local with a top-left origin, in the page's source space
// (points for vector pages, pixels for image pages).
type PageToken struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Page     int     `json:"page"`
	FontSize float64 `json:"fontSize,omitempty"`
}

func (t PageToken) Rect() Rect {
	return Rect{X: t.X, Y: t.Y, Width: t.Width, Height: t.Height}
}

// SourceKind records how a page's tokens were produced.
type SourceKind string

const (
	SourceVector SourceKind = "vector"
	SourceImage  SourceKind = "image"
)

// PageImage describes a rasterized page.
type PageImage struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	DPI      float64 `json:"dpi"`
	MimeType string  `json:"mimeType,omitempty"`
	Data     []byte  `json:"-"`
}

// Page is the per-page output of the text extraction collaborator.
type Page struct {
	Number int         `json:"number"`
	Width  float64     `json:"width"`  // points
	Height float64     `json:"height"` // points
	Text   string      `json:"text"`
	Tokens []PageToken `json:"tokens,omitempty"`
	Image  *PageImage  `json:"image,omitempty"`
	Source SourceKind  `json:"source"`
	Tables int         `json:"tables,omitempty"`
}

// PointsPerPixel returns the pixel→point scale for image-sourced pages, or 1.
func (p *Page) PointsPerPixel() float64 {
	if p.Source == SourceImage && p.Image != nil && p.Image.DPI > 0 {
		return 72 / p.Image.DPI
	}
	return 1
}

// Paragraphs splits the page text on blank lines.
func (p *Page) Paragraphs() []string {
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(p.Text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

// Document is an ordered set of pages plus the original bytes when available.
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Pages    []Page `json:"pages"`
	Data     []byte `json:"-"`
}

// Page returns the page with the given number, or nil.
func (d *Document) Page(n int) *Page {
	for i := range d.Pages {
		if d.Pages[i].Number == n {
			return &d.Pages[i]
		}
	}
	return nil
}

// PageNumbers lists every page number in document order.
func (d *Document) PageNumbers() []int {
	out := make([]int, 0, len(d.Pages))
	for _, p := range d.Pages {
		out = append(out, p.Number)
	}
	return out
}
