package highlight

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"
)

// highlightMap draws a stand-alone PDF with one sheet per page, sized like
// the original, holding the highlight rectangles, short labels, and
// clickable links between related regions. It is the binary export when no
// mutated original is available.
func highlightMap(res *Result) ([]byte, error) {
	if len(res.Pages) == 0 {
		return nil, fmt.Errorf("export binary: result has no pages")
	}
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	title := res.Title
	if title == "" {
		title = "docaudit"
	}
	pdf.SetTitle(title+" highlight map", true)
	pdf.SetCreator("docaudit", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	sheet := make(map[int]int, len(res.Pages))
	for i, p := range res.Pages {
		sheet[p.Number] = i + 1
	}
	targets := make(map[string]int)
	for _, l := range res.Input.Links {
		if _, ok := targets[l.ToRegionID]; !ok {
			targets[l.ToRegionID] = pdf.AddLink()
		}
	}

	for _, p := range res.Pages {
		w, h := p.Width, p.Height
		if w <= 0 || h <= 0 {
			w, h = 612, 792
		}
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
		pdf.SetDrawColor(200, 200, 200)
		pdf.Rect(0.5, 0.5, w-1, h-1, "D")
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.Text(8, h-8, tr(fmt.Sprintf("%s  page %d", title, p.Number)))

		for _, r := range res.Input.Regions {
			if r.Page != p.Number {
				continue
			}
			cr, cg, cb := hexColor(r.Color)
			pdf.SetAlpha(r.Opacity, "Normal")
			pdf.SetFillColor(cr, cg, cb)
			pdf.Rect(r.Rect.X, r.Rect.Y, r.Rect.Width, r.Rect.Height, "F")
			pdf.SetAlpha(1, "Normal")
			pdf.SetTextColor(cr, cg, cb)
			pdf.SetFont("Helvetica", "B", 6)
			pdf.Text(r.Rect.X, r.Rect.Y-1.5, tr(r.Metadata.Category))
			if id, ok := targets[r.ID]; ok {
				pdf.SetLink(id, r.Rect.Y, sheet[p.Number])
			}
		}
		for _, l := range res.Input.Links {
			if l.FromPage != p.Number {
				continue
			}
			if _, ok := sheet[l.ToPage]; !ok {
				continue
			}
			pdf.Link(l.FromRect.X, l.FromRect.Y, l.FromRect.Width, l.FromRect.Height, targets[l.ToRegionID])
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("export binary: %w", err)
	}
	return buf.Bytes(), nil
}

// hexColor parses "#RRGGBB", defaulting to black.
func hexColor(s string) (int, int, int) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
