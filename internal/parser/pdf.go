package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

const (
	defaultPageWidth  = 612.0 // US Letter, points
	defaultPageHeight = 792.0

	rowTolerance        = 3.0 // points
	wordSpaceMultiplier = 0.3 // fraction of font size
	ascentRatio         = 0.8
)

// PDFExtractor reads page text and glyph geometry. Tokens are word-level
// boxes in points with a top-left origin. If the Go library yields no text
// it falls back to pdftotext for page text only.
type PDFExtractor struct {
	FallbackPdftotext bool
	Log               *slog.Logger
}

func (p *PDFExtractor) Extract(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	doc := &doctree.Document{
		Title:    titleFromFilename(filename),
		Filename: filename,
		MimeType: "application/pdf",
		Data:     data,
	}

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if !p.FallbackPdftotext {
			return nil, fmt.Errorf("open pdf: %w", err)
		}
		return p.fallback(doc, data, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page, err := extractPage(reader, i)
		if err != nil {
			log.Warn("skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		doc.Pages = append(doc.Pages, page)
	}

	if !hasText(doc) && p.FallbackPdftotext {
		return p.fallback(doc, data, fmt.Errorf("no extractable text"))
	}
	return doc, nil
}

// extractPage converts one page, turning panics from malformed content
// streams into errors so a single bad page never aborts the document.
func extractPage(reader *pdflib.Reader, n int) (page doctree.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()

	pg := reader.Page(n)
	if pg.V.IsNull() {
		return doctree.Page{}, fmt.Errorf("page %d missing", n)
	}
	box := mediaBox(pg)
	page = doctree.Page{
		Number: n,
		Width:  box.w,
		Height: box.h,
		Source: doctree.SourceVector,
	}
	page.Tokens = glyphsToTokens(pg.Content().Text, n, box)
	page.Text = tokensToText(page.Tokens)
	return page, nil
}

// pageBox is a page's MediaBox: its lower-left origin in PDF user space
// and its size.
type pageBox struct {
	x0, y0 float64
	w, h   float64
}

// mediaBox reads the page box, walking up the page tree for inherited boxes.
func mediaBox(pg pdflib.Page) pageBox {
	v := pg.V
	for depth := 0; depth < 16 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdflib.Array && box.Len() == 4 {
			b := pageBox{x0: box.Index(0).Float64(), y0: box.Index(1).Float64()}
			b.w = box.Index(2).Float64() - b.x0
			b.h = box.Index(3).Float64() - b.y0
			if b.w > 0 && b.h > 0 {
				return b
			}
		}
		v = v.Key("Parent")
	}
	return pageBox{w: defaultPageWidth, h: defaultPageHeight}
}

type glyph struct {
	s        string
	x, y, w  float64
	fontSize float64
}

// glyphsToTokens groups glyphs into rows by baseline, then into words by
// horizontal gap, and converts baselines to top-left boxes relative to the
// page box origin.
func glyphsToTokens(texts []pdflib.Text, page int, box pageBox) []doctree.PageToken {
	pageHeight := box.h
	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		fs := t.FontSize
		if fs <= 0 {
			fs = 10
		}
		glyphs = append(glyphs, glyph{s: t.S, x: t.X - box.x0, y: t.Y - box.y0, w: t.W, fontSize: fs})
	}
	glyphs = orderGlyphs(glyphs)

	var tokens []doctree.PageToken
	var word []glyph
	flush := func() {
		if len(word) == 0 {
			return
		}
		var sb strings.Builder
		x0, x1 := word[0].x, word[0].x+word[0].w
		y, fs := word[0].y, word[0].fontSize
		for _, g := range word {
			sb.WriteString(g.s)
			x0 = math.Min(x0, g.x)
			x1 = math.Max(x1, g.x+g.w)
			fs = math.Max(fs, g.fontSize)
		}
		text := strings.TrimSpace(sb.String())
		word = word[:0]
		if text == "" || x1 <= x0 {
			return
		}
		top := pageHeight - (y + fs*ascentRatio)
		if top < 0 {
			top = 0
		}
		h := fs
		if top+h > pageHeight {
			h = pageHeight - top
		}
		tokens = append(tokens, doctree.PageToken{
			Text:     text,
			X:        x0,
			Y:        top,
			Width:    x1 - x0,
			Height:   h,
			Page:     page,
			FontSize: fs,
		})
	}

	for i, g := range glyphs {
		if strings.TrimSpace(g.s) == "" {
			flush()
			continue
		}
		if len(word) > 0 {
			prev := glyphs[i-1]
			newRow := math.Abs(prev.y-g.y) > rowTolerance
			gap := g.x - (prev.x + prev.w)
			if newRow || gap > wordSpaceMultiplier*g.fontSize {
				flush()
			}
		}
		word = append(word, g)
	}
	flush()
	return tokens
}

// orderGlyphs sorts glyphs into rows top to bottom (PDF y grows upward) and
// left to right within a row. Every glyph in a row snaps to the row's
// first baseline.
func orderGlyphs(glyphs []glyph) []glyph {
	sort.SliceStable(glyphs, func(i, j int) bool { return glyphs[i].y > glyphs[j].y })
	out := make([]glyph, 0, len(glyphs))
	for start := 0; start < len(glyphs); {
		end := start + 1
		for end < len(glyphs) && glyphs[start].y-glyphs[end].y <= rowTolerance {
			end++
		}
		baseline := glyphs[start].y
		row := glyphs[start:end]
		sort.SliceStable(row, func(i, j int) bool { return row[i].x < row[j].x })
		for _, g := range row {
			g.y = baseline
			out = append(out, g)
		}
		start = end
	}
	return out
}

// tokensToText rebuilds page text: tokens on one row are space-joined,
// rows are newline-joined, and a vertical gap over 1.5 line heights starts
// a new paragraph.
func tokensToText(tokens []doctree.PageToken) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			prev := tokens[i-1]
			switch {
			case math.Abs(prev.Y-t.Y) <= rowTolerance:
				sb.WriteByte(' ')
			case t.Y-prev.Y > 1.5*math.Max(prev.Height, 1)+prev.Height:
				sb.WriteString("\n\n")
			default:
				sb.WriteByte('\n')
			}
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func hasText(doc *doctree.Document) bool {
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// fallback fills page text from pdftotext. Pages get no tokens, so every
// finding on them is reported as unmapped.
func (p *PDFExtractor) fallback(doc *doctree.Document, data []byte, cause error) (*doctree.Document, error) {
	tmp, err := os.CreateTemp("", "docaudit-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	text, err := extractPdftotext(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w (after %v)", err, cause)
	}

	sizes := make(map[int][2]float64, len(doc.Pages))
	for _, pg := range doc.Pages {
		sizes[pg.Number] = [2]float64{pg.Width, pg.Height}
	}
	doc.Pages = nil
	for i, pageText := range splitPages(text) {
		n := i + 1
		size, ok := sizes[n]
		if !ok {
			size = [2]float64{defaultPageWidth, defaultPageHeight}
		}
		doc.Pages = append(doc.Pages, doctree.Page{
			Number: n,
			Width:  size[0],
			Height: size[1],
			Text:   strings.TrimSpace(pageText),
			Source: doctree.SourceVector,
		})
	}
	return doc, nil
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	// pdftotext terminates the last page with a form feed.
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
