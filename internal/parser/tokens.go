package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// TokenPayload is the coordinate-extraction format produced by the
// rasterizer/side-car: a flat token list plus optional per-page metadata.
type TokenPayload struct {
	Title       string              `json:"title,omitempty"`
	TextTokens  []doctree.PageToken `json:"textTokens"`
	Pages       []PageMeta          `json:"pages,omitempty"`
	TotalTokens int                 `json:"totalTokens,omitempty"`
}

// PageMeta describes one page of a TokenPayload.
type PageMeta struct {
	Number int                `json:"pageNumber"`
	Width  float64            `json:"width"`
	Height float64            `json:"height"`
	Text   string             `json:"text,omitempty"`
	Image  *doctree.PageImage `json:"image,omitempty"`
}

// TokenExtractor builds pages from a TokenPayload. Pages with an image
// descriptor are image-sourced: their tokens are in pixels and their
// width/height are derived from the image size and DPI.
type TokenExtractor struct{}

func (p *TokenExtractor) Extract(r io.Reader, filename string) (*doctree.Document, error) {
	var payload TokenPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}
	doc := PagesFromTokens(payload)
	doc.Filename = filename
	if doc.Title == "" {
		doc.Title = titleFromFilename(filename)
	}
	doc.MimeType = "application/json"
	return doc, nil
}

// PagesFromTokens groups a flat token list into pages.
func PagesFromTokens(payload TokenPayload) *doctree.Document {
	doc := &doctree.Document{Title: payload.Title}

	meta := make(map[int]PageMeta, len(payload.Pages))
	for _, m := range payload.Pages {
		meta[m.Number] = m
	}
	byPage := make(map[int][]doctree.PageToken)
	for _, t := range payload.TextTokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		byPage[t.Page] = append(byPage[t.Page], t)
	}

	numbers := make([]int, 0, len(meta)+len(byPage))
	seen := map[int]bool{}
	for n := range meta {
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	for n := range byPage {
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		m := meta[n]
		page := doctree.Page{
			Number: n,
			Width:  m.Width,
			Height: m.Height,
			Tokens: byPage[n],
			Image:  m.Image,
			Source: doctree.SourceVector,
		}
		if m.Image != nil && m.Image.DPI > 0 {
			page.Source = doctree.SourceImage
			scale := 72 / m.Image.DPI
			page.Width = float64(m.Image.Width) * scale
			page.Height = float64(m.Image.Height) * scale
		}
		if page.Width <= 0 || page.Height <= 0 {
			page.Width, page.Height = defaultPageWidth, defaultPageHeight
		}
		page.Text = m.Text
		if page.Text == "" {
			page.Text = tokensToText(sortedForReading(page.Tokens))
		}
		doc.Pages = append(doc.Pages, page)
	}
	return doc
}

// sortedForReading copies tokens into reading order: rows top to bottom,
// where a row is a run of tokens whose tops lie within half a token height,
// then left to right.
func sortedForReading(tokens []doctree.PageToken) []doctree.PageToken {
	out := append([]doctree.PageToken(nil), tokens...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Y < out[j].Y })
	for start := 0; start < len(out); {
		tol := math.Max(rowTolerance, out[start].Height/2)
		end := start + 1
		for end < len(out) && out[end].Y-out[start].Y <= tol {
			end++
		}
		row := out[start:end]
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		start = end
	}
	return out
}
