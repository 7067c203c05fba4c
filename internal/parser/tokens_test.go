package parser

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dgallion1/docaudit/internal/doctree"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestPagesFromTokens(t *testing.T) {
	payload := TokenPayload{
		Title: "Scan",
		TextTokens: []doctree.PageToken{
			{Text: "Late", X: 10, Y: 30, Width: 30, Height: 10, Page: 1},
			{Text: "XXXX1234", X: 80, Y: 11, Width: 60, Height: 10, Page: 1},
			{Text: "Account", X: 10, Y: 10, Width: 60, Height: 10, Page: 1},
			{Text: "  ", X: 0, Y: 0, Width: 1, Height: 1, Page: 1},
			{Text: "Inquiry", X: 10, Y: 10, Width: 50, Height: 10, Page: 2},
		},
		Pages: []PageMeta{
			{Number: 1, Image: &doctree.PageImage{Width: 1224, Height: 1584, DPI: 144}},
		},
	}
	doc := PagesFromTokens(payload)

	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	p1 := doc.Pages[0]
	if p1.Source != doctree.SourceImage {
		t.Errorf("expected image source, got %s", p1.Source)
	}
	if p1.Width != 612 || p1.Height != 792 {
		t.Errorf("expected 612x792 points, got %vx%v", p1.Width, p1.Height)
	}
	if p1.PointsPerPixel() != 0.5 {
		t.Errorf("expected 0.5 points per pixel, got %v", p1.PointsPerPixel())
	}
	if len(p1.Tokens) != 3 {
		t.Errorf("expected blank token dropped, got %d tokens", len(p1.Tokens))
	}
	if p1.Text != "Account XXXX1234\nLate" {
		t.Errorf("unexpected reading-order text %q", p1.Text)
	}

	p2 := doc.Pages[1]
	if p2.Source != doctree.SourceVector || p2.Width != defaultPageWidth {
		t.Errorf("expected default vector page, got %+v", p2)
	}
}

func TestTokenExtractor_Extract(t *testing.T) {
	raw, err := json.Marshal(TokenPayload{
		TextTokens: []doctree.PageToken{{Text: "hello", X: 1, Y: 1, Width: 20, Height: 8, Page: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := (&TokenExtractor{}).Extract(strings.NewReader(string(raw)), "scan.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "scan" || doc.MimeType != "application/json" {
		t.Errorf("unexpected document metadata: %q %q", doc.Title, doc.MimeType)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Text != "hello" {
		t.Errorf("unexpected pages: %+v", doc.Pages)
	}

	if _, err := (&TokenExtractor{}).Extract(strings.NewReader("{"), "bad.json"); err == nil {
		t.Error("expected decode error")
	}
}
