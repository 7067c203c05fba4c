package highlight

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/doctree"
)

const xfdfNamespace = "http://ns.adobe.com/xfdf/"

// AnnotationStrategy emits native PDF annotations as an XFDF document that
// any PDF viewer can import next to the untouched original.
type AnnotationStrategy struct{}

func (s *AnnotationStrategy) Name() Mode { return ModeAnnotation }

func (s *AnnotationStrategy) Capabilities() Capabilities {
	return Capabilities{CanExport: true, SupportsInteractivity: true, SupportsCrossPageLinks: true}
}

func (s *AnnotationStrategy) Execute(ctx context.Context, in Input) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename := ""
	if in.Document != nil {
		filename = in.Document.Filename
	}
	data, err := EncodeXFDF(filename, in.Pages(), in.Regions, in.Links)
	if err != nil {
		return nil, err
	}
	return &Artifact{Strategy: ModeAnnotation, Kind: KindAnnotation, MimeType: "application/vnd.adobe.xfdf", Data: data}, nil
}

type xfdfDoc struct {
	XMLName xml.Name   `xml:"xfdf"`
	Xmlns   string     `xml:"xmlns,attr"`
	Annots  xfdfAnnots `xml:"annots"`
	File    *xfdfFile  `xml:"f,omitempty"`
}

type xfdfFile struct {
	Href string `xml:"href,attr"`
}

type xfdfAnnots struct {
	Highlights []xfdfHighlight `xml:"highlight"`
	Links      []xfdfLink      `xml:"link"`
}

type xfdfHighlight struct {
	Page     int    `xml:"page,attr"`
	Rect     string `xml:"rect,attr"`
	Coords   string `xml:"coords,attr"`
	Color    string `xml:"color,attr"`
	Opacity  string `xml:"opacity,attr"`
	Name     string `xml:"name,attr"`
	Title    string `xml:"title,attr"`
	Subject  string `xml:"subject,attr"`
	Contents string `xml:"contents"`
}

type xfdfLink struct {
	Page    int     `xml:"page,attr"`
	Rect    string  `xml:"rect,attr"`
	Name    string  `xml:"name,attr"`
	Subject string  `xml:"subject,attr,omitempty"`
	Title   string  `xml:"title,attr,omitempty"`
	Dest    xfdfXYZ `xml:"OnActivation>Action>GoTo>Dest>XYZ"`
}

type xfdfXYZ struct {
	Page int    `xml:"page,attr"`
	Left string `xml:"left,attr"`
	Top  string `xml:"top,attr"`
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// pdfRect converts a top-left rectangle to PDF user space (bottom-left
// origin) as "x1,y1,x2,y2".
func pdfRect(r doctree.Rect, pageHeight float64) (string, [4]float64) {
	x1, x2 := r.X, r.Right()
	y1, y2 := pageHeight-r.Bottom(), pageHeight-r.Y
	return num(x1) + "," + num(y1) + "," + num(x2) + "," + num(y2), [4]float64{x1, y1, x2, y2}
}

// EncodeXFDF renders regions as highlight annotations and links as GoTo
// link annotations. XFDF page indexes are zero-based.
func EncodeXFDF(filename string, pages []PageInfo, regions []coordmap.Region, links []Link) ([]byte, error) {
	heights := make(map[int]float64, len(pages))
	for _, p := range pages {
		heights[p.Number] = p.Height
	}
	height := func(page int) (float64, error) {
		h, ok := heights[page]
		if !ok || h <= 0 {
			return 0, fmt.Errorf("xfdf: no size for page %d", page)
		}
		return h, nil
	}

	doc := xfdfDoc{Xmlns: xfdfNamespace}
	if filename != "" {
		doc.File = &xfdfFile{Href: filename}
	}
	for _, r := range regions {
		h, err := height(r.Page)
		if err != nil {
			return nil, err
		}
		rect, c := pdfRect(r.Rect, h)
		// QuadPoints order: upper-left, upper-right, lower-left, lower-right.
		coords := fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s",
			num(c[0]), num(c[3]), num(c[2]), num(c[3]), num(c[0]), num(c[1]), num(c[2]), num(c[1]))
		doc.Annots.Highlights = append(doc.Annots.Highlights, xfdfHighlight{
			Page:     r.Page - 1,
			Rect:     rect,
			Coords:   coords,
			Color:    r.Color,
			Opacity:  num(r.Opacity),
			Name:     r.ID,
			Title:    "docaudit",
			Subject:  r.Metadata.Category,
			Contents: r.Tooltip,
		})
	}
	for _, l := range links {
		fromH, err := height(l.FromPage)
		if err != nil {
			return nil, err
		}
		toH, err := height(l.ToPage)
		if err != nil {
			return nil, err
		}
		rect, _ := pdfRect(l.FromRect, fromH)
		doc.Annots.Links = append(doc.Annots.Links, xfdfLink{
			Page:    l.FromPage - 1,
			Rect:    rect,
			Name:    l.ID,
			Subject: string(l.Kind),
			Title:   linkTitle(l),
			Dest:    xfdfXYZ{Page: l.ToPage - 1, Left: num(l.ToRect.X), Top: num(toH - l.ToRect.Y)},
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode xfdf: %w", err)
	}
	return buf.Bytes(), nil
}
