package highlight

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/extract"
)

// OverlayPage is one page layer of an overlay: the regions drawn on it and
// the links leaving it.
type OverlayPage struct {
	Number  int               `json:"number"`
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
	Regions []coordmap.Region `json:"regions"`
	Links   []Link            `json:"links,omitempty"`
}

// OverlayStrategy describes highlights as an HTML overlay positioned over
// the rendered pages. It never touches the original document.
type OverlayStrategy struct{}

func (s *OverlayStrategy) Name() Mode { return ModeOverlay }

func (s *OverlayStrategy) Capabilities() Capabilities {
	return Capabilities{SupportsInteractivity: true, SupportsCrossPageLinks: true}
}

func (s *OverlayStrategy) Execute(ctx context.Context, in Input) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages := overlayPages(in)
	findings := make(map[string]*extract.Finding, len(in.Findings))
	for i := range in.Findings {
		findings[in.Findings[i].ID] = &in.Findings[i]
	}
	title := "docaudit"
	if in.Document != nil && in.Document.Title != "" {
		title = in.Document.Title
	}
	doc, err := renderOverlay(title, pages, findings)
	if err != nil {
		return nil, err
	}
	return &Artifact{Strategy: ModeOverlay, Kind: KindOverlay, MimeType: "text/html; charset=utf-8", Data: doc, Pages: pages}, nil
}

func overlayPages(in Input) []OverlayPage {
	var pages []OverlayPage
	index := make(map[int]int)
	for _, p := range in.Pages() {
		index[p.Number] = len(pages)
		pages = append(pages, OverlayPage{Number: p.Number, Width: p.Width, Height: p.Height, Regions: []coordmap.Region{}})
	}
	at := func(n int) *OverlayPage {
		i, ok := index[n]
		if !ok {
			index[n] = len(pages)
			pages = append(pages, OverlayPage{Number: n, Regions: []coordmap.Region{}})
			i = index[n]
		}
		return &pages[i]
	}
	for _, r := range in.Regions {
		p := at(r.Page)
		p.Regions = append(p.Regions, r)
	}
	for _, l := range in.Links {
		p := at(l.FromPage)
		p.Links = append(p.Links, l)
	}
	return pages
}

const overlayCSS = `.page{position:relative;margin:16px auto;border:1px solid #ccc;background:#fff}
.hl{position:absolute;cursor:pointer}
.hl .tip{display:none;position:absolute;top:100%;left:0;z-index:10;width:320px;padding:6px 8px;background:#222;color:#fff;font:12px sans-serif;opacity:1}
.hl:hover .tip{display:block}
.xlink{position:absolute;border:1px dashed #333}`

func elem(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func pt(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "pt"
}

func renderOverlay(title string, pages []OverlayPage, findings map[string]*extract.Finding) ([]byte, error) {
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	htmlEl := elem(atom.Html)
	root.AppendChild(htmlEl)

	head := elem(atom.Head)
	head.AppendChild(elem(atom.Meta, "charset", "utf-8"))
	t := elem(atom.Title)
	t.AppendChild(text(title))
	head.AppendChild(t)
	style := elem(atom.Style)
	style.AppendChild(text(overlayCSS))
	head.AppendChild(style)
	htmlEl.AppendChild(head)

	body := elem(atom.Body)
	htmlEl.AppendChild(body)

	md := goldmark.New()
	for _, p := range pages {
		sec := elem(atom.Section,
			"class", "page",
			"id", fmt.Sprintf("page-%d", p.Number),
			"data-page", strconv.Itoa(p.Number),
			"style", fmt.Sprintf("width:%s;height:%s", pt(p.Width), pt(p.Height)),
		)
		for _, r := range p.Regions {
			div := elem(atom.Div,
				"class", "hl hl-"+string(r.Metadata.Severity),
				"id", "region-"+r.ID,
				"data-finding", r.Metadata.FindingID,
				"style", fmt.Sprintf("left:%s;top:%s;width:%s;height:%s;background:%s;opacity:%.2f",
					pt(r.Rect.X), pt(r.Rect.Y), pt(r.Rect.Width), pt(r.Rect.Height), r.Color, r.Opacity),
			)
			tip := elem(atom.Div, "class", "tip")
			nodes, err := tooltipNodes(md, tip, tooltipMarkdown(r, findings[r.Metadata.FindingID]))
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				tip.AppendChild(n)
			}
			div.AppendChild(tip)
			sec.AppendChild(div)
		}
		for _, l := range p.Links {
			a := elem(atom.A,
				"class", "xlink",
				"href", "#region-"+l.ToRegionID,
				"title", linkTitle(l),
				"data-link-kind", string(l.Kind),
				"style", fmt.Sprintf("left:%s;top:%s;width:%s;height:%s",
					pt(l.FromRect.X), pt(l.FromRect.Y), pt(l.FromRect.Width), pt(l.FromRect.Height)),
			)
			sec.AppendChild(a)
		}
		body.AppendChild(sec)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("render overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// tooltipMarkdown escapes model-supplied text so it renders literally.
func tooltipMarkdown(r coordmap.Region, f *extract.Finding) string {
	esc := strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", "#", `\#`)
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** %s\n\n", strings.ToUpper(string(r.Metadata.Severity)), esc.Replace(r.Metadata.Category))
	if f == nil {
		sb.WriteString(esc.Replace(r.Tooltip))
		return sb.String()
	}
	sb.WriteString(esc.Replace(f.Description))
	if f.RecommendedAction != "" {
		fmt.Fprintf(&sb, "\n\n*Action:* %s", esc.Replace(f.RecommendedAction))
	}
	return sb.String()
}

func tooltipNodes(md goldmark.Markdown, parent *html.Node, src string) ([]*html.Node, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("render tooltip: %w", err)
	}
	nodes, err := html.ParseFragment(&buf, parent)
	if err != nil {
		return nil, fmt.Errorf("parse tooltip: %w", err)
	}
	return nodes, nil
}
