package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLExtractor handles bureau-style HTML reports. An <hr> or an element
// styled with a page break starts a new page. Table rows become lines with
// cells separated by two spaces so tabular layout survives. Pages carry no
// token geometry.
type HTMLExtractor struct{}

func (p *HTMLExtractor) Extract(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	root, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &doctree.Document{
		Title:    titleFromFilename(filename),
		Filename: filename,
		MimeType: "text/html",
		Data:     data,
	}
	if title := findTitle(root); title != "" {
		doc.Title = title
	}

	var pages [][]string
	var blocks []string
	newPage := func() {
		if len(blocks) > 0 {
			pages = append(pages, blocks)
			blocks = nil
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "hr" || hasPageBreak(n) {
				newPage()
				if n.Data == "hr" {
					return
				}
			}
			switch n.Data {
			case "script", "style", "nav", "noscript":
				return
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "blockquote":
				if t := textContent(n); t != "" {
					blocks = append(blocks, t)
				}
				return
			case "table":
				if t := tableText(n); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findBody(root); body != nil {
		walk(body)
	} else {
		walk(root)
	}
	newPage()

	for i, b := range pages {
		doc.Pages = append(doc.Pages, doctree.Page{
			Number: i + 1,
			Width:  defaultPageWidth,
			Height: defaultPageHeight,
			Text:   strings.Join(b, "\n\n"),
			Source: doctree.SourceVector,
		})
	}
	return doc, nil
}

func hasPageBreak(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		v := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
		if strings.Contains(v, "page-break-before:always") || strings.Contains(v, "break-before:page") {
			return true
		}
	}
	return false
}

func tableText(n *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, strings.Join(strings.Fields(textContent(c)), " "))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, "  "))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(rows, "\n")
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
