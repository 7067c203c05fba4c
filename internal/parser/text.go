package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// TextExtractor handles plain text. Form feeds separate pages; pages carry
// no token geometry.
type TextExtractor struct{}

func (p *TextExtractor) Extract(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	doc := &doctree.Document{
		Title:    titleFromFilename(filename),
		Filename: filename,
		MimeType: "text/plain",
		Data:     data,
	}
	for i, page := range splitPages(text) {
		doc.Pages = append(doc.Pages, doctree.Page{
			Number: i + 1,
			Width:  defaultPageWidth,
			Height: defaultPageHeight,
			Text:   normalizeParagraphs(page),
			Source: doctree.SourceVector,
		})
	}
	return doc, nil
}

// normalizeParagraphs collapses runs of blank lines into one paragraph break.
func normalizeParagraphs(text string) string {
	var paragraphs []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return strings.Join(paragraphs, "\n\n")
}
