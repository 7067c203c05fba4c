package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docaudit/internal/doctree"
)

// Extractor converts raw document bytes into pages with text and tokens.
type Extractor interface {
	Extract(r io.Reader, filename string) (*doctree.Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".html": true,
	".htm":  true,
	".json": true,
}

// ForFile returns the appropriate extractor for a filename.
func ForFile(filename string, fallbackPdftotext bool) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return &PDFExtractor{FallbackPdftotext: fallbackPdftotext}, nil
	case ".txt":
		return &TextExtractor{}, nil
	case ".html", ".htm":
		return &HTMLExtractor{}, nil
	case ".json":
		return &TokenExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// ForMIME returns the extractor for a sniffed MIME type.
func ForMIME(mime string, fallbackPdftotext bool) (Extractor, error) {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "application/pdf":
		return &PDFExtractor{FallbackPdftotext: fallbackPdftotext}, nil
	case "text/plain":
		return &TextExtractor{}, nil
	case "text/html":
		return &HTMLExtractor{}, nil
	case "application/json":
		return &TokenExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported content type: %s", mime)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func titleFromFilename(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}
