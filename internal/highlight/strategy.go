// Package highlight turns mapped regions into an output artifact. It
// selects one of a small set of strategies (side-car document mutation,
// interactive overlay, native annotations), falls back when the primary
// fails, builds cross-page links between related findings, and exports
// the result.
package highlight

import (
	"context"
	"fmt"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
)

// Mode names a strategy, or asks the orchestrator to choose.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeServer     Mode = "server"
	ModeOverlay    Mode = "overlay"
	ModeAnnotation Mode = "annotation"
)

// ParseMode validates a mode string. The empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeServer, ModeOverlay, ModeAnnotation:
		return m, nil
	}
	return "", fmt.Errorf("unknown highlight mode %q", s)
}

// ExportFormat is the requested export. The empty format means the result
// is consumed interactively and never exported.
type ExportFormat string

const (
	ExportNone       ExportFormat = ""
	ExportBinary     ExportFormat = "binary"
	ExportJSON       ExportFormat = "json"
	ExportAnnotation ExportFormat = "annotation"
	ExportReport     ExportFormat = "report"
)

// ParseExportFormat validates an export format string.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportNone, ExportBinary, ExportJSON, ExportAnnotation, ExportReport:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// standalone reports whether the export is a self-contained document.
func (f ExportFormat) standalone() bool {
	return f == ExportBinary || f == ExportReport
}

// Capabilities is the closed capability set a strategy advertises.
type Capabilities struct {
	CanModifyDocument      bool `json:"canModifyDocument"`
	CanExport              bool `json:"canExport"`
	SupportsInteractivity  bool `json:"supportsInteractivity"`
	SupportsCrossPageLinks bool `json:"supportsCrossPageLinks"`
}

// Covers reports whether c has every capability set in need.
func (c Capabilities) Covers(need Capabilities) bool {
	return (c.CanModifyDocument || !need.CanModifyDocument) &&
		(c.CanExport || !need.CanExport) &&
		(c.SupportsInteractivity || !need.SupportsInteractivity) &&
		(c.SupportsCrossPageLinks || !need.SupportsCrossPageLinks)
}

// PageInfo is the size of one page in points.
type PageInfo struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Input is everything a strategy needs. Regions are already validated.
type Input struct {
	Document *doctree.Document
	Findings []extract.Finding
	Regions  []coordmap.Region
	Links    []Link
	Unmapped []string
}

// Pages returns the page sizes of the input document.
func (in *Input) Pages() []PageInfo {
	if in.Document == nil {
		return nil
	}
	out := make([]PageInfo, 0, len(in.Document.Pages))
	for _, p := range in.Document.Pages {
		out = append(out, PageInfo{Number: p.Number, Width: p.Width, Height: p.Height})
	}
	return out
}

// ArtifactKind says what an artifact's Data holds.
type ArtifactKind string

const (
	KindDocument   ArtifactKind = "document"
	KindOverlay    ArtifactKind = "overlay"
	KindAnnotation ArtifactKind = "annotation"
)

// Artifact is a strategy's output.
type Artifact struct {
	Strategy Mode          `json:"strategy"`
	Kind     ArtifactKind  `json:"kind"`
	MimeType string        `json:"mimeType"`
	Data     []byte        `json:"-"`
	Pages    []OverlayPage `json:"pages,omitempty"`
}

// Strategy renders regions into an artifact.
type Strategy interface {
	Name() Mode
	Capabilities() Capabilities
	Execute(ctx context.Context, in Input) (*Artifact, error)
}

// StrategyExecutionError wraps a strategy failure.
type StrategyExecutionError struct {
	Strategy Mode
	Err      error
}

func (e *StrategyExecutionError) Error() string {
	return fmt.Sprintf("highlight strategy %s failed: %v", e.Strategy, e.Err)
}

func (e *StrategyExecutionError) Unwrap() error { return e.Err }
