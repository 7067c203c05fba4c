package highlight

import (
	"context"
	"errors"
	"sort"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/sidecar"
)

// Highlighter is the side-car call used by ServerStrategy.
type Highlighter interface {
	Highlight(ctx context.Context, pdf []byte, issues []sidecar.Issue, opts sidecar.HighlightOptions) ([]byte, error)
}

// ServerStrategy burns highlights into the original PDF through the
// side-car. It needs the original document bytes.
type ServerStrategy struct {
	Client Highlighter
}

func (s *ServerStrategy) Name() Mode { return ModeServer }

func (s *ServerStrategy) Capabilities() Capabilities {
	return Capabilities{CanModifyDocument: true, CanExport: true, SupportsCrossPageLinks: true}
}

func (s *ServerStrategy) Execute(ctx context.Context, in Input) (*Artifact, error) {
	if s.Client == nil {
		return nil, errors.New("no side-car configured")
	}
	if in.Document == nil || len(in.Document.Data) == 0 {
		return nil, errors.New("original document bytes unavailable")
	}
	if in.Document.MimeType != "" && in.Document.MimeType != "application/pdf" {
		return nil, errors.New("side-car only mutates PDF documents, got " + in.Document.MimeType)
	}
	out, err := s.Client.Highlight(ctx, in.Document.Data, Issues(in.Findings, in.Regions), sidecar.HighlightOptions{
		Filename: in.Document.Filename,
	})
	if err != nil {
		return nil, err
	}
	return &Artifact{Strategy: ModeServer, Kind: KindDocument, MimeType: "application/pdf", Data: out}, nil
}

// Issues groups regions into one side-car issue per finding and page, in
// finding order.
func Issues(findings []extract.Finding, regions []coordmap.Region) []sidecar.Issue {
	type key struct {
		id   string
		page int
	}
	byKey := make(map[key][]coordmap.Region)
	for _, r := range regions {
		k := key{r.Metadata.FindingID, r.Page}
		byKey[k] = append(byKey[k], r)
	}

	var out []sidecar.Issue
	for _, f := range findings {
		var pages []int
		for k := range byKey {
			if k.id == f.ID {
				pages = append(pages, k.page)
			}
		}
		sort.Ints(pages)
		for _, p := range pages {
			regs := byKey[key{f.ID, p}]
			issue := sidecar.Issue{
				ID:          f.ID,
				Type:        string(f.SeverityClass),
				Category:    f.Category,
				Description: f.Description,
				PageNumber:  p,
				Color:       regs[0].Color,
				Opacity:     regs[0].Opacity,
				Tooltip:     regs[0].Tooltip,
			}
			for _, r := range regs {
				issue.Coordinates = append(issue.Coordinates, sidecar.Coordinate{
					X: r.Rect.X, Y: r.Rect.Y, Width: r.Rect.Width, Height: r.Rect.Height,
				})
			}
			out = append(out, issue)
		}
	}
	return out
}
