package highlight

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/extract"
)

// Exported is the output of Export.
type Exported struct {
	Data      []byte
	MimeType  string
	Extension string
}

// Export converts a finished result into the requested format. It only
// reads the result: nothing is re-mapped and no strategy or model is
// contacted.
func Export(res *Result, format ExportFormat) (*Exported, error) {
	if res == nil {
		return nil, errors.New("export: nil result")
	}
	switch format {
	case ExportBinary:
		if a := res.Artifact; a != nil && a.Kind == KindDocument && len(a.Data) > 0 {
			return &Exported{Data: a.Data, MimeType: a.MimeType, Extension: ".pdf"}, nil
		}
		data, err := highlightMap(res)
		if err != nil {
			return nil, err
		}
		return &Exported{Data: data, MimeType: "application/pdf", Extension: ".pdf"}, nil
	case ExportJSON:
		data, err := exportJSON(res)
		if err != nil {
			return nil, err
		}
		return &Exported{Data: data, MimeType: "application/json", Extension: ".json"}, nil
	case ExportAnnotation:
		if a := res.Artifact; a != nil && a.Kind == KindAnnotation && len(a.Data) > 0 {
			return &Exported{Data: a.Data, MimeType: a.MimeType, Extension: ".xfdf"}, nil
		}
		data, err := EncodeXFDF(res.Filename, res.Pages, res.Input.Regions, res.Input.Links)
		if err != nil {
			return nil, err
		}
		return &Exported{Data: data, MimeType: "application/vnd.adobe.xfdf", Extension: ".xfdf"}, nil
	case ExportReport:
		data, err := reviewReport(res)
		if err != nil {
			return nil, err
		}
		return &Exported{
			Data:      data,
			MimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Extension: ".docx",
		}, nil
	}
	return nil, fmt.Errorf("export: unsupported format %q", format)
}

type jsonExport struct {
	Title        string            `json:"title"`
	Filename     string            `json:"filename,omitempty"`
	Strategy     Mode              `json:"strategy,omitempty"`
	UsedFallback bool              `json:"usedFallback"`
	Pages        []PageInfo        `json:"pages"`
	Findings     []extract.Finding `json:"findings"`
	Regions      []coordmap.Region `json:"regions"`
	Links        []Link            `json:"links"`
	Unmapped     []string          `json:"unmappedFindingIds"`
	Metrics      Metrics           `json:"metrics"`
}

func exportJSON(res *Result) ([]byte, error) {
	out := jsonExport{
		Title:        res.Title,
		Filename:     res.Filename,
		Strategy:     res.Metrics.Strategy,
		UsedFallback: res.Metrics.UsedFallback,
		Pages:        nonNil(res.Pages),
		Findings:     nonNil(res.Input.Findings),
		Regions:      nonNil(res.Input.Regions),
		Links:        nonNil(res.Input.Links),
		Unmapped:     nonNil(res.Input.Unmapped),
		Metrics:      res.Metrics,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export json: %w", err)
	}
	return data, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
