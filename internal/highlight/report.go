package highlight

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docaudit/internal/coordmap"
)

// reviewReport writes a DOCX for a human reviewer. Mapped findings list
// where they were highlighted; unmapped findings are called out so the
// reviewer checks them by hand.
func reviewReport(res *Result) ([]byte, error) {
	regions := make(map[string][]coordmap.Region)
	for _, r := range res.Input.Regions {
		regions[r.Metadata.FindingID] = append(regions[r.Metadata.FindingID], r)
	}

	w := docx.New().WithDefaultTheme()
	title := res.Title
	if title == "" {
		title = "Document"
	}
	w.AddParagraph().AddText(title + " review").Bold().Size("36")

	summary := fmt.Sprintf("%d findings, %d highlighted regions, %d cross-page links, %d unmapped.",
		len(res.Input.Findings), len(res.Input.Regions), len(res.Input.Links), len(res.Input.Unmapped))
	w.AddParagraph().AddText(summary)
	if res.Metrics.Strategy != "" {
		line := "Rendered with the " + string(res.Metrics.Strategy) + " strategy"
		if res.Metrics.UsedFallback {
			line += " (fallback after " + string(res.Metrics.Primary) + " failed)"
		}
		w.AddParagraph().AddText(line + ".").Size("18").Color("808080")
	}

	unmapped := make(map[string]bool, len(res.Input.Unmapped))
	for _, id := range res.Input.Unmapped {
		unmapped[id] = true
	}

	for _, f := range res.Input.Findings {
		color := strings.TrimPrefix(coordmap.ColorFor(f.SeverityClass), "#")
		head := w.AddParagraph()
		head.AddText(strings.ToUpper(string(f.SeverityClass))).Bold().Color(color)
		head.AddText(fmt.Sprintf("  %s, page %d", f.Category, f.PageNumber)).Bold()

		w.AddParagraph().AddText(f.Description)
		if f.AnchorText != "" {
			w.AddParagraph().AddText("Quoted: \"" + f.AnchorText + "\"").Size("18").Color("555555")
		}
		if f.RecommendedAction != "" {
			p := w.AddParagraph()
			p.AddText("Action: ").Bold()
			p.AddText(f.RecommendedAction)
		}

		status := w.AddParagraph()
		switch regs := regions[f.ID]; {
		case len(regs) > 0:
			status.AddText(fmt.Sprintf("Highlighted in %d region(s).", len(regs))).Size("18").Color("2E7D32")
		case unmapped[f.ID]:
			status.AddText("UNMAPPED: the quoted text was not found on the page. Verify manually.").Bold().Size("18").Color("C62828")
		default:
			status.AddText("Not highlighted.").Size("18").Color("808080")
		}
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	return buf.Bytes(), nil
}
