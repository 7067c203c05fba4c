package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(14)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

var statusColors = map[pipeline.JobStatus]string{
	pipeline.StatusCompleted:      "#2ECC71",
	pipeline.StatusPartial:        "#FF8C00",
	pipeline.StatusCancelled:      "#FFD700",
	pipeline.StatusBudgetExceeded: "#FFD700",
	pipeline.StatusFailed:         "#FF6B6B",
}

var classOrder = []extract.SeverityClass{extract.ClassCritical, extract.ClassWarning, extract.ClassAttention, extract.ClassInfo}

func renderSummary(snap pipeline.JobSnapshot, out *pipeline.Output, target string) string {
	res := out.Analysis
	status := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(statusColors[snap.Status])).Render(string(snap.Status))

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	rows := []string{
		titleStyle.Render(snap.Filename),
		row("status", status),
		row("units", fmt.Sprintf("%d (%d low confidence)", len(res.Units), len(res.LowConfidence()))),
		row("findings", fmt.Sprintf("%d (%d unmapped)", len(res.Findings), len(out.Mapping.Unmapped))),
		row("regions", fmt.Sprintf("%d", len(out.Mapping.Regions))),
		row("cost", "$"+res.Cost.TotalUSD.StringFixed(4)),
		row("duration", res.Duration.Round(time.Millisecond).String()),
	}
	if h := out.Highlight; h != nil && h.Metrics.Strategy != "" {
		strategy := string(h.Metrics.Strategy)
		if h.Metrics.UsedFallback {
			strategy += " (fallback from " + string(h.Metrics.Primary) + ")"
		}
		rows = append(rows, row("highlight", strategy))
	}
	if cats := topCategories(res.Findings, 3); len(cats) > 0 {
		rows = append(rows, row("categories", strings.Join(cats, ", ")))
	}
	if target != "" {
		rows = append(rows, row("written", target))
	}
	if counts := classCounts(res.Findings); counts != "" {
		rows = append(rows, "", counts)
	}
	for _, e := range snap.Progress.Errors {
		rows = append(rows, errorStyle.Render("! ")+e)
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func classCounts(findings []extract.Finding) string {
	counts := map[extract.SeverityClass]int{}
	for _, f := range findings {
		counts[f.SeverityClass]++
	}
	var parts []string
	for _, c := range classOrder {
		if counts[c] == 0 {
			continue
		}
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(coordmap.ColorFor(c))).Render("■")
		parts = append(parts, fmt.Sprintf("%s %s %d", swatch, c, counts[c]))
	}
	return strings.Join(parts, "  ")
}

// topCategories lists the most frequent categories, most frequent first.
func topCategories(findings []extract.Finding, n int) []string {
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Category]++
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats[:min(n, len(cats))]
}
