package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/parser"
)

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	var data []byte
	switch v := v.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunMap(t *testing.T) {
	dir := t.TempDir()
	findings := writeFile(t, dir, "findings.json", map[string]any{"findings": []extract.Finding{
		{ID: "f1", SeverityClass: extract.ClassWarning, PageNumber: 1, AnchorText: "XXXX1234"},
		{ID: "f2", SeverityClass: extract.ClassInfo, PageNumber: 1, AnchorText: "not on the page"},
	}})
	tokens := writeFile(t, dir, "tokens.json", parser.TokenPayload{TextTokens: []doctree.PageToken{
		{Text: "Account", X: 72, Y: 100, Width: 50, Height: 10, Page: 1},
		{Text: "XXXX1234", X: 126, Y: 100, Width: 60, Height: 10, Page: 1},
	}})

	var buf bytes.Buffer
	if err := runMap(t.Context(), &buf, findings, tokens); err != nil {
		t.Fatalf("runMap: %v", err)
	}
	var out struct {
		Regions  []json.RawMessage `json:"regions"`
		Unmapped []string          `json:"unmapped"`
		Links    []json.RawMessage `json:"links"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, buf.String())
	}
	if len(out.Regions) != 1 {
		t.Errorf("expected 1 region, got %d", len(out.Regions))
	}
	if len(out.Unmapped) != 1 || out.Unmapped[0] != "f2" {
		t.Errorf("expected f2 unmapped, got %v", out.Unmapped)
	}
	if out.Links == nil {
		t.Error("links should encode as an empty array")
	}
}

func TestReadFindings_Shapes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":"a"},{"id":"b"}]`, 2},
		{"findings", `{"findings":[{"id":"a"}]}`, 1},
		{"issues", `{"issues":[{"id":"a"},{"id":"b"},{"id":"c"}]}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readFindings(writeFile(t, dir, tt.name+".json", tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d findings, got %d", tt.want, len(got))
			}
		})
	}

	if _, err := readFindings(writeFile(t, dir, "bad.json", "not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestRunTokens_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "note.txt", "First page line.\fSecond page line.")
	var buf bytes.Buffer
	if err := runTokens(t.Context(), &buf, path, false, newLogger(false)); err != nil {
		t.Fatalf("runTokens: %v", err)
	}
	var payload parser.TokenPayload
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Pages) == 0 {
		t.Fatal("expected page metadata")
	}
	if !strings.Contains(payload.Pages[0].Text, "First page") {
		t.Errorf("unexpected page text %q", payload.Pages[0].Text)
	}
}

func TestAnalysisFrom_Overrides(t *testing.T) {
	cfg := config.Load()
	a, err := analysisFrom(cfg, analyzeFlags{offline: true, budget: 0.5, concurrency: 2})
	if err != nil {
		t.Fatalf("analysisFrom: %v", err)
	}
	if !a.PatternDetection || a.CostBudgetUSD != 0.5 || a.Concurrency != 2 {
		t.Errorf("overrides not applied: %+v", a)
	}

	opts := writeFile(t, t.TempDir(), "opts.json", `{"tokenBudget": -1}`)
	if _, err := analysisFrom(cfg, analyzeFlags{options: opts}); err == nil {
		t.Error("expected validation error for negative token budget")
	}
}

func TestRunAnalyze_Offline(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "statement.txt",
		"Account XXXX1234 statement.\n\nThe balance was 1,200.00 on the first of the month.")
	target := filepath.Join(dir, "out.json")

	var buf bytes.Buffer
	f := analyzeFlags{offline: true, mode: "auto", export: "json", out: target}
	if err := runAnalyze(&buf, path, f, newLogger(false)); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	if !strings.Contains(buf.String(), "partial") {
		t.Errorf("summary should report partial status:\n%s", buf.String())
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if !json.Valid(data) {
		t.Error("export is not valid JSON")
	}
}

func TestRunAnalyze_RejectsNoneExport(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	err := runAnalyze(&bytes.Buffer{}, path, analyzeFlags{offline: true, mode: "auto", export: ""}, newLogger(false))
	if err == nil {
		t.Error("expected error for empty export format")
	}
}
