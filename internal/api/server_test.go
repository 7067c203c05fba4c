package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

const testKey = "test-key"

func testConfig() config.Config {
	return config.Config{
		DocauditAPIKey:        testKey,
		AnalysisModel:         "gpt-5",
		WorkerCount:           1,
		MaxQueueSize:          10,
		MaxConcurrentAnalysis: 2,
		MaxAttempts:           1,
		MaxUploadBytes:        1 << 20,
		TokenBudget:           8000,
		TokenHardCeiling:      12000,
		TokenOverlap:          200,
		PoolingStrategy:       config.PoolingAttention,
		JobTTL:                time.Hour,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	m := metrics.New()
	orch, err := pipeline.NewOrchestrator(cfg, pipeline.Services{Metrics: m}, log)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	ts := httptest.NewServer(NewServer(orch, extract.NewLLMStats(time.Hour), m, log, cfg))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		orch.Stop()
	})
	return ts
}

func do(t *testing.T, method, url string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, url, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return do(t, http.MethodPost, url+"/api/analyze", &buf, mw.FormDataContentType())
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHealth_NoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuth_Required(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/stats/llm")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAnalyze_UnsupportedType(t *testing.T) {
	ts := newTestServer(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	resp := upload(t, ts.URL, "scan.png", png, nil)
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestAnalyze_InvalidOptions(t *testing.T) {
	ts := newTestServer(t)
	resp := upload(t, ts.URL, "report.txt", []byte("hello"), map[string]string{
		"options": `{"tokenBudget": 0}`,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["field"] != "TokenBudget" {
		t.Errorf("expected field TokenBudget, got %v", body["field"])
	}
}

func TestAnalyze_InvalidHighlightMode(t *testing.T) {
	ts := newTestServer(t)
	resp := upload(t, ts.URL, "report.txt", []byte("hello"), map[string]string{"highlight_mode": "laser"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnalyze_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	text := "Account summary\n\nThis account was reported 30 days late in March."
	resp := upload(t, ts.URL, "report.txt", []byte(text), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	accepted := decode(t, resp)
	jobID, _ := accepted["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job id")
	}
	if accepted["mime_type"] != "text/plain" {
		t.Errorf("expected text/plain, got %v", accepted["mime_type"])
	}

	var snap pipeline.JobSnapshot
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := do(t, http.MethodGet, ts.URL+"/api/analyze/"+jobID+"/status", nil, "")
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatal(err)
		}
		if snap.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last status %s", snap.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	// No model is configured, so units degrade to pattern findings.
	if snap.Status != pipeline.StatusPartial {
		t.Fatalf("expected partial, got %s (%v)", snap.Status, snap.Progress.Errors)
	}

	result := decode(t, do(t, http.MethodGet, ts.URL+"/api/analyze/"+jobID+"/result", nil, ""))
	findings, _ := result["findings"].([]any)
	if len(findings) == 0 {
		t.Fatalf("expected pattern findings, got %v", result["findings"])
	}
	unmapped, _ := result["unmapped"].([]any)
	if len(unmapped) != len(findings) {
		t.Errorf("text uploads carry no geometry; expected all %d findings unmapped, got %d", len(findings), len(unmapped))
	}

	exp := do(t, http.MethodGet, ts.URL+"/api/analyze/"+jobID+"/export?format=json", nil, "")
	if exp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 export, got %d", exp.StatusCode)
	}
	if cd := exp.Header.Get("Content-Disposition"); !strings.Contains(cd, "report-audit.json") {
		t.Errorf("unexpected content disposition %q", cd)
	}

	cancel := do(t, http.MethodPost, ts.URL+"/api/analyze/"+jobID+"/cancel", nil, "")
	if cancel.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 cancelling a finished job, got %d", cancel.StatusCode)
	}
}

func TestExport_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/analyze/missing/export?format=gif", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/analyze/nope/cancel", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMap_PlacesFindings(t *testing.T) {
	ts := newTestServer(t)
	req := mapRequest{
		Findings: []extract.Finding{
			{ID: "f1", SeverityClass: extract.ClassWarning, PageNumber: 1, AnchorText: "XXXX1234"},
			{ID: "f2", SeverityClass: extract.ClassInfo, PageNumber: 1, AnchorText: "not on the page"},
		},
		Tokens: parser.TokenPayload{TextTokens: []doctree.PageToken{
			{Text: "Account", X: 72, Y: 100, Width: 50, Height: 10, Page: 1},
			{Text: "XXXX1234", X: 126, Y: 100, Width: 60, Height: 10, Page: 1},
		}},
	}
	body, _ := json.Marshal(req)
	resp := do(t, http.MethodPost, ts.URL+"/api/map", bytes.NewReader(body), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decode(t, resp)
	regions, _ := out["regions"].([]any)
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	unmapped, _ := out["unmapped"].([]any)
	if len(unmapped) != 1 || unmapped[0] != "f2" {
		t.Errorf("expected f2 unmapped, got %v", unmapped)
	}
}

func TestMap_RequiresTokens(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/map", strings.NewReader(`{"findings":[]}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "go_goroutines") {
		t.Errorf("expected go collector output")
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
		want     string
		wantErr  bool
	}{
		{"pdf", "a.pdf", "%PDF-1.7\n...", "application/pdf", false},
		{"html", "a.html", "<html><body><p>x</p></body></html>", "text/html", false},
		{"json tokens", "a.json", `{"textTokens":[]}`, "application/json", false},
		{"plain text", "a.txt", "hello world", "text/plain", false},
		{"text with unknown extension", "a.md", "hello world", "text/plain", false},
		{"image", "a.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := contentType(tt.filename, []byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"report.pdf":       "report.pdf",
		"":                 "unnamed",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
