package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		jsonError(w, "file is empty", http.StatusBadRequest)
		return
	}

	filename := sanitizeFilename(header.Filename)
	mime, err := contentType(filename, data)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	analysis, err := s.analysisOptions(r.FormValue("options"))
	if err != nil {
		writeError(w, err)
		return
	}
	hlReq, err := highlightRequest(r.FormValue("highlight_mode"), r.FormValue("highlight_fallback"), r.FormValue("export"))
	if err != nil {
		writeError(w, err)
		return
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		docID = pipeline.ContentHashHex(data)[:16]
	}

	now := time.Now()
	job := &pipeline.Job{
		ID:        uuid.Must(uuid.NewV7()).String(),
		DocID:     docID,
		Status:    pipeline.StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     r.FormValue("title"),
		MimeType:  mime,
		Analysis:  analysis,
		Highlight: hlReq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"doc_id":     job.DocID,
		"status":     pipeline.StatusQueued,
		"mime_type":  mime,
		"poll_url":   fmt.Sprintf("/api/analyze/%s/status", job.ID),
		"result_url": fmt.Sprintf("/api/analyze/%s/result", job.ID),
	})
}

// analysisOptions overlays a JSON options document on the service defaults.
func (s *Server) analysisOptions(raw string) (config.Analysis, error) {
	a := s.cfg.Analysis()
	if strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			return a, &config.ConfigurationError{Field: "options", Reason: err.Error()}
		}
	}
	return a, a.Validate()
}

func highlightRequest(mode, fallback, export string) (highlight.Request, error) {
	m, err := highlight.ParseMode(mode)
	if err != nil {
		return highlight.Request{}, &config.ConfigurationError{Field: "highlight_mode", Reason: err.Error()}
	}
	var fb highlight.Mode
	if fallback != "" {
		if fb, err = highlight.ParseMode(fallback); err != nil {
			return highlight.Request{}, &config.ConfigurationError{Field: "highlight_fallback", Reason: err.Error()}
		}
	}
	ex, err := highlight.ParseExportFormat(export)
	if err != nil {
		return highlight.Request{}, &config.ConfigurationError{Field: "export", Reason: err.Error()}
	}
	return highlight.Request{Mode: m, Fallback: fb, Export: ex}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	found, cancelled := s.orchestrator.Cancel(jobID)
	if !found {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if !cancelled {
		jsonError(w, "job already finished", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "cancel_requested": true})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	out := job.Output()
	if out == nil || out.Analysis == nil {
		jsonError(w, fmt.Sprintf("job is %s, no result yet", snap.Status), http.StatusConflict)
		return
	}
	res := out.Analysis
	body := map[string]any{
		"job_id":             snap.ID,
		"doc_id":             snap.DocID,
		"status":             snap.Status,
		"run_id":             res.RunID,
		"run_status":         res.Status,
		"findings":           res.Findings,
		"regions":            nonNil(out.Mapping.Regions),
		"unmapped":           nonNil(out.Mapping.Unmapped),
		"rejected":           nonNil(out.Mapping.Rejected),
		"low_confidence":     nonNil(res.LowConfidence()),
		"unit_reports":       res.UnitReports,
		"structural_issues":  nonNil(res.Issues),
		"enrichment":         res.Enrichment,
		"cost":               res.Cost,
		"duration_ms":        res.Duration.Milliseconds(),
		"errors":             snap.Progress.Errors,
		"token_intersection": out.Mapping.TokenIntersections,
	}
	if out.Highlight != nil {
		body["highlight"] = out.Highlight.Metrics
		body["links"] = nonNil(out.Highlight.Input.Links)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	format, err := highlight.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil || format == highlight.ExportNone {
		jsonError(w, "format must be one of binary, json, annotation, report", http.StatusBadRequest)
		return
	}
	out := job.Output()
	if out == nil || out.Highlight == nil {
		jsonError(w, "no highlight result for this job", http.StatusConflict)
		return
	}
	exp, err := highlight.Export(out.Highlight, format)
	if err != nil {
		s.log.Error("export failed", "job_id", job.ID, "format", format, "error", err)
		jsonError(w, "export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	name := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename)) + "-audit" + exp.Extension
	w.Header().Set("Content-Type", exp.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(exp.Data)
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
}

// contentType sniffs the upload with the standard detector first and the
// broader mimetype library when that is inconclusive. Plain text yields to
// a more specific supported extension, since JSON token payloads and some
// HTML sniff as text.
func contentType(filename string, data []byte) (string, error) {
	head := data[:min(len(data), 3072)]
	mt := http.DetectContentType(head)
	if mt == "application/octet-stream" {
		mt = mimetype.Detect(head).String()
	}
	base, _, _ := strings.Cut(mt, ";")
	base = strings.TrimSpace(base)

	byExt, extOK := extensionTypes[strings.ToLower(filepath.Ext(filename))]
	if base == "text/plain" && extOK {
		return byExt, nil
	}
	if _, err := parser.ForMIME(base, false); err == nil {
		return base, nil
	}
	if extOK && base == "application/octet-stream" {
		return byExt, nil
	}
	return "", fmt.Errorf("unsupported content type: %s", base)
}

func writeError(w http.ResponseWriter, err error) {
	var cerr *config.ConfigurationError
	if errors.As(err, &cerr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": cerr.Error(), "field": cerr.Field})
		return
	}
	jsonError(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
