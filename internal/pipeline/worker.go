package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/latechunk"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/sidecar"
)

// TokenSource supplies positioned tokens for PDFs whose text layer could
// not be read locally.
type TokenSource interface {
	ExtractTokens(ctx context.Context, pdf []byte, filename string) (*sidecar.TokenResponse, error)
}

// Worker processes a single document job.
type Worker struct {
	svc               Services
	caches            func(contentHash string) *latechunk.Cache
	log               *slog.Logger
	fallbackPdftotext bool
}

func NewWorker(svc Services, caches func(string) *latechunk.Cache, log *slog.Logger, fallbackPdftotext bool) *Worker {
	return &Worker{svc: svc, caches: caches, log: log, fallbackPdftotext: fallbackPdftotext}
}

// Process runs parse, analysis, mapping and highlighting for a job.
// Cancelling the job stops the analysis; the findings gathered so far are
// still mapped and highlighted.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !job.bind(cancel) {
		log.Info("job cancelled before start")
		job.SetStatus(StatusCancelled, "cancelled")
		job.SetFileData(nil)
		return
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	data := job.FileData()
	doc, err := w.parse(runCtx, job, data)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.ContentHash = ContentHashHex(data)

	// Phase 2: Analyze
	job.SetStatus(StatusAnalyzing, "analyzing")
	deps := Deps{
		Model:    w.svc.Model,
		Embedder: w.svc.Embedder,
		Counter:  w.svc.Counter,
		Metrics:  w.svc.Metrics,
		Log:      log,
	}
	if w.caches != nil {
		deps.Cache = w.caches(job.ContentHash)
	}
	res, err := RunAnalysis(runCtx, doc, nil, job.Analysis, deps, job.Observe)
	if err != nil {
		log.Error("analysis failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "analyzing")
		return
	}
	for _, rep := range res.UnitReports {
		if rep.Error != "" && rep.Status != UnitSkipped {
			job.AddError(fmt.Sprintf("unit %s: %s", rep.UnitID, rep.Error))
		}
	}

	// Phase 3: Map findings to page coordinates. This runs on the worker
	// context so a cancelled job still gets its partial findings placed.
	job.SetStatus(StatusMapping, "mapping")
	out := &Output{Analysis: res}
	out.Mapping, err = w.svc.Mapper.WithTolerances(job.Analysis).MapFindings(ctx, res.Findings, doc)
	if err != nil {
		log.Error("mapping interrupted", "error", err)
		job.AddError(fmt.Sprintf("mapping: %s", err))
		job.SetOutput(out)
		job.SetStatus(StatusFailed, "mapping")
		return
	}
	w.svc.Metrics.Findings(len(res.Findings)-len(out.Mapping.Unmapped), len(out.Mapping.Unmapped))

	// Phase 4: Highlight
	job.SetStatus(StatusHighlighting, "highlighting")
	hlErr := w.highlight(ctx, job, doc, out)
	if hlErr != nil {
		log.Error("highlight failed", "error", hlErr)
		job.AddError(fmt.Sprintf("highlight: %s", hlErr))
	}
	job.SetOutput(out)
	job.SetFileData(nil)

	status := jobStatus(res.Status)
	if hlErr != nil && status == StatusCompleted {
		status = StatusPartial
	}
	job.SetStatus(status, "done")
	log.Info("job finished", "status", status, "findings", len(res.Findings), "unmapped", len(out.Mapping.Unmapped))
}

func (w *Worker) parse(ctx context.Context, job *Job, data []byte) (*doctree.Document, error) {
	var (
		ext parser.Extractor
		err error
	)
	if job.MimeType != "" {
		ext, err = parser.ForMIME(job.MimeType, w.fallbackPdftotext)
	}
	if ext == nil {
		ext, err = parser.ForFile(job.Filename, w.fallbackPdftotext)
	}
	if err != nil {
		return nil, err
	}
	doc, err := ext.Extract(bytes.NewReader(data), job.Filename)
	if err != nil {
		return nil, err
	}
	doc.ID = job.DocID
	if job.Title != "" {
		doc.Title = job.Title
	}
	if len(doc.Data) == 0 {
		doc.Data = data
	}
	if doc.MimeType == "application/pdf" && w.svc.Tokens != nil && !hasTokens(doc) {
		if err := w.fillTokens(ctx, doc, data); err != nil {
			// Without tokens findings stay unmapped but the analysis is still useful.
			w.log.Warn("side-car token extraction failed", "doc_id", doc.ID, "error", err)
		}
	}
	if len(doc.Pages) == 0 {
		return nil, errors.New("no extractable content")
	}
	return doc, nil
}

// fillTokens asks the side-car for positioned tokens and merges them into
// doc by page number. Pages the local parser missed are added.
func (w *Worker) fillTokens(ctx context.Context, doc *doctree.Document, data []byte) error {
	resp, err := w.svc.Tokens.ExtractTokens(ctx, data, doc.Filename)
	if err != nil {
		return err
	}
	remote := resp.Document(doc.Title)
	for _, rp := range remote.Pages {
		p := doc.Page(rp.Number)
		if p == nil {
			doc.Pages = append(doc.Pages, rp)
			continue
		}
		p.Tokens = rp.Tokens
		if p.Text == "" {
			p.Text = rp.Text
		}
	}
	return nil
}

func hasTokens(doc *doctree.Document) bool {
	for _, p := range doc.Pages {
		if len(p.Tokens) > 0 {
			return true
		}
	}
	return false
}

func (w *Worker) highlight(ctx context.Context, job *Job, doc *doctree.Document, out *Output) error {
	res, err := w.svc.Highlight.Highlight(ctx, highlightInput(doc, out), job.Highlight)
	out.Highlight = res
	recordStrategyRuns(w.svc, res)
	return err
}

func highlightInput(doc *doctree.Document, out *Output) highlight.Input {
	return highlight.Input{
		Document: doc,
		Findings: out.Analysis.Findings,
		Regions:  out.Mapping.Regions,
		Links:    highlight.BuildLinks(out.Analysis.Findings, out.Mapping.Regions),
		Unmapped: out.Mapping.Unmapped,
	}
}

// recordStrategyRuns counts the strategies a highlight run tried.
func recordStrategyRuns(svc Services, res *highlight.Result) {
	if res == nil {
		return
	}
	m := res.Metrics
	if m.Primary == "" {
		return
	}
	if m.Strategy == m.Primary {
		svc.Metrics.StrategyRun(string(m.Primary), true, false)
		return
	}
	svc.Metrics.StrategyRun(string(m.Primary), false, false)
	if m.UsedFallback {
		svc.Metrics.StrategyRun(string(m.Strategy), true, true)
		return
	}
	for _, t := range m.Transitions {
		if t.To == highlight.StateFailed && t.Strategy != m.Primary {
			svc.Metrics.StrategyRun(string(t.Strategy), false, true)
		}
	}
}

func jobStatus(s RunStatus) JobStatus {
	switch s {
	case RunCompleted:
		return StatusCompleted
	case RunPartial:
		return StatusPartial
	case RunCancelled:
		return StatusCancelled
	case RunBudgetExceeded:
		return StatusBudgetExceeded
	}
	return StatusFailed
}
