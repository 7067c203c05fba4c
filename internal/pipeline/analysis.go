package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dgallion1/docaudit/internal/chunker"
	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/latechunk"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/parser"
)

// RunStatus is the final state of an analysis run.
type RunStatus string

const (
	RunCompleted      RunStatus = "completed"
	RunPartial        RunStatus = "partial"
	RunCancelled      RunStatus = "cancelled"
	RunBudgetExceeded RunStatus = "budget_exceeded"
)

// ErrEmptyDocument is returned when there is nothing to analyze.
var ErrEmptyDocument = errors.New("document has no pages")

// Deps are the collaborators of a run. Model and Embedder may be nil: a
// run without a model yields pattern findings only, and a run without an
// embedder skips pooling and similarity relations.
type Deps struct {
	Model    extract.Model
	Embedder latechunk.Embedder
	// Cache is shared across runs of the same document when set; each run
	// gets a fresh one otherwise.
	Cache   *latechunk.Cache
	Counter cost.Counter
	Pricing *cost.Pricing
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Result is everything a run produced.
type Result struct {
	RunID          string                    `json:"runId"`
	Status         RunStatus                 `json:"status"`
	Findings       []extract.Finding         `json:"findings"`
	Units          []doctree.Unit            `json:"units"`
	UnitReports    []UnitReport              `json:"unitReports"`
	Issues         []chunker.StructuralIssue `json:"structuralIssues"`
	Enrichment     latechunk.Report          `json:"enrichment"`
	ContextSummary string                    `json:"contextSummary,omitempty"`
	Cost           cost.Summary              `json:"cost"`
	StartedAt      time.Time                 `json:"startedAt"`
	Duration       time.Duration             `json:"durationNs"`
}

// LowConfidence returns the IDs of units whose model answer was unusable.
func (r *Result) LowConfidence() []string {
	var out []string
	for _, rep := range r.UnitReports {
		if rep.LowConfidence {
			out = append(out, rep.UnitID)
		}
	}
	return out
}

// RunAnalysis segments doc, enriches the units, dispatches them to the
// model and aggregates the findings. Only an invalid configuration or an
// empty document return an error, and they do so before any work starts.
// Cancellation and an exhausted budget end the run early with the findings
// gathered so far and a matching status. When st is nil the structure is
// detected from doc.
func RunAnalysis(ctx context.Context, doc *doctree.Document, st *doctree.Structure, cfg config.Analysis, deps Deps, sink ProgressSink) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if doc == nil || len(doc.Pages) == 0 {
		return nil, ErrEmptyDocument
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.Must(uuid.NewV7()).String()
	log = log.With("run_id", runID, "doc_id", doc.ID)

	pricing := cost.DefaultPricing()
	if deps.Pricing != nil {
		pricing = *deps.Pricing
	}
	tracker := cost.NewTracker(pricing, decimal.NewFromFloat(cfg.CostBudgetUSD))
	res := &Result{RunID: runID, StartedAt: time.Now()}
	prog := newProgress(sink)

	// Segment
	prog.emit(StageSegmenting, 0, "detecting structure")
	if st == nil {
		st = parser.DetectStructure(doc)
	}
	seg := chunker.New(chunker.ConfigFrom(cfg), log).Segment(doc, st)
	res.Units = seg.Units
	res.Issues = seg.Issues
	prog.emit(StageSegmenting, 1, fmt.Sprintf("%d units", len(seg.Units)))
	log.Info("document segmented", "units", len(seg.Units), "structural_issues", len(seg.Issues))

	finish := func(status RunStatus) (*Result, error) {
		res.Status = status
		res.Cost = tracker.Summary()
		res.Duration = time.Since(res.StartedAt)
		total, _ := res.Cost.TotalUSD.Float64()
		deps.Metrics.Run(string(status), total)
		prog.emit(StageDone, 1, string(status))
		log.Info("analysis finished",
			"status", status,
			"findings", len(res.Findings),
			"cost_usd", res.Cost.TotalUSD.StringFixed(4),
			"duration", res.Duration,
		)
		return res, nil
	}
	if ctx.Err() != nil {
		return finish(RunCancelled)
	}

	// Enrich
	prog.emit(StageEnriching, 0, "embedding units")
	analyzer := latechunk.New(deps.Embedder, deps.Cache, tracker, latechunk.OptionsFrom(cfg), log)
	enr, err := analyzer.Enrich(ctx, doc, st, res.Units)
	res.Enrichment = enr
	deps.Metrics.EmbeddingCacheHits(enr.CacheHits)
	if err != nil {
		log.Warn("enrichment interrupted", "error", err)
		return finish(RunCancelled)
	}
	prog.emit(StageEnriching, 1, fmt.Sprintf("%d units embedded, %d relations", enr.Embedded, enr.Relations))

	// Dispatch
	d := NewDispatcher(deps.Model, DispatchOptionsFrom(cfg), tracker, deps.Counter, deps.Metrics, log)
	out := d.Dispatch(ctx, doc, res.Units, prog)

	prog.emit(StageAggregating, 0, "aggregating findings")
	res.Findings = out.Findings
	res.UnitReports = out.Reports
	res.ContextSummary = out.ContextSummary
	if res.Findings == nil {
		res.Findings = []extract.Finding{}
	}

	switch {
	case out.Cancelled:
		return finish(RunCancelled)
	case out.BudgetExceeded:
		return finish(RunBudgetExceeded)
	}
	for _, rep := range res.UnitReports {
		if rep.Status != UnitOK {
			return finish(RunPartial)
		}
	}
	return finish(RunCompleted)
}
