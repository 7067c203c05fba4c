package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/textnorm"
)

// UnitStatus is the outcome of dispatching one unit.
type UnitStatus string

const (
	UnitOK         UnitStatus = "ok"
	UnitParseError UnitStatus = "parse_error"
	UnitFailed     UnitStatus = "failed"
	UnitSkipped    UnitStatus = "skipped"
)

// UnitReport records what happened to one unit.
type UnitReport struct {
	UnitID   string     `json:"unitId"`
	Index    int        `json:"index"`
	Status   UnitStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
	// LowConfidence marks units whose model answer could not be used; any
	// findings for them come from the pattern detector only.
	LowConfidence bool `json:"lowConfidence,omitempty"`
	Findings      int  `json:"findings"`
	Dropped       int  `json:"dropped,omitempty"`
}

// DispatchOptions configure the dispatcher.
type DispatchOptions struct {
	Model              string
	MaxOutputTokens    int
	Temperature        *float64
	ReasoningEffort    string
	Concurrency        int
	ContextUnits       int
	ProgressiveContext bool
	PatternDetection   bool
	IncludeImages      bool
	Retry              RetryPolicy
}

// DispatchOptionsFrom maps run configuration onto dispatcher options.
func DispatchOptionsFrom(a config.Analysis) DispatchOptions {
	return DispatchOptions{
		Model:              a.Model,
		MaxOutputTokens:    a.MaxOutputTokens,
		Temperature:        a.Temperature,
		ReasoningEffort:    a.ReasoningEffort,
		Concurrency:        a.Concurrency,
		ContextUnits:       a.ContextUnits,
		ProgressiveContext: a.ProgressiveContext,
		PatternDetection:   a.PatternDetection,
		IncludeImages:      a.IncludeImages,
		Retry:              PolicyFrom(a),
	}
}

// Dispatcher sends units to the model in priority order with bounded
// concurrency. Per-unit failures are recorded and never stop the run;
// cancellation and an exhausted budget stop new dispatches.
type Dispatcher struct {
	model   extract.Model
	opts    DispatchOptions
	tracker *cost.Tracker
	counter cost.Counter
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewDispatcher(model extract.Model, opts DispatchOptions, tracker *cost.Tracker, counter cost.Counter, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	if counter == nil {
		counter = cost.ApproxCounter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{model: model, opts: opts, tracker: tracker, counter: counter, metrics: m, log: log}
}

// DispatchResult is the aggregate of one dispatch pass.
type DispatchResult struct {
	// Findings are in unit order, model order within a unit.
	Findings       []extract.Finding
	Reports        []UnitReport
	ContextSummary string
	Cancelled      bool
	BudgetExceeded bool
}

type unitOutcome struct {
	findings []extract.Finding
	report   UnitReport
	summary  string
}

// Order returns unit indexes sorted critical first, stable by unit order.
func Order(units []doctree.Unit) []int {
	order := make([]int, len(units))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return units[order[a]].Priority.Rank() < units[order[b]].Priority.Rank()
	})
	return order
}

// Dispatch analyzes every unit of doc. It returns what was gathered before
// ctx was cancelled or the budget ran out; units never sent are reported as
// skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, doc *doctree.Document, units []doctree.Unit, prog *progress) DispatchResult {
	outcomes := make([]unitOutcome, len(units))
	for i := range units {
		outcomes[i].report = UnitReport{UnitID: units[i].ID, Index: units[i].Index, Status: UnitSkipped}
	}
	order := Order(units)
	prog.setTotal(len(units))

	stopped := func() bool {
		return ctx.Err() != nil || (d.tracker != nil && d.tracker.Exceeded())
	}

	var summaryMu sync.Mutex
	summary := ""
	reported := newFindingRegistry()
	sequential := d.opts.Concurrency <= 1

	var g errgroup.Group
	if !sequential {
		g.SetLimit(d.opts.Concurrency)
	}
	for pos, idx := range order {
		if stopped() {
			break
		}
		in := extract.PromptInput{
			Unit:    &units[idx],
			Context: d.contextFor(units, order, pos),
		}
		if doc != nil {
			in.DocTitle = doc.Title
		}
		run := func() error {
			if stopped() {
				return nil
			}
			in.Related = reported.forUnits(units[idx].RelatedUnitIDs, maxRelatedFindings)
			if sequential && d.opts.ProgressiveContext {
				summaryMu.Lock()
				in.ContextSummary = summary
				summaryMu.Unlock()
			}
			out := d.analyzeUnit(ctx, doc, in)
			outcomes[idx] = out
			reported.add(units[idx].ID, out.findings)
			if out.summary != "" && d.opts.ProgressiveContext {
				summaryMu.Lock()
				summary = out.summary
				summaryMu.Unlock()
			}
			prog.unitDone(fmt.Sprintf("analyzed %s", units[idx].ID))
			return nil
		}
		if sequential {
			_ = run()
			continue
		}
		g.Go(run)
	}
	_ = g.Wait()

	res := DispatchResult{
		ContextSummary: summary,
		Cancelled:      ctx.Err() != nil,
		BudgetExceeded: d.tracker != nil && d.tracker.Exceeded(),
	}
	for i := range outcomes {
		res.Findings = append(res.Findings, outcomes[i].findings...)
		res.Reports = append(res.Reports, outcomes[i].report)
	}
	return res
}

// contextFor returns up to ContextUnits units dispatched before pos.
// Units related to the one at pos come first, then the most recently
// dispatched others; the result is in dispatch order.
func (d *Dispatcher) contextFor(units []doctree.Unit, order []int, pos int) []*doctree.Unit {
	n := min(d.opts.ContextUnits, pos)
	if n <= 0 {
		return nil
	}
	related := make(map[string]bool, len(units[order[pos]].RelatedUnitIDs))
	for _, id := range units[order[pos]].RelatedUnitIDs {
		related[id] = true
	}
	picked := make(map[int]bool, n)
	for p := pos - 1; p >= 0 && len(picked) < n; p-- {
		if related[units[order[p]].ID] {
			picked[p] = true
		}
	}
	for p := pos - 1; p >= 0 && len(picked) < n; p-- {
		picked[p] = true
	}
	out := make([]*doctree.Unit, 0, n)
	for p := 0; p < pos; p++ {
		if picked[p] {
			out = append(out, &units[order[p]])
		}
	}
	return out
}

// maxRelatedFindings caps the related findings listed in one prompt.
const maxRelatedFindings = 12

// findingRegistry holds the findings of units already analyzed so later
// units can declare relations to them.
type findingRegistry struct {
	mu     sync.Mutex
	byUnit map[string][]extract.Finding
}

func newFindingRegistry() *findingRegistry {
	return &findingRegistry{byUnit: make(map[string][]extract.Finding)}
}

func (r *findingRegistry) add(unitID string, findings []extract.Finding) {
	if len(findings) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUnit[unitID] = findings
}

// forUnits returns up to limit findings of the given units, in the order
// the units are listed.
func (r *findingRegistry) forUnits(unitIDs []string, limit int) []extract.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []extract.Finding
	for _, id := range unitIDs {
		for _, f := range r.byUnit[id] {
			if len(out) == limit {
				return out
			}
			out = append(out, f)
		}
	}
	return out
}

func (d *Dispatcher) analyzeUnit(ctx context.Context, doc *doctree.Document, in extract.PromptInput) unitOutcome {
	u := in.Unit
	log := d.log.With("unit_id", u.ID, "priority", u.Priority)
	rep := UnitReport{UnitID: u.ID, Index: u.Index}

	prompt := extract.BuildUnitPrompt(in)
	images := d.images(doc, u)
	req := extract.Request{
		Model:           d.opts.Model,
		MaxOutputTokens: d.opts.MaxOutputTokens,
		Temperature:     d.opts.Temperature,
		ReasoningEffort: d.opts.ReasoningEffort,
		Messages:        []extract.Message{{Role: "user", Text: prompt, Images: images}},
	}

	var findings []extract.Finding
	var summary string
	if d.model == nil {
		rep.Status = UnitFailed
		rep.Error = "no analysis model configured"
		rep.LowConfidence = true
	} else {
		onRetry := func(attempt int, err error) {
			d.metrics.Retry()
			log.Warn("transient model error, retrying", "attempt", attempt, "error", err)
		}
		resp, attempts, err := Call(ctx, d.opts.Retry, onRetry, func(ctx context.Context) (extract.Response, error) {
			return d.model.Analyze(ctx, req)
		})
		rep.Attempts = attempts
		if attempts > 0 {
			d.charge(u.ID, prompt, len(images), resp.Usage)
		}

		var perr *extract.ParseError
		switch {
		case err == nil:
			parsed, perrParse := extract.ParseFindingsRelated(resp.Text, u, in.Related)
			if perrParse != nil {
				rep.Status = UnitParseError
				rep.Error = perrParse.Error()
				rep.LowConfidence = true
				d.metrics.ParseFailure()
				log.Warn("unusable model response", "error", perrParse)
				break
			}
			findings = parsed.Findings
			summary = parsed.ContextSummary
			rep.Dropped = parsed.Dropped
			rep.Status = UnitOK
		case errors.As(err, &perr):
			rep.Status = UnitParseError
			rep.Error = err.Error()
			rep.LowConfidence = true
			d.metrics.ParseFailure()
			log.Warn("empty model response", "error", err)
		case ctx.Err() != nil:
			rep.Status = UnitSkipped
			rep.Error = ctx.Err().Error()
		default:
			rep.Status = UnitFailed
			rep.Error = err.Error()
			rep.LowConfidence = true
			log.Error("unit analysis failed", "attempts", attempts, "error", err)
		}
	}
	d.metrics.UnitDispatched(string(rep.Status))

	if d.opts.PatternDetection && rep.Status != UnitSkipped {
		findings = extract.Merge(findings, d.patterns(doc, u))
	}
	for i := range findings {
		findings[i].UnitID = u.ID
	}
	rep.Findings = len(findings)
	return unitOutcome{findings: findings, report: rep, summary: summary}
}

// patterns runs the rule-based detector over the unit and assigns each hit
// to the unit page whose text contains it.
func (d *Dispatcher) patterns(doc *doctree.Document, u *doctree.Unit) []extract.Finding {
	if len(u.PageNumbers) == 0 {
		return nil
	}
	hits := extract.PatternDetector{}.Detect(u.ID, u.PageNumbers[0], u.Content)
	if doc == nil {
		return hits
	}
	for i := range hits {
		for _, n := range u.PageNumbers {
			if p := doc.Page(n); p != nil && textnorm.Contains(p.Text, hits[i].AnchorText) {
				hits[i].PageNumber = n
				break
			}
		}
	}
	return hits
}

func (d *Dispatcher) images(doc *doctree.Document, u *doctree.Unit) []extract.Image {
	if !d.opts.IncludeImages || doc == nil {
		return nil
	}
	var out []extract.Image
	for _, n := range u.PageNumbers {
		p := doc.Page(n)
		if p == nil || p.Image == nil || len(p.Image.Data) == 0 {
			continue
		}
		mt := p.Image.MimeType
		if mt == "" {
			mt = "image/png"
		}
		out = append(out, extract.Image{MimeType: mt, Data: p.Image.Data})
	}
	return out
}

// charge records the cost of one unit. Reported usage wins over the local
// estimate when the endpoint returned it.
func (d *Dispatcher) charge(unitID, prompt string, images int, usage extract.Usage) {
	if d.tracker == nil {
		return
	}
	in := usage.PromptTokens
	if in == 0 {
		in = d.counter.Count(prompt)
	}
	err := d.tracker.Add(cost.Record{
		RequestKind:  cost.KindAnalysis,
		UnitID:       unitID,
		InputTokens:  in,
		OutputTokens: usage.CompletionTokens,
		ImageTokens:  images * cost.ImageTokens,
	})
	if errors.Is(err, cost.ErrBudgetExceeded) {
		d.log.Warn("cost budget exceeded, no further units will be dispatched", "unit_id", unitID)
	}
}
