package highlight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docaudit/internal/config"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateSelecting   State = "selecting"
	StateExecuting   State = "executing"
	StateFallingBack State = "falling_back"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// StateTransition records one move of the state machine.
type StateTransition struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	Strategy Mode      `json:"strategy,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Metrics describes how a highlight run went.
type Metrics struct {
	RequestedMode Mode              `json:"requestedMode"`
	Primary       Mode              `json:"primary"`
	Strategy      Mode              `json:"strategy,omitempty"`
	UsedFallback  bool              `json:"usedFallback"`
	PrimaryError  string            `json:"primaryError,omitempty"`
	Regions       int               `json:"regions"`
	Links         int               `json:"links"`
	Pages         int               `json:"pages"`
	Duration      time.Duration     `json:"durationNs"`
	Transitions   []StateTransition `json:"transitions"`
}

// Request selects the mode, the optional fallback and the intended export.
type Request struct {
	Mode     Mode
	Fallback Mode
	Export   ExportFormat
}

// Result is a finished highlight run. It carries everything Export needs so
// exporting never re-runs mapping or strategies.
type Result struct {
	Title    string     `json:"title"`
	Filename string     `json:"filename,omitempty"`
	Pages    []PageInfo `json:"pages"`
	Artifact *Artifact  `json:"artifact,omitempty"`
	Metrics  Metrics    `json:"metrics"`
	Input    Input      `json:"-"`
}

// Options tune automatic selection.
type Options struct {
	LargeDocumentPages int
	ManyLinks          int
}

func DefaultOptions() Options {
	return Options{LargeDocumentPages: 20, ManyLinks: 5}
}

// Orchestrator picks and runs strategies.
type Orchestrator struct {
	strategies map[Mode]Strategy
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(opts Options, log *slog.Logger, strategies ...Strategy) *Orchestrator {
	if opts.LargeDocumentPages <= 0 {
		opts.LargeDocumentPages = DefaultOptions().LargeDocumentPages
	}
	if opts.ManyLinks <= 0 {
		opts.ManyLinks = DefaultOptions().ManyLinks
	}
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{strategies: make(map[Mode]Strategy), opts: opts, log: log, now: time.Now}
	for _, s := range strategies {
		o.strategies[s.Name()] = s
	}
	return o
}

// Strategy returns the registered strategy for mode.
func (o *Orchestrator) Strategy(m Mode) (Strategy, bool) {
	s, ok := o.strategies[m]
	return s, ok
}

// Select applies the automatic policy. Candidates are ranked by
// preference: annotation exports go to the annotation strategy, standalone
// exports of large or heavily linked documents go to the side-car,
// interactive use goes to the overlay, and any other export prefers
// annotations. The first registered candidate whose capabilities cover
// what the request needs wins. When none covers it the first registered
// candidate is used.
func (o *Orchestrator) Select(in Input, export ExportFormat) Mode {
	pages := 0
	if in.Document != nil {
		pages = len(in.Document.Pages)
	}
	heavy := pages >= o.opts.LargeDocumentPages || len(in.Links) >= o.opts.ManyLinks

	var prefs []Mode
	switch {
	case export == ExportAnnotation:
		prefs = []Mode{ModeAnnotation, ModeServer, ModeOverlay}
	case export.standalone() && heavy:
		prefs = []Mode{ModeServer, ModeAnnotation, ModeOverlay}
	case export == ExportNone || export == ExportJSON:
		prefs = []Mode{ModeOverlay, ModeAnnotation, ModeServer}
	default:
		prefs = []Mode{ModeAnnotation, ModeServer, ModeOverlay}
	}

	need := Requirements(in, export, heavy)
	var registered []Mode
	for _, m := range prefs {
		s, ok := o.strategies[m]
		if !ok {
			continue
		}
		if s.Capabilities().Covers(need) {
			return m
		}
		o.log.Debug("strategy lacks a required capability", "strategy", m, "need", need)
		registered = append(registered, m)
	}
	if len(registered) > 0 {
		return registered[0]
	}
	return prefs[0]
}

// Requirements returns the capabilities a strategy needs for in and the
// intended export. JSON is a data dump of the result and counts as
// interactive use.
func Requirements(in Input, export ExportFormat, heavy bool) Capabilities {
	var c Capabilities
	if export == ExportNone || export == ExportJSON {
		c.SupportsInteractivity = true
	} else {
		c.CanExport = true
	}
	if export.standalone() && heavy {
		c.CanModifyDocument = true
	}
	if len(in.Links) > 0 {
		c.SupportsCrossPageLinks = true
	}
	return c
}

// Highlight runs the selected strategy and, when it fails and a different
// fallback is configured, the fallback. An explicit mode that is invalid or
// not registered fails before anything runs with a *config.ConfigurationError.
// When both strategies fail the error joins both failures.
func (o *Orchestrator) Highlight(ctx context.Context, in Input, req Request) (*Result, error) {
	start := o.now()
	res := &Result{Pages: in.Pages(), Input: in}
	if in.Document != nil {
		res.Title = in.Document.Title
		res.Filename = in.Document.Filename
	}
	m := &res.Metrics
	m.RequestedMode = req.Mode
	m.Regions = len(in.Regions)
	m.Links = len(in.Links)
	m.Pages = len(res.Pages)

	state := StateSelecting
	move := func(to State, s Mode, err error) {
		t := StateTransition{From: state, To: to, Strategy: s, At: o.now()}
		if err != nil {
			t.Error = err.Error()
		}
		m.Transitions = append(m.Transitions, t)
		state = to
	}
	finish := func() { m.Duration = o.now().Sub(start) }

	mode := req.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, &config.ConfigurationError{Field: "highlightMode", Reason: err.Error()}
	}
	if mode == ModeAuto {
		mode = o.Select(in, req.Export)
	}
	primary, ok := o.strategies[mode]
	if !ok {
		return nil, &config.ConfigurationError{Field: "highlightMode", Reason: fmt.Sprintf("strategy %s is not available", mode)}
	}
	var fallback Strategy
	if req.Fallback != "" && req.Fallback != ModeAuto && req.Fallback != mode {
		fb, ok := o.strategies[req.Fallback]
		if !ok {
			return nil, &config.ConfigurationError{Field: "highlightFallback", Reason: fmt.Sprintf("strategy %s is not available", req.Fallback)}
		}
		fallback = fb
	}
	m.Primary = mode

	move(StateExecuting, mode, nil)
	art, err := o.run(ctx, primary, in)
	if err == nil {
		m.Strategy = mode
		res.Artifact = art
		move(StateSucceeded, mode, nil)
		finish()
		o.log.Info("highlight complete", "strategy", mode, "regions", m.Regions, "links", m.Links)
		return res, nil
	}
	m.PrimaryError = err.Error()
	o.log.Warn("highlight strategy failed", "strategy", mode, "error", err)

	if fallback == nil || ctx.Err() != nil {
		move(StateFailed, mode, err)
		finish()
		return res, err
	}

	move(StateFallingBack, mode, err)
	move(StateExecuting, fallback.Name(), nil)
	art, fbErr := o.run(ctx, fallback, in)
	if fbErr != nil {
		move(StateFailed, fallback.Name(), fbErr)
		finish()
		o.log.Error("highlight fallback failed", "strategy", fallback.Name(), "error", fbErr)
		return res, fmt.Errorf("all highlight strategies failed: %w", errors.Join(err, fbErr))
	}
	m.Strategy = fallback.Name()
	m.UsedFallback = true
	res.Artifact = art
	move(StateSucceeded, fallback.Name(), nil)
	finish()
	o.log.Info("highlight complete via fallback", "primary", mode, "strategy", fallback.Name())
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, s Strategy, in Input) (art *Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &StrategyExecutionError{Strategy: s.Name(), Err: err}
		}
	}()
	art, err = s.Execute(ctx, in)
	if err == nil && art == nil {
		err = errors.New("strategy returned no artifact")
	}
	return art, err
}
