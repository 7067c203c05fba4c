package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeModel struct {
	mu    sync.Mutex
	calls int
	reply func(call int, req extract.Request) (extract.Response, error)
}

func (m *fakeModel) Analyze(ctx context.Context, req extract.Request) (extract.Response, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.reply(n, req)
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

const mismatchReply = `{"issues":[{"id":"a","type":"warning","category":"balance","severity":"medium",` +
	`"description":"Balance differs between sections.","pageNumber":1,"anchorText":"Balance mismatch"}],` +
	`"contextSummary":"balance issue seen"}`

// fourPageDoc yields one unit per page under testConfig.
func fourPageDoc() *doctree.Document {
	doc := &doctree.Document{ID: "doc-1", Title: "Statement"}
	for i := 1; i <= 4; i++ {
		doc.Pages = append(doc.Pages, doctree.Page{
			Number: i, Width: 612, Height: 792,
			Text: fmt.Sprintf("Page %d notes: Balance mismatch reported by the lender for this entry here.", i),
		})
	}
	return doc
}

func testConfig() config.Analysis {
	cfg := config.DefaultAnalysis()
	cfg.TokenBudget = 30
	cfg.HardCeiling = 30
	cfg.Overlap = 0
	cfg.Concurrency = 1
	cfg.ContextUnits = 0
	cfg.PatternDetection = false
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return cfg
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}
	var retried []int
	n := 0
	got, attempts, err := Call(context.Background(), p, func(a int, _ error) { retried = append(retried, a) },
		func(context.Context) (string, error) {
			n++
			if n == 1 {
				return "", &extract.TransientError{StatusCode: 503, Message: "busy"}
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("expected ok after 2 attempts, got %q after %d", got, attempts)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("expected one retry callback for attempt 1, got %v", retried)
	}
}

func TestCall_PermanentErrorNotRetried(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}
	_, attempts, err := Call(context.Background(), p, nil, func(context.Context) (int, error) {
		return 0, &extract.PermanentError{StatusCode: 401, Message: "bad key"}
	})
	var perm *extract.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestCall_ExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Max: time.Millisecond}
	_, attempts, err := Call(context.Background(), p, nil, func(context.Context) (int, error) {
		return 0, &extract.TransientError{Message: "connection reset"}
	})
	if !extract.IsTransient(err) {
		t.Fatalf("expected the last transient error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestCall_CancelledContextMakesNoAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, attempts, err := Call(ctx, RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}, nil, func(context.Context) (int, error) {
		t.Error("fn must not run after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("expected no attempts, got %d", attempts)
	}
}

func TestOrder_CriticalFirstStable(t *testing.T) {
	units := []doctree.Unit{
		{ID: "a", Priority: doctree.PriorityLow},
		{ID: "b", Priority: doctree.PriorityCritical},
		{ID: "c", Priority: doctree.PriorityMedium},
		{ID: "d", Priority: doctree.PriorityCritical},
		{ID: "e", Priority: doctree.PriorityHigh},
	}
	got := Order(units)
	want := []int{1, 3, 4, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRunAnalysis_Completes(t *testing.T) {
	model := &fakeModel{reply: func(int, extract.Request) (extract.Response, error) {
		return extract.Response{Text: mismatchReply}, nil
	}}
	var events []Event
	res, err := RunAnalysis(context.Background(), fourPageDoc(), nil, testConfig(),
		Deps{Model: model, Log: quietLogger()}, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != RunCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if len(res.Units) != 4 || model.Calls() != 4 {
		t.Fatalf("expected 4 units and 4 calls, got %d units and %d calls", len(res.Units), model.Calls())
	}
	if len(res.Findings) != 4 {
		t.Fatalf("expected one finding per unit, got %d", len(res.Findings))
	}
	for i, f := range res.Findings {
		if f.UnitID != res.Units[i].ID {
			t.Errorf("finding %d: expected unit %s, got %s", i, res.Units[i].ID, f.UnitID)
		}
		if f.PageNumber != res.Units[i].PageNumbers[0] {
			t.Errorf("finding %d: expected page %d, got %d", i, res.Units[i].PageNumbers[0], f.PageNumber)
		}
	}
	if res.ContextSummary != "balance issue seen" {
		t.Errorf("expected progressive summary to be carried, got %q", res.ContextSummary)
	}
	if res.RunID == "" {
		t.Error("expected a run ID")
	}
	if len(events) == 0 || events[len(events)-1].Stage != StageDone || events[len(events)-1].Percent != 100 {
		t.Fatalf("expected a final done event at 100%%, got %+v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent <= events[i-1].Percent {
			t.Errorf("progress did not advance at event %d: %v -> %v", i, events[i-1].Percent, events[i].Percent)
		}
	}
}

func TestRunAnalysis_CancelStopsNewDispatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	model := &fakeModel{reply: func(call int, _ extract.Request) (extract.Response, error) {
		if call == 2 {
			cancel()
		}
		return extract.Response{Text: mismatchReply}, nil
	}}
	res, err := RunAnalysis(ctx, fourPageDoc(), nil, testConfig(), Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if res.Status != RunCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if model.Calls() != 2 {
		t.Errorf("expected no calls after cancellation, got %d", model.Calls())
	}
	if len(res.Findings) != 2 {
		t.Errorf("expected findings of the two analyzed units, got %d", len(res.Findings))
	}
	skipped := 0
	for _, rep := range res.UnitReports {
		if rep.Status == UnitSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped units, got %d", skipped)
	}
}

func TestRunAnalysis_BudgetStopsDispatch(t *testing.T) {
	model := &fakeModel{reply: func(int, extract.Request) (extract.Response, error) {
		return extract.Response{Text: mismatchReply, Usage: extract.Usage{PromptTokens: 1000, CompletionTokens: 100}}, nil
	}}
	cfg := testConfig()
	cfg.CostBudgetUSD = 0.001
	res, err := RunAnalysis(context.Background(), fourPageDoc(), nil, cfg, Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != RunBudgetExceeded {
		t.Fatalf("expected budget_exceeded, got %s", res.Status)
	}
	if model.Calls() != 1 {
		t.Errorf("expected dispatch to stop after the first unit, got %d calls", model.Calls())
	}
	if !res.Cost.TotalUSD.IsPositive() {
		t.Error("expected the charged cost in the summary")
	}
}

func TestRunAnalysis_ParseErrorDegradesUnit(t *testing.T) {
	model := &fakeModel{reply: func(call int, _ extract.Request) (extract.Response, error) {
		if call == 1 {
			return extract.Response{Text: "I could not find any problems."}, nil
		}
		return extract.Response{Text: mismatchReply}, nil
	}}
	doc := fourPageDoc()
	doc.Pages[0].Text = "Page 1 notes: this entry was charged off by the lender last year."
	cfg := testConfig()
	cfg.PatternDetection = true

	res, err := RunAnalysis(context.Background(), doc, nil, cfg, Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != RunPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	first := res.UnitReports[0]
	if first.Status != UnitParseError || !first.LowConfidence {
		t.Errorf("expected low-confidence parse error, got %+v", first)
	}
	if got := res.LowConfidence(); len(got) != 1 || got[0] != first.UnitID {
		t.Errorf("expected %s to be low confidence, got %v", first.UnitID, got)
	}
	var pattern *extract.Finding
	for i := range res.Findings {
		if res.Findings[i].UnitID == first.UnitID {
			pattern = &res.Findings[i]
		}
	}
	if pattern == nil || pattern.Source != extract.SourcePattern || !strings.EqualFold(pattern.AnchorText, "charged off") {
		t.Errorf("expected a pattern finding for the degraded unit, got %+v", pattern)
	}
}

func TestRunAnalysis_RetriesTransientModelErrors(t *testing.T) {
	model := &fakeModel{reply: func(call int, _ extract.Request) (extract.Response, error) {
		if call == 1 {
			return extract.Response{}, &extract.TransientError{StatusCode: 429, Message: "slow down"}
		}
		return extract.Response{Text: mismatchReply}, nil
	}}
	doc := fourPageDoc()
	doc.Pages = doc.Pages[:1]
	res, err := RunAnalysis(context.Background(), doc, nil, testConfig(), Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != RunCompleted || res.UnitReports[0].Attempts != 2 {
		t.Errorf("expected completion after 2 attempts, got %s with %+v", res.Status, res.UnitReports[0])
	}
}

func TestRunAnalysis_PermanentFailureIsPerUnit(t *testing.T) {
	model := &fakeModel{reply: func(call int, _ extract.Request) (extract.Response, error) {
		if call == 2 {
			return extract.Response{}, &extract.PermanentError{StatusCode: 400, Message: "bad request"}
		}
		return extract.Response{Text: mismatchReply}, nil
	}}
	res, err := RunAnalysis(context.Background(), fourPageDoc(), nil, testConfig(), Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != RunPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	if model.Calls() != 4 {
		t.Errorf("expected every unit to be tried, got %d calls", model.Calls())
	}
	if res.UnitReports[1].Status != UnitFailed || res.UnitReports[1].Attempts != 1 {
		t.Errorf("expected unit 2 to fail after one attempt, got %+v", res.UnitReports[1])
	}
	if len(res.Findings) != 3 {
		t.Errorf("expected findings from the other three units, got %d", len(res.Findings))
	}
}

func TestRunAnalysis_ConcurrentDispatchKeepsUnitOrder(t *testing.T) {
	model := &fakeModel{reply: func(int, extract.Request) (extract.Response, error) {
		return extract.Response{Text: mismatchReply}, nil
	}}
	cfg := testConfig()
	cfg.Concurrency = 4
	res, err := RunAnalysis(context.Background(), fourPageDoc(), nil, cfg, Deps{Model: model, Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Findings) != 4 {
		t.Fatalf("expected 4 findings, got %d", len(res.Findings))
	}
	for i, f := range res.Findings {
		if f.UnitID != res.Units[i].ID {
			t.Errorf("finding %d out of unit order: %s", i, f.UnitID)
		}
	}
}

func TestRunAnalysis_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 0
	_, err := RunAnalysis(context.Background(), fourPageDoc(), nil, cfg, Deps{Log: quietLogger()}, nil)
	var cerr *config.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunAnalysis_EmptyDocument(t *testing.T) {
	_, err := RunAnalysis(context.Background(), &doctree.Document{}, nil, testConfig(), Deps{Log: quietLogger()}, nil)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestRunAnalysis_NoModelUsesPatternsOnly(t *testing.T) {
	doc := fourPageDoc()
	doc.Pages = doc.Pages[:1]
	doc.Pages[0].Text = "Page 1 notes: the entry is 30 days late according to the lender."
	cfg := testConfig()
	cfg.PatternDetection = true
	res, err := RunAnalysis(context.Background(), doc, nil, cfg, Deps{Log: quietLogger()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Findings) == 0 || res.Findings[0].Source != extract.SourcePattern {
		t.Fatalf("expected pattern findings, got %+v", res.Findings)
	}
	if res.Status != RunPartial {
		t.Errorf("expected partial without a model, got %s", res.Status)
	}
}
