package cost

import (
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrBudgetExceeded is returned by Tracker.Add once the configured budget is crossed.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// RequestKind labels what a ledger entry paid for.
type RequestKind string

const (
	KindAnalysis  RequestKind = "analysis"
	KindEmbedding RequestKind = "embedding"
	KindHighlight RequestKind = "highlight"
)

// Pricing holds USD prices per 1K tokens.
type Pricing struct {
	InputPer1K     decimal.Decimal
	OutputPer1K    decimal.Decimal
	ImagePer1K     decimal.Decimal
	EmbeddingPer1K decimal.Decimal
}

// DefaultPricing returns the vision-model price sheet.
func DefaultPricing() Pricing {
	return Pricing{
		InputPer1K:     decimal.RequireFromString("0.015"),
		OutputPer1K:    decimal.RequireFromString("0.075"),
		ImagePer1K:     decimal.RequireFromString("0.01"),
		EmbeddingPer1K: decimal.RequireFromString("0.0001"),
	}
}

// Components is the cost breakdown of a single record.
type Components struct {
	Input  decimal.Decimal `json:"input"`
	Output decimal.Decimal `json:"output"`
	Image  decimal.Decimal `json:"image"`
}

// Total sums the components.
func (c Components) Total() decimal.Decimal {
	return c.Input.Add(c.Output).Add(c.Image)
}

// Record is one append-only ledger entry.
type Record struct {
	RequestKind  RequestKind `json:"requestKind"`
	UnitID       string      `json:"unitId,omitempty"`
	InputTokens  int         `json:"inputTokens"`
	OutputTokens int         `json:"outputTokens"`
	ImageTokens  int         `json:"imageTokens"`
	Components   Components  `json:"costComponents"`
}

// KindSummary aggregates records of one kind.
type KindSummary struct {
	Requests     int             `json:"requests"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	ImageTokens  int             `json:"imageTokens"`
	CostUSD      decimal.Decimal `json:"costUsd"`
}

// Summary is the running aggregate of the ledger.
type Summary struct {
	Requests     int                         `json:"requests"`
	InputTokens  int                         `json:"inputTokens"`
	OutputTokens int                         `json:"outputTokens"`
	ImageTokens  int                         `json:"imageTokens"`
	TotalUSD     decimal.Decimal             `json:"totalUsd"`
	BudgetUSD    decimal.Decimal             `json:"budgetUsd"`
	Exceeded     bool                        `json:"budgetExceeded"`
	ByKind       map[RequestKind]KindSummary `json:"byKind"`
}

// Tracker is the run-wide cost ledger. All writers serialize on one mutex.
type Tracker struct {
	mu       sync.Mutex
	pricing  Pricing
	budget   decimal.Decimal
	records  []Record
	total    decimal.Decimal
	exceeded bool
	onExceed func(Summary)
}

// NewTracker creates a ledger. A zero budget disables the budget check.
func NewTracker(pricing Pricing, budgetUSD decimal.Decimal) *Tracker {
	return &Tracker{pricing: pricing, budget: budgetUSD}
}

// OnExceeded registers a hook fired once, outside the lock, when the budget is first crossed.
func (t *Tracker) OnExceeded(fn func(Summary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExceed = fn
}

// Price computes the components for the given token counts.
func (t *Tracker) Price(kind RequestKind, input, output, image int) Components {
	per := decimal.NewFromInt(1000)
	inRate := t.pricing.InputPer1K
	if kind == KindEmbedding {
		inRate = t.pricing.EmbeddingPer1K
	}
	return Components{
		Input:  decimal.NewFromInt(int64(input)).Mul(inRate).Div(per),
		Output: decimal.NewFromInt(int64(output)).Mul(t.pricing.OutputPer1K).Div(per),
		Image:  decimal.NewFromInt(int64(image)).Mul(t.pricing.ImagePer1K).Div(per),
	}
}

// Add prices and appends a record. It returns ErrBudgetExceeded when the
// running total is above the budget after this append; the record is kept.
func (t *Tracker) Add(r Record) error {
	r.Components = t.Price(r.RequestKind, r.InputTokens, r.OutputTokens, r.ImageTokens)

	t.mu.Lock()
	t.records = append(t.records, r)
	t.total = t.total.Add(r.Components.Total())
	over := t.budget.IsPositive() && t.total.GreaterThan(t.budget)
	first := over && !t.exceeded
	if over {
		t.exceeded = true
	}
	hook := t.onExceed
	t.mu.Unlock()

	if first && hook != nil {
		hook(t.Summary())
	}
	if over {
		return ErrBudgetExceeded
	}
	return nil
}

// Exceeded reports whether the budget has been crossed.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exceeded
}

// Records returns a copy of the ledger.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Summary aggregates the ledger.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		TotalUSD:  t.total,
		BudgetUSD: t.budget,
		Exceeded:  t.exceeded,
		ByKind:    make(map[RequestKind]KindSummary),
	}
	for _, r := range t.records {
		s.Requests++
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.ImageTokens += r.ImageTokens

		k := s.ByKind[r.RequestKind]
		k.Requests++
		k.InputTokens += r.InputTokens
		k.OutputTokens += r.OutputTokens
		k.ImageTokens += r.ImageTokens
		k.CostUSD = k.CostUSD.Add(r.Components.Total())
		s.ByKind[r.RequestKind] = k
	}
	return s
}

// Kinds returns the request kinds present in a summary, sorted.
func (s Summary) Kinds() []RequestKind {
	out := make([]RequestKind, 0, len(s.ByKind))
	for k := range s.ByKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
