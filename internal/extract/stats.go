package extract

import (
	"errors"
	"sort"
	"sync"
	"time"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeTransient
	outcomePermanent
	outcomeParse
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	usage      Usage
	outcome    outcome
}

// StatsSnapshot aggregates model calls in the rolling window. Latency
// figures cover successful calls only.
type StatsSnapshot struct {
	Count            int     `json:"count"`
	Transient        int     `json:"transient_errors"`
	Permanent        int     `json:"permanent_errors"`
	ParseFailures    int     `json:"parse_failures"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	MinMs            int64   `json:"min_ms"`
	MaxMs            int64   `json:"max_ms"`
	AvgMs            float64 `json:"avg_ms"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	P99Ms            float64 `json:"p99_ms"`
}

// LLMStats tracks recent model calls within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Observe records one call: its latency, the usage it reported and how it
// ended.
func (s *LLMStats) Observe(d time.Duration, u Usage, err error) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: ms,
		usage:      u,
		outcome:    classify(err),
	})
}

// Record notes a successful call that took durationMs.
func (s *LLMStats) Record(durationMs int64) {
	s.Observe(time.Duration(durationMs)*time.Millisecond, Usage{}, nil)
}

func classify(err error) outcome {
	var (
		te *TransientError
		pe *PermanentError
		xe *ParseError
	)
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &te):
		return outcomeTransient
	case errors.As(err, &xe):
		return outcomeParse
	case errors.As(err, &pe):
		return outcomePermanent
	default:
		return outcomeTransient
	}
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	var snap StatsSnapshot
	values := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		snap.Count++
		snap.PromptTokens += sm.usage.PromptTokens
		snap.CompletionTokens += sm.usage.CompletionTokens
		switch sm.outcome {
		case outcomeTransient:
			snap.Transient++
			continue
		case outcomePermanent:
			snap.Permanent++
			continue
		case outcomeParse:
			snap.ParseFailures++
		}
		values = append(values, sm.durationMs)
		sum += sm.durationMs
	}
	if len(values) == 0 {
		return snap
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
