package latechunk

import (
	"fmt"
	"math"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/doctree"
)

// Weights scales a unit's share of the pooled vector in the weighted
// strategy. The defaults are empirical.
type Weights struct {
	Priority map[doctree.Priority]float64
	Type     map[doctree.SemanticType]float64
	// Default applies to semantic types missing from Type.
	Default float64
}

// DefaultWeights favours critical units and account/dispute content.
func DefaultWeights() Weights {
	return Weights{
		Priority: map[doctree.Priority]float64{
			doctree.PriorityCritical: 0.9,
			doctree.PriorityHigh:     0.75,
			doctree.PriorityMedium:   0.6,
			doctree.PriorityLow:      0.5,
		},
		Type: map[doctree.SemanticType]float64{
			doctree.TypeDispute:      1.0,
			doctree.TypeAccount:      1.0,
			doctree.TypePublicRecord: 0.95,
			doctree.TypePayment:      0.9,
			doctree.TypeInquiry:      0.85,
			doctree.TypePersonalInfo: 0.8,
			doctree.TypeSummary:      0.7,
		},
		Default: 0.85,
	}
}

// WeightsFrom applies the configured overrides to DefaultWeights.
func WeightsFrom(cfg config.Analysis) Weights {
	w := DefaultWeights()
	for k, v := range cfg.PriorityWeights {
		w.Priority[doctree.Priority(k)] = v
	}
	for k, v := range cfg.TypeWeights {
		w.Type[doctree.SemanticType(k)] = v
	}
	return w
}

func (w Weights) weight(u *doctree.Unit) float64 {
	p, ok := w.Priority[u.Priority]
	if !ok {
		p = w.Priority[doctree.PriorityLow]
	}
	t, ok := w.Type[u.SemanticType]
	if !ok {
		t = w.Default
	}
	return clamp01(p * t)
}

// Pooler combines a unit vector with the document vector.
type Pooler struct {
	Strategy string
	Floor    float64
	Weights  Weights
}

// Pool returns w*unit + (1-w)*doc, L2-normalized, where w depends on the
// strategy: 0.5 for average, the priority/type weight for weighted, and
// max(floor, cos(unit, doc)) for attention.
func (p Pooler) Pool(u *doctree.Unit, unitVec, docVec []float32) ([]float32, error) {
	if len(docVec) == 0 {
		return append([]float32(nil), unitVec...), nil
	}
	if len(unitVec) != len(docVec) {
		return nil, fmt.Errorf("dimension mismatch: unit %d, document %d", len(unitVec), len(docVec))
	}
	var w float64
	switch p.Strategy {
	case config.PoolingAverage:
		w = 0.5
	case config.PoolingWeighted:
		w = p.Weights.weight(u)
	case config.PoolingAttention, "":
		w = math.Max(p.Floor, Cosine(unitVec, docVec))
	default:
		return nil, fmt.Errorf("unknown pooling strategy %q", p.Strategy)
	}
	w = clamp01(w)
	out := make([]float32, len(unitVec))
	for i := range unitVec {
		out[i] = float32(w)*unitVec[i] + float32(1-w)*docVec[i]
	}
	return normalize(out), nil
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}
