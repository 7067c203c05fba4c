// Package latechunk enriches segmented units with document-aware pooled
// embeddings and a cross-unit relation graph.
package latechunk

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/doctree"
	"golang.org/x/sync/errgroup"
)

// Options controls pooling, relation discovery and batching.
type Options struct {
	Pooler          Pooler
	Relations       RelationRules
	SummaryPages    int
	SummaryMaxChars int
	BatchSize       int
	Concurrency     int
}

// OptionsFrom maps run configuration onto analyzer options.
func OptionsFrom(cfg config.Analysis) Options {
	return Options{
		Pooler: Pooler{
			Strategy: cfg.PoolingStrategy,
			Floor:    cfg.AttentionFloor,
			Weights:  WeightsFrom(cfg),
		},
		Relations: RelationRules{
			PageWindow: cfg.RelationPageWindow,
			Threshold:  cfg.SimilarityThreshold,
		},
		SummaryPages:    cfg.SummaryPages,
		SummaryMaxChars: cfg.SummaryMaxChars,
		BatchSize:       16,
		Concurrency:     max(1, cfg.Concurrency),
	}
}

// Report summarizes one enrichment pass.
type Report struct {
	DocumentEmbedded bool     `json:"documentEmbedded"`
	Embedded         int      `json:"embedded"`
	Failed           []string `json:"failed,omitempty"`
	CacheHits        int      `json:"cacheHits"`
	Relations        int      `json:"relations"`
}

// Analyzer runs late chunking over a run's units.
type Analyzer struct {
	embedder Embedder
	cache    *Cache
	tracker  *cost.Tracker
	opts     Options
	log      *slog.Logger
}

// New creates an Analyzer. cache and tracker are run-scoped; a nil cache
// gets a fresh one and a nil tracker disables cost records.
func New(embedder Embedder, cache *Cache, tracker *cost.Tracker, opts Options, log *slog.Logger) *Analyzer {
	if cache == nil {
		cache = NewCache()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{embedder: embedder, cache: cache, tracker: tracker, opts: opts, log: log}
}

// Enrich assigns pooled embeddings and related unit IDs to units in place.
// Embedding failures are per unit and never fatal: such units keep no
// embedding and only take part in page-window and identifier relations.
// The only error returned is ctx's, and units are still linked when it is.
func (a *Analyzer) Enrich(ctx context.Context, doc *doctree.Document, st *doctree.Structure, units []doctree.Unit) (Report, error) {
	var rep Report
	raw := make([][]float32, len(units))

	var docVec []float32
	if a.embedder != nil {
		summary := BuildSummary(doc, st, a.opts.SummaryPages, a.opts.SummaryMaxChars)
		if summary != "" {
			v, hit, err := a.cache.Get(ctx, summary, a.embedOne("document"))
			switch {
			case err != nil:
				a.log.Warn("document embedding failed", "error", err)
			default:
				docVec = v
				rep.DocumentEmbedded = true
				if hit {
					rep.CacheHits++
				}
			}
		}
		hits := a.embedUnits(ctx, units, raw)
		rep.CacheHits += hits
	}

	for i := range units {
		if raw[i] == nil {
			units[i].Embedding = nil
			if a.embedder != nil {
				rep.Failed = append(rep.Failed, units[i].ID)
			}
			continue
		}
		pooled, err := a.opts.Pooler.Pool(&units[i], raw[i], docVec)
		if err != nil {
			a.log.Warn("pooling failed", "unit_id", units[i].ID, "error", err)
			pooled = raw[i]
		}
		units[i].Embedding = pooled
		rep.Embedded++
	}

	rep.Relations = a.opts.Relations.Link(units, raw)
	a.log.Info("late chunking complete",
		"units", len(units),
		"embedded", rep.Embedded,
		"failed", len(rep.Failed),
		"relations", rep.Relations,
		"cache_hits", rep.CacheHits,
	)
	return rep, ctx.Err()
}

// embedUnits fills raw with per-unit vectors. Cache misses go to the
// embedder in batches; a failed batch is retried one text at a time so a
// single bad input only costs its own unit.
func (a *Analyzer) embedUnits(ctx context.Context, units []doctree.Unit, raw [][]float32) int {
	var missing []int
	hits := 0
	for i := range units {
		if v, ok := a.cache.Lookup(units[i].Content); ok {
			raw[i] = v
			hits++
			continue
		}
		missing = append(missing, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for start := 0; start < len(missing); start += a.opts.BatchSize {
		batch := missing[start:min(start+a.opts.BatchSize, len(missing))]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			texts := make([]string, len(batch))
			for k, i := range batch {
				texts[k] = units[i].Content
			}
			vecs, err := a.embedder.EmbedDocuments(gctx, texts)
			if err == nil && len(vecs) == len(texts) {
				for k, i := range batch {
					raw[i] = a.cache.Store(texts[k], vecs[k])
					a.charge(units[i].ID, texts[k])
				}
				return nil
			}
			if err != nil {
				a.log.Warn("embedding batch failed, retrying individually", "size", len(batch), "error", err)
			}
			for k, i := range batch {
				v, _, err := a.cache.Get(gctx, texts[k], a.embedOne(units[i].ID))
				if err != nil {
					a.log.Warn("unit embedding failed", "unit_id", units[i].ID, "error", err)
					continue
				}
				raw[i] = v
			}
			return nil
		})
	}
	_ = g.Wait()
	return hits
}

func (a *Analyzer) embedOne(unitID string) func(context.Context, string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := a.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		a.charge(unitID, text)
		return v, nil
	}
}

func (a *Analyzer) charge(unitID, text string) {
	if a.tracker == nil {
		return
	}
	err := a.tracker.Add(cost.Record{
		RequestKind: cost.KindEmbedding,
		UnitID:      unitID,
		InputTokens: cost.EstimateTokens(text),
	})
	if errors.Is(err, cost.ErrBudgetExceeded) {
		a.log.Warn("cost budget exceeded during embedding", "unit_id", unitID)
	}
}
