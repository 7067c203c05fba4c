// Package coordmap places findings on pages. Only exact, contiguous matches
// of a finding's normalized anchor text against the page's normalized token
// stream produce regions; there is no fuzzy fallback.
package coordmap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/textnorm"
)

// Options tune line grouping, merging and validation. Tolerances are in
// the page's source space (pixels for image pages).
type Options struct {
	LineTolerance  float64
	MergeTolerance float64
	BoundsEpsilon  float64 // points
	CacheSize      int
}

func DefaultOptions() Options {
	return Options{LineTolerance: 3, MergeTolerance: 10, BoundsEpsilon: 0.5, CacheSize: 256}
}

// OptionsFrom maps run configuration onto mapper options.
func OptionsFrom(cfg config.Analysis) Options {
	o := DefaultOptions()
	o.LineTolerance = cfg.LineTolerance
	o.MergeTolerance = cfg.MergeTolerance
	return o
}

// Report is the outcome of mapping a batch of findings.
// Unmapped lists finding IDs with no region, in finding order.
// TokenIntersections counts regions that overlap at least one page token.
type Report struct {
	Regions            []Region                 `json:"regions"`
	Unmapped           []string                 `json:"unmapped"`
	UnmappedDetails    []UnmappableFindingError `json:"unmappedDetails,omitempty"`
	Rejected           []GeometryError          `json:"rejected,omitempty"`
	TokenIntersections int                      `json:"tokenIntersections"`
}

// ByFinding groups regions by finding ID.
func (r *Report) ByFinding() map[string][]Region {
	out := make(map[string][]Region)
	for _, reg := range r.Regions {
		out[reg.Metadata.FindingID] = append(out[reg.Metadata.FindingID], reg)
	}
	return out
}

type pageIndex struct {
	words   []string
	wordTok []int // token index of each word
}

// Mapper maps findings to regions. It caches normalized pages by content
// hash and is safe for concurrent use.
type Mapper struct {
	opts  Options
	cache *lru.Cache[string, *pageIndex]
	log   *slog.Logger
}

func New(opts Options, log *slog.Logger) (*Mapper, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.LineTolerance <= 0 {
		opts.LineTolerance = DefaultOptions().LineTolerance
	}
	if opts.MergeTolerance < 0 {
		opts.MergeTolerance = 0
	}
	cache, err := lru.New[string, *pageIndex](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("init page cache: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{opts: opts, cache: cache, log: log}, nil
}

// WithTolerances returns a mapper using the line and merge tolerances of
// cfg. It shares the page cache with m, which does not depend on them.
func (m *Mapper) WithTolerances(cfg config.Analysis) *Mapper {
	o := OptionsFrom(cfg)
	if o.LineTolerance <= 0 {
		o.LineTolerance = m.opts.LineTolerance
	}
	if o.MergeTolerance < 0 {
		o.MergeTolerance = 0
	}
	if o.LineTolerance == m.opts.LineTolerance && o.MergeTolerance == m.opts.MergeTolerance {
		return m
	}
	cp := *m
	cp.opts.LineTolerance = o.LineTolerance
	cp.opts.MergeTolerance = o.MergeTolerance
	return &cp
}

func pageKey(p *doctree.Page) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n", p.Number)
	for _, t := range p.Tokens {
		fmt.Fprintf(h, "%s\x00%g\x00%g\x00%g\x00%g\n", t.Text, t.X, t.Y, t.Width, t.Height)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Mapper) index(p *doctree.Page) *pageIndex {
	key := pageKey(p)
	if idx, ok := m.cache.Get(key); ok {
		return idx
	}
	idx := &pageIndex{}
	for i, t := range p.Tokens {
		for _, w := range textnorm.Words(t.Text) {
			idx.words = append(idx.words, w)
			idx.wordTok = append(idx.wordTok, i)
		}
	}
	if prev, ok, _ := m.cache.PeekOrAdd(key, idx); ok {
		return prev
	}
	return idx
}

// MapFinding returns the validated regions of one finding on page. With no
// regions the error is *UnmappableFindingError. rejected holds regions
// dropped by validation.
func (m *Mapper) MapFinding(f *extract.Finding, page *doctree.Page) (regions []Region, rejected []GeometryError, err error) {
	unmapped := func(reason string) error {
		return &UnmappableFindingError{FindingID: f.ID, Page: f.PageNumber, Anchor: f.AnchorText, Reason: reason}
	}
	if page == nil {
		return nil, nil, unmapped("page not found")
	}
	needle := textnorm.Words(f.AnchorText)
	if len(needle) == 0 {
		return nil, nil, unmapped("anchor has no words")
	}
	if len(page.Tokens) == 0 {
		return nil, nil, unmapped("page has no text tokens")
	}

	idx := m.index(page)
	starts := textnorm.All(idx.words, needle)
	if len(starts) == 0 {
		return nil, nil, unmapped("anchor not found on page")
	}

	var rects []doctree.Rect
	for _, s := range starts {
		var toks []doctree.PageToken
		last := -1
		for w := s; w < s+len(needle); w++ {
			if ti := idx.wordTok[w]; ti != last {
				toks = append(toks, page.Tokens[ti])
				last = ti
			}
		}
		rects = append(rects, groupLines(toks, m.opts.LineTolerance)...)
	}
	rects = mergeNear(rects, m.opts.MergeTolerance)

	scale := page.PointsPerPixel()
	for _, r := range rects {
		pt := r
		if scale != 1 {
			pt = r.Scale(scale)
		}
		if gerr := m.validate(f, page, pt); gerr != nil {
			m.log.Warn("region rejected", "finding_id", f.ID, "page", page.Number, "reason", gerr.Reason)
			rejected = append(rejected, *gerr)
			continue
		}
		regions = append(regions, newRegion(f, page.Number, len(regions), pt))
	}
	if len(regions) == 0 {
		return nil, rejected, unmapped("all matched regions failed validation")
	}
	return regions, rejected, nil
}

func (m *Mapper) validate(f *extract.Finding, page *doctree.Page, r doctree.Rect) *GeometryError {
	reject := func(reason string) *GeometryError {
		return &GeometryError{FindingID: f.ID, Page: page.Number, Rect: r, Reason: reason}
	}
	if r.Width <= 0 || r.Height <= 0 {
		return reject("degenerate rectangle")
	}
	if page.Width <= 0 || page.Height <= 0 {
		return reject("page has no size")
	}
	if !r.Within(page.Width, page.Height, m.opts.BoundsEpsilon) {
		return reject("outside page bounds")
	}
	return nil
}

type mapped struct {
	regions  []Region
	rejected []GeometryError
	err      error
}

// MapFindings maps every finding against its declared page. Pages are
// processed in parallel; the report lists regions in finding order.
func (m *Mapper) MapFindings(ctx context.Context, findings []extract.Finding, doc *doctree.Document) (Report, error) {
	results := make([]mapped, len(findings))
	byPage := map[int][]int{}
	for i := range findings {
		byPage[findings[i].PageNumber] = append(byPage[findings[i].PageNumber], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for pageNum, idxs := range byPage {
		var page *doctree.Page
		if doc != nil {
			page = doc.Page(pageNum)
		}
		g.Go(func() error {
			for _, i := range idxs {
				if err := gctx.Err(); err != nil {
					return err
				}
				regs, rej, err := m.MapFinding(&findings[i], page)
				results[i] = mapped{regions: regs, rejected: rej, err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{Regions: []Region{}, Unmapped: []string{}}
	for i, res := range results {
		rep.Rejected = append(rep.Rejected, res.rejected...)
		if res.err != nil {
			rep.Unmapped = append(rep.Unmapped, findings[i].ID)
			var ue *UnmappableFindingError
			if errors.As(res.err, &ue) {
				rep.UnmappedDetails = append(rep.UnmappedDetails, *ue)
			}
			continue
		}
		rep.Regions = append(rep.Regions, res.regions...)
	}
	if doc != nil {
		rep.TokenIntersections = countIntersections(rep.Regions, doc)
	}
	m.log.Info("findings mapped",
		"findings", len(findings),
		"regions", len(rep.Regions),
		"unmapped", len(rep.Unmapped),
		"rejected", len(rep.Rejected),
	)
	return rep, nil
}

func countIntersections(regions []Region, doc *doctree.Document) int {
	n := 0
	for _, r := range regions {
		page := doc.Page(r.Page)
		if page == nil {
			continue
		}
		scale := page.PointsPerPixel()
		for _, t := range page.Tokens {
			if t.Rect().Scale(scale).Intersects(r.Rect) {
				n++
				break
			}
		}
	}
	return n
}

// MapFindings maps findings with default options and no logging. It
// returns the regions and the IDs of findings that produced none.
func MapFindings(findings []extract.Finding, pages []doctree.Page) ([]Region, []string) {
	m, err := New(DefaultOptions(), slog.New(slog.DiscardHandler))
	if err != nil {
		panic(err)
	}
	rep, _ := m.MapFindings(context.Background(), findings, &doctree.Document{Pages: pages})
	return rep.Regions, rep.Unmapped
}
