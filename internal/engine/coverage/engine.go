package coverage

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/geosweep/internal/engine/geo"
	"github.com/rendis/geosweep/internal/model"
)

// Class is the density verdict for one search.
type Class int

const (
	Sparse Class = iota
	Optimal
	Dense
)

func (c Class) String() string {
	switch c {
	case Sparse:
		return "sparse"
	case Dense:
		return "dense"
	}
	return "optimal"
}

// AreaSearcher is one bounded search. *Searcher implements it.
type AreaSearcher interface {
	Search(ctx context.Context, area model.SearchArea, keyword string) ([]model.RawPlace, bool, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSleep replaces the inter-call delay implementation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// Engine covers a disk with searches, growing the radius where results are
// sparse and splitting into quadrants where the provider cap is reached.
// It keeps no per-area state and is safe to share between workers.
type Engine struct {
	searcher AreaSearcher
	params   model.CoverageParams
	stats    *model.RunStats
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewEngine(searcher AreaSearcher, params model.CoverageParams, stats *model.RunStats, logger *slog.Logger, opts ...Option) *Engine {
	if stats == nil {
		stats = &model.RunStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		searcher: searcher,
		params:   params,
		stats:    stats,
		logger:   logger,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify applies the thresholds. Both bounds are optimal.
func (e *Engine) Classify(n int) Class {
	switch {
	case n < e.params.MinResults:
		return Sparse
	case n > e.params.MaxResults:
		return Dense
	}
	return Optimal
}

// RootArea builds the initial area for a center, clamping the configured
// initial radius into bounds.
func (e *Engine) RootArea(center orb.Point) model.SearchArea {
	r := e.params.InitialRadius
	r = max(r, e.params.MinRadius)
	r = min(r, e.params.MaxRadius)
	return model.SearchArea{Center: center, RadiusMeters: r}
}

// Cover runs the adaptive search for one root area and keyword. Provider
// failures never abort the walk: the failed sub-area contributes only the
// pages it received and is counted in FailedSearches.
func (e *Engine) Cover(ctx context.Context, root model.SearchArea, keyword string) model.CoverageResult {
	res := e.explore(ctx, root, keyword)
	res.Keyword = keyword
	return res
}

func (e *Engine) explore(ctx context.Context, area model.SearchArea, keyword string) model.CoverageResult {
	res := model.CoverageResult{Keyword: keyword, MaxDepth: area.Depth}

	if area.Depth > 0 {
		if err := e.sleep(ctx, e.params.InterCallDelay); err != nil {
			return res
		}
	}
	if ctx.Err() != nil {
		return res
	}

	places, saturated, err := e.searcher.Search(ctx, area, keyword)
	res.Searches = 1
	if err != nil {
		// Degraded leaf: an outage is not evidence of a sparse area, so
		// the radius is not grown. Pages that did arrive are kept.
		res.FailedSearches = 1
		res.Places = places
		e.logger.Warn("sub-area search failed",
			"lat", area.Lat(), "lng", area.Lng(), "radius", area.RadiusMeters,
			"depth", area.Depth, "keyword", keyword, "partial", len(places), "err", err)
		return res
	}

	// Results of searches that get refined are kept: the refined searches
	// do not cover the parent disk point for point, and dedup removes
	// repeats.
	res.Places = places
	n := len(places)

	switch e.Classify(n) {
	case Sparse:
		res.SparseHits = 1
		switch {
		case area.RadiusMeters >= e.params.MaxRadius:
			res.CeilingHits = 1
			e.stats.CeilingHits.Add(1)
			return e.accept(res, area)
		case area.Quadrant && !e.params.RegrowQuadrants:
			return e.accept(res, area)
		case e.depthCapped(area):
			res.DepthCapHits = 1
			e.stats.DepthCapHits.Add(1)
			return e.accept(res, area)
		}

		grown := geo.Grow(area, e.params.GrowthFactor, e.params.MaxRadius)
		e.stats.RadiusIncreases.Add(1)
		e.logger.Debug("sparse, growing radius",
			"count", n, "radius", area.RadiusMeters, "new_radius", grown.RadiusMeters, "depth", area.Depth)
		return merge(res, e.explore(ctx, grown, keyword))

	case Dense:
		res.DenseHits = 1
		switch {
		case area.RadiusMeters <= e.params.MinRadius:
			// Coverage limitation: the result is truncated by the cap.
			res.FloorHits = 1
			e.stats.FloorHits.Add(1)
			e.logger.Info("dense at minimum radius, accepting truncated result",
				"lat", area.Lat(), "lng", area.Lng(), "radius", area.RadiusMeters,
				"count", n, "saturated", saturated)
			return e.accept(res, area)
		case e.depthCapped(area):
			res.DepthCapHits = 1
			e.stats.DepthCapHits.Add(1)
			return e.accept(res, area)
		}

		children := geo.Subdivide(area, e.params.MinRadius)
		e.stats.Subdivisions.Add(1)
		e.logger.Debug("dense, subdividing",
			"count", n, "radius", area.RadiusMeters, "child_radius", children[0].RadiusMeters, "depth", area.Depth)

		for _, sub := range e.exploreChildren(ctx, children, keyword) {
			res = merge(res, sub)
		}
		return res
	}

	if area.Depth == 0 {
		e.stats.OptimalFirstTry.Add(1)
	}
	return e.accept(res, area)
}

func (e *Engine) exploreChildren(ctx context.Context, children [4]model.SearchArea, keyword string) [4]model.CoverageResult {
	var out [4]model.CoverageResult
	if !e.params.ParallelQuadrants {
		for i, child := range children {
			out[i] = e.explore(ctx, child, keyword)
		}
		return out
	}

	var g errgroup.Group
	for i, child := range children {
		g.Go(func() error {
			out[i] = e.explore(ctx, child, keyword)
			return nil
		})
	}
	g.Wait()
	return out
}

func (e *Engine) depthCapped(area model.SearchArea) bool {
	return e.params.MaxDepth > 0 && area.Depth >= e.params.MaxDepth
}

func (e *Engine) accept(res model.CoverageResult, area model.SearchArea) model.CoverageResult {
	res.Radii = append(res.Radii, area.RadiusMeters)
	return res
}

// merge folds child into parent, keeping parent places first.
func merge(parent, child model.CoverageResult) model.CoverageResult {
	parent.Places = append(parent.Places, child.Places...)
	parent.Radii = append(parent.Radii, child.Radii...)
	parent.SparseHits += child.SparseHits
	parent.DenseHits += child.DenseHits
	parent.FloorHits += child.FloorHits
	parent.CeilingHits += child.CeilingHits
	parent.DepthCapHits += child.DepthCapHits
	parent.FailedSearches += child.FailedSearches
	parent.Searches += child.Searches
	parent.MaxDepth = max(parent.MaxDepth, child.MaxDepth)
	return parent
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
