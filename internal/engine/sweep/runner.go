// Package sweep drives named areas through the full pipeline: geocode,
// adaptive coverage per keyword, region filter, dedup, quality filter,
// enrichment and the result sink.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/rendis/geosweep/internal/engine/dedup"
	"github.com/rendis/geosweep/internal/engine/enrich"
	"github.com/rendis/geosweep/internal/engine/geo"
	"github.com/rendis/geosweep/internal/engine/storage"
	"github.com/rendis/geosweep/internal/model"
)

// ErrCapReached marks areas that were never started because the run hit
// its place or cost cap.
var ErrCapReached = errors.New("run cap reached")

// Coverer is the adaptive search. *coverage.Engine implements it.
type Coverer interface {
	RootArea(center orb.Point) model.SearchArea
	Cover(ctx context.Context, root model.SearchArea, keyword string) model.CoverageResult
}

// Options tunes a Runner.
type Options struct {
	Keywords []string
	// Concurrency bounds the areas processed at once.
	Concurrency int
	Filter      model.QualityFilter
	// Region drops places outside it. Empty keeps everything.
	Region orb.MultiPolygon
	Dedup  dedup.Keys
	// MaxPlaces and MaxCost stop scheduling new areas once reached. Zero
	// disables the cap.
	MaxPlaces int
	MaxCost   float64
	Pricing   model.Pricing
	// Progress receives the live progress line. Nil means stderr.
	Progress         io.Writer
	SuppressProgress bool
}

// Runner processes areas with a bounded worker pool. The RunStats it is
// given is the only state its workers share.
type Runner struct {
	geocoder geo.Geocoder
	coverer  Coverer
	enricher *enrich.Enricher
	sink     storage.Sink
	stats    *model.RunStats
	logger   *slog.Logger
	opts     Options
}

func New(geocoder geo.Geocoder, coverer Coverer, enricher *enrich.Enricher, sink storage.Sink, stats *model.RunStats, logger *slog.Logger, opts Options) *Runner {
	if stats == nil {
		stats = &model.RunStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Progress == nil {
		opts.Progress = os.Stderr
	}
	return &Runner{
		geocoder: geocoder,
		coverer:  coverer,
		enricher: enricher,
		sink:     sink,
		stats:    stats,
		logger:   logger,
		opts:     opts,
	}
}

type job struct {
	index int
	area  Area
}

// Run sweeps every area and hands the run summary to the sink. Per-area
// failures are recorded in the summary; the returned error is only set when
// ctx was cancelled.
func (r *Runner) Run(ctx context.Context, areas []Area) (model.RunSummary, error) {
	summary := model.RunSummary{
		ID:        uuid.New(),
		Keywords:  r.opts.Keywords,
		StartedAt: time.Now(),
	}
	r.stats.AreasTotal = len(areas)

	jobs := make(chan job, len(areas))
	for i, a := range areas {
		jobs <- job{index: i, area: a}
	}
	close(jobs)

	reports := make([]model.AreaReport, len(areas))
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.opts.Concurrency)

	stopProgress := r.startProgress(summary.StartedAt)

	var runErr error
	for j := range jobs {
		sem <- struct{}{}

		if err := ctx.Err(); err != nil {
			<-sem
			runErr = err
			r.skip(reports, summary.ID, j, err)
			continue
		}
		if reason := r.capReached(); reason != "" {
			<-sem
			r.logger.Info("cap reached, skipping area", "area", j.area.Name, "reason", reason)
			r.skip(reports, summary.ID, j, ErrCapReached)
			continue
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			rep := r.ProcessArea(ctx, summary.ID, j.area)
			r.store(ctx, &rep)
			reports[j.index] = rep
		}(j)
	}

	wg.Wait()
	stopProgress()

	summary.FinishedAt = time.Now()
	summary.Stats = r.stats.Snapshot()
	summary.EstimatedCost = summary.Stats.EstimatedCost(r.opts.Pricing)
	summary.Areas = reports

	if err := r.sink.WriteRun(context.WithoutCancel(ctx), summary); err != nil {
		r.stats.SinkErrors.Add(1)
		r.logger.Error("writing run summary", "run_id", summary.ID, "err", err)
	}

	r.logger.Info("run finished",
		"run_id", summary.ID,
		"areas", len(areas),
		"kept", summary.Stats.PlacesKept,
		"stored", summary.Stats.PlacesStored,
		"search_requests", summary.Stats.SearchRequests,
		"detail_calls", summary.Stats.DetailCalls,
		"estimated_cost", fmt.Sprintf("%.2f", summary.EstimatedCost),
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt).Truncate(time.Second))

	return summary, runErr
}

// ProcessArea runs one area end to end, without writing to the sink. Errors
// stop at this boundary and are returned in the report.
func (r *Runner) ProcessArea(ctx context.Context, runID uuid.UUID, a Area) (rep model.AreaReport) {
	start := time.Now()
	rep = model.AreaReport{RunID: runID, Name: a.Name}
	defer func() {
		rep.Elapsed = time.Since(start)
	}()

	center, err := r.resolve(ctx, a)
	if err != nil {
		rep.Err = err
		r.stats.AreasFailed.Add(1)
		r.logger.Warn("area skipped", "area", a.Name, "err", err)
		return rep
	}
	rep.Center = center

	root := r.coverer.RootArea(center)
	var raw []model.RawPlace
	for _, kw := range r.opts.Keywords {
		if ctx.Err() != nil {
			break
		}
		res := r.coverer.Cover(ctx, root, kw)
		found := len(res.Places)
		for _, p := range res.Places {
			if p.Keyword == "" {
				p.Keyword = kw
			}
			raw = append(raw, p)
		}
		res.Places = nil
		rep.Coverage = append(rep.Coverage, res)

		r.logger.Info("keyword covered",
			"area", a.Name, "keyword", kw, "searches", res.Searches, "found", found,
			"max_depth", res.MaxDepth, "floor_hits", res.FloorHits, "failed", res.FailedSearches)
	}
	rep.Found = len(raw)

	raw = geo.FilterInside(raw, r.opts.Region)
	rep.InRegion = len(raw)

	unique := dedup.Merge(raw)
	rep.Unique = len(unique)
	r.stats.PlacesUnique.Add(int64(len(unique)))

	qualified := enrich.Filter(unique, r.opts.Filter)
	rep.Qualified = len(qualified)

	enriched := r.enricher.EnrichAll(ctx, qualified, a.Name)
	rep.Places = dedup.MergeEnriched(enriched, r.opts.Dedup)
	r.stats.PlacesKept.Add(int64(len(rep.Places)))

	r.logger.Info("area done",
		"area", a.Name, "found", rep.Found, "in_region", rep.InRegion, "unique", rep.Unique,
		"qualified", rep.Qualified, "kept", len(rep.Places), "elapsed", time.Since(start).Truncate(time.Millisecond))
	return rep
}

func (r *Runner) resolve(ctx context.Context, a Area) (orb.Point, error) {
	if a.Center != nil {
		return *a.Center, nil
	}
	r.stats.GeocodeCalls.Add(1)
	loc, err := r.geocoder.Geocode(ctx, a.Query)
	if err != nil {
		r.stats.GeocodeFailures.Add(1)
		if !errors.Is(err, geo.ErrGeocodingFailed) {
			err = fmt.Errorf("%w: %w", geo.ErrGeocodingFailed, err)
		}
		return orb.Point{}, err
	}
	r.logger.Debug("geocoded", "area", a.Name, "query", a.Query, "lat", loc.Point.Lat(), "lng", loc.Point.Lon(), "display_name", loc.DisplayName)
	return loc.Point, nil
}

// store hands the area to the sink. Writes survive cancellation so an
// interrupted run keeps what it already paid for.
func (r *Runner) store(ctx context.Context, rep *model.AreaReport) {
	defer r.stats.AreasDone.Add(1)

	n, err := r.sink.WriteArea(context.WithoutCancel(ctx), *rep)
	r.stats.PlacesStored.Add(int64(n))
	if err != nil {
		r.stats.SinkErrors.Add(1)
		r.logger.Error("writing area", "area", rep.Name, "err", err)
	}
}

func (r *Runner) skip(reports []model.AreaReport, runID uuid.UUID, j job, reason error) {
	r.stats.AreasSkipped.Add(1)
	reports[j.index] = model.AreaReport{RunID: runID, Name: j.area.Name, Err: reason}
}

func (r *Runner) capReached() string {
	if r.opts.MaxPlaces > 0 && r.stats.PlacesKept.Load() >= int64(r.opts.MaxPlaces) {
		return fmt.Sprintf("max_places=%d", r.opts.MaxPlaces)
	}
	if r.opts.MaxCost > 0 {
		if cost := r.stats.EstimatedCost(r.opts.Pricing); cost >= r.opts.MaxCost {
			return fmt.Sprintf("max_cost=%.2f", r.opts.MaxCost)
		}
	}
	return ""
}
