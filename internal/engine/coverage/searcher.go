package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/rendis/geosweep/internal/engine/geo"
	"github.com/rendis/geosweep/internal/model"
)

// ErrProviderTransport wraps every failure of a single area search: timeout,
// network, non-2xx or a non-success provider status.
var ErrProviderTransport = errors.New("provider transport error")

// Provider is a radius-bounded nearby search with a fixed per-call cap.
type Provider interface {
	NearbySearch(ctx context.Context, center orb.Point, radiusMeters int, keyword string) (model.NearbyResult, error)
	ResultCap() int
}

// Searcher issues exactly one provider search per call and reports whether
// the result hit the saturation threshold.
type Searcher struct {
	provider   Provider
	saturation int
	stats      *model.RunStats
	logger     *slog.Logger
}

// NewSearcher builds a Searcher. A saturation threshold of zero, or one
// above the provider cap, is replaced by the provider cap.
func NewSearcher(provider Provider, saturation int, stats *model.RunStats, logger *slog.Logger) *Searcher {
	if limit := provider.ResultCap(); saturation <= 0 || (limit > 0 && saturation > limit) {
		saturation = limit
	}
	if stats == nil {
		stats = &model.RunStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{provider: provider, saturation: saturation, stats: stats, logger: logger}
}

// SaturationThreshold is the count at or above which a search is saturated.
func (s *Searcher) SaturationThreshold() int {
	return s.saturation
}

// Search runs one search. On failure it returns whatever pages arrived
// before the error, saturated=false and an error wrapping
// ErrProviderTransport.
func (s *Searcher) Search(ctx context.Context, area model.SearchArea, keyword string) ([]model.RawPlace, bool, error) {
	s.stats.SearchCalls.Add(1)

	res, err := s.provider.NearbySearch(ctx, area.Center, area.RadiusMeters, keyword)
	requests := res.Requests
	if requests == 0 {
		// a call that never reached the wire is still charged once
		requests = 1
	}
	s.stats.SearchRequests.Add(int64(requests))

	places := res.Places
	s.stats.PlacesFound.Add(int64(len(places)))

	if err != nil {
		// pages fetched before the failure are paid for and kept
		s.stats.SearchFailures.Add(1)
		return places, false, fmt.Errorf("%w: %w", ErrProviderTransport, err)
	}
	saturated := s.saturation > 0 && len(places) >= s.saturation

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		outside := 0
		for _, p := range places {
			if !geo.Within(area, p.Location) {
				outside++
			}
		}
		s.logger.Debug("area searched",
			"lat", area.Lat(), "lng", area.Lng(), "radius", area.RadiusMeters,
			"depth", area.Depth, "keyword", keyword, "count", len(places),
			"outside_radius", outside, "saturated", saturated)
	}

	return places, saturated, nil
}
