package model

import "sync/atomic"

// RunStats is the run-wide accumulator. It is the only state shared between
// area workers, so every field is atomic.
type RunStats struct {
	AreasTotal int

	AreasDone       atomic.Int64
	GeocodeCalls    atomic.Int64
	GeocodeFailures atomic.Int64

	SearchCalls    atomic.Int64 // AreaSearcher invocations
	SearchRequests atomic.Int64 // billable HTTP requests (pages)
	SearchFailures atomic.Int64

	DetailCalls    atomic.Int64
	DetailFailures atomic.Int64
	EmailLookups   atomic.Int64

	RadiusIncreases atomic.Int64
	Subdivisions    atomic.Int64
	OptimalFirstTry atomic.Int64
	FloorHits       atomic.Int64
	CeilingHits     atomic.Int64
	DepthCapHits    atomic.Int64

	PlacesFound  atomic.Int64
	PlacesUnique atomic.Int64
	PlacesKept   atomic.Int64
	PlacesStored atomic.Int64
	SinkErrors   atomic.Int64
	RateLimits   atomic.Int64
	AreasFailed  atomic.Int64
	AreasSkipped atomic.Int64
}

// StatsSnapshot is a point-in-time copy of RunStats.
type StatsSnapshot struct {
	AreasTotal      int   `json:"areas_total"`
	AreasDone       int64 `json:"areas_done"`
	AreasFailed     int64 `json:"areas_failed"`
	AreasSkipped    int64 `json:"areas_skipped"`
	GeocodeCalls    int64 `json:"geocode_calls"`
	GeocodeFailures int64 `json:"geocode_failures"`
	SearchCalls     int64 `json:"search_calls"`
	SearchRequests  int64 `json:"search_requests"`
	SearchFailures  int64 `json:"search_failures"`
	DetailCalls     int64 `json:"detail_calls"`
	DetailFailures  int64 `json:"detail_failures"`
	EmailLookups    int64 `json:"email_lookups"`
	RadiusIncreases int64 `json:"radius_increases"`
	Subdivisions    int64 `json:"subdivisions"`
	OptimalFirstTry int64 `json:"optimal_first_try"`
	FloorHits       int64 `json:"floor_hits"`
	CeilingHits     int64 `json:"ceiling_hits"`
	DepthCapHits    int64 `json:"depth_cap_hits"`
	PlacesFound     int64 `json:"places_found"`
	PlacesUnique    int64 `json:"places_unique"`
	PlacesKept      int64 `json:"places_kept"`
	PlacesStored    int64 `json:"places_stored"`
	SinkErrors      int64 `json:"sink_errors"`
	RateLimits      int64 `json:"rate_limits"`
}

func (s *RunStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		AreasTotal:      s.AreasTotal,
		AreasDone:       s.AreasDone.Load(),
		AreasFailed:     s.AreasFailed.Load(),
		AreasSkipped:    s.AreasSkipped.Load(),
		GeocodeCalls:    s.GeocodeCalls.Load(),
		GeocodeFailures: s.GeocodeFailures.Load(),
		SearchCalls:     s.SearchCalls.Load(),
		SearchRequests:  s.SearchRequests.Load(),
		SearchFailures:  s.SearchFailures.Load(),
		DetailCalls:     s.DetailCalls.Load(),
		DetailFailures:  s.DetailFailures.Load(),
		EmailLookups:    s.EmailLookups.Load(),
		RadiusIncreases: s.RadiusIncreases.Load(),
		Subdivisions:    s.Subdivisions.Load(),
		OptimalFirstTry: s.OptimalFirstTry.Load(),
		FloorHits:       s.FloorHits.Load(),
		CeilingHits:     s.CeilingHits.Load(),
		DepthCapHits:    s.DepthCapHits.Load(),
		PlacesFound:     s.PlacesFound.Load(),
		PlacesUnique:    s.PlacesUnique.Load(),
		PlacesKept:      s.PlacesKept.Load(),
		PlacesStored:    s.PlacesStored.Load(),
		SinkErrors:      s.SinkErrors.Load(),
		RateLimits:      s.RateLimits.Load(),
	}
}

// EstimatedCost prices the calls made so far.
func (s *RunStats) EstimatedCost(p Pricing) float64 {
	return s.Snapshot().EstimatedCost(p)
}

func (s StatsSnapshot) EstimatedCost(p Pricing) float64 {
	return float64(s.SearchRequests)*p.PerSearch +
		float64(s.DetailCalls)*p.PerDetails +
		float64(s.GeocodeCalls)*p.PerGeocode
}
