package model

import "time"

// CoverageParams tunes the adaptive radius search.
type CoverageParams struct {
	MinResults        int           `yaml:"min_results_threshold"`
	MaxResults        int           `yaml:"max_results_threshold"`
	Saturation        int           `yaml:"saturation_threshold"`
	InitialRadius     int           `yaml:"initial_radius"`
	MinRadius         int           `yaml:"min_radius"`
	MaxRadius         int           `yaml:"max_radius"`
	GrowthFactor      float64       `yaml:"radius_growth_factor"`
	MaxDepth          int           `yaml:"max_depth"`
	InterCallDelay    time.Duration `yaml:"inter_call_delay"`
	ParallelQuadrants bool          `yaml:"parallel_quadrants"`
	// RegrowQuadrants lets a sparse quadrant expand its radius like any other
	// sparse search. A grown quadrant overlaps its siblings and may bounce
	// between the sparse and dense branches; MaxDepth bounds that.
	RegrowQuadrants bool `yaml:"regrow_quadrants"`
}

// DefaultCoverageParams returns the tuning used by the statewide sweeps.
func DefaultCoverageParams() CoverageParams {
	return CoverageParams{
		MinResults:      15,
		MaxResults:      55,
		Saturation:      55,
		InitialRadius:   15000,
		MinRadius:       3000,
		MaxRadius:       100000,
		GrowthFactor:    1.5,
		MaxDepth:        6,
		InterCallDelay:  500 * time.Millisecond,
		RegrowQuadrants: true,
	}
}

// QualityFilter decides which places are worth a detail lookup.
// Zero values disable the corresponding bound.
type QualityFilter struct {
	MinReviews      int     `yaml:"min_reviews"`
	MaxReviews      int     `yaml:"max_reviews"`
	MinRating       float64 `yaml:"min_rating"`
	OperationalOnly bool    `yaml:"operational_only"`
}

// Pricing is the per-call cost table used for spend estimates (USD).
type Pricing struct {
	PerSearch  float64 `yaml:"per_search"`
	PerDetails float64 `yaml:"per_details"`
	PerGeocode float64 `yaml:"per_geocode"`
}

// DefaultPricing follows the Places/Geocoding list prices.
func DefaultPricing() Pricing {
	return Pricing{
		PerSearch:  0.032,
		PerDetails: 0.017,
		PerGeocode: 0.005,
	}
}
