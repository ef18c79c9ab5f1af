package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// CoverageResult is the outcome of one adaptive search rooted at a single
// initial area. The caller owns it.
type CoverageResult struct {
	Keyword string
	Places  []RawPlace
	// Radii lists the radius of every leaf area whose results were accepted.
	Radii []int

	SparseHits     int
	DenseHits      int
	MaxDepth       int
	FloorHits      int // dense leaves accepted at MinRadius (truncated)
	CeilingHits    int // sparse leaves accepted at MaxRadius
	DepthCapHits   int
	FailedSearches int
	Searches       int
}

// Complete reports whether every leaf ended in a clean optimal/sparse state.
func (c CoverageResult) Complete() bool {
	return c.FloorHits == 0 && c.DepthCapHits == 0 && c.FailedSearches == 0
}

// AreaReport is everything the pipeline produced for one named area.
type AreaReport struct {
	RunID     uuid.UUID
	Name      string
	Center    orb.Point
	Coverage  []CoverageResult
	Places    []EnrichedPlace
	Found     int // raw results across all keywords
	InRegion  int // after the boundary filter
	Unique    int // after dedup
	Qualified int // after the quality filter
	Err       error
	Elapsed   time.Duration
}

// FloorHits sums recursion-floor leaves across keywords.
func (r AreaReport) FloorHits() int {
	n := 0
	for _, c := range r.Coverage {
		n += c.FloorHits
	}
	return n
}

// FailedSearches sums degraded sub-areas across keywords.
func (r AreaReport) FailedSearches() int {
	n := 0
	for _, c := range r.Coverage {
		n += c.FailedSearches
	}
	return n
}

// RunSummary is handed to the sinks once all areas are done.
type RunSummary struct {
	ID            uuid.UUID
	Keywords      []string
	StartedAt     time.Time
	FinishedAt    time.Time
	Stats         StatsSnapshot
	EstimatedCost float64
	Areas         []AreaReport
}
