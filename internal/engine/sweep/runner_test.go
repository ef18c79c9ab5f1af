package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"go.uber.org/goleak"

	"github.com/rendis/geosweep/internal/engine/coverage"
	"github.com/rendis/geosweep/internal/engine/dedup"
	"github.com/rendis/geosweep/internal/engine/enrich"
	"github.com/rendis/geosweep/internal/engine/geo"
	"github.com/rendis/geosweep/internal/logging"
	"github.com/rendis/geosweep/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGeocoder struct {
	points map[string]orb.Point
}

func (g *fakeGeocoder) Geocode(_ context.Context, query string) (geo.Location, error) {
	p, ok := g.points[query]
	if !ok {
		return geo.Location{}, fmt.Errorf("%w: %q not found", geo.ErrGeocodingFailed, query)
	}
	return geo.Location{Point: p, DisplayName: query}, nil
}

type fakeCoverer struct {
	mu     sync.Mutex
	places map[string][]model.RawPlace // by keyword
	calls  []model.SearchArea
}

func (c *fakeCoverer) RootArea(center orb.Point) model.SearchArea {
	return model.SearchArea{Center: center, RadiusMeters: 15000}
}

func (c *fakeCoverer) Cover(_ context.Context, root model.SearchArea, keyword string) model.CoverageResult {
	c.mu.Lock()
	c.calls = append(c.calls, root)
	c.mu.Unlock()
	places := append([]model.RawPlace(nil), c.places[keyword]...)
	return model.CoverageResult{Keyword: keyword, Places: places, Radii: []int{root.RadiusMeters}, Searches: 1}
}

type fakeDetails struct {
	mu    sync.Mutex
	calls map[string]int
}

func (d *fakeDetails) Details(_ context.Context, placeID string) (model.PlaceDetails, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[placeID]++
	return model.PlaceDetails{Phone: "(713) 555-0100", Website: "https://" + placeID + ".example.com"}, nil
}

type memSink struct {
	mu     sync.Mutex
	areas  []model.AreaReport
	runs   []model.RunSummary
	failOn string
}

func (s *memSink) WriteArea(_ context.Context, r model.AreaReport) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Name == s.failOn {
		return 0, errors.New("disk full")
	}
	s.areas = append(s.areas, r)
	return len(r.Places), nil
}

func (s *memSink) WriteRun(_ context.Context, sum model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, sum)
	return nil
}

func (s *memSink) Close() error { return nil }

func rating(v float64) *float64 { return &v }

func place(id string, r float64, reviews int) model.RawPlace {
	return model.RawPlace{
		ID:          id,
		Name:        "Place " + id,
		Rating:      rating(r),
		ReviewCount: reviews,
		Status:      model.StatusOperational,
		Location:    orb.Point{-95.36, 29.76},
	}
}

func newTestRunner(cov Coverer, details enrich.DetailProvider, sink *memSink, stats *model.RunStats, opts Options) *Runner {
	logger := logging.Discard()
	geocoder := &fakeGeocoder{points: map[string]orb.Point{
		"Houston, TX": {-95.3698, 29.7604},
		"Dallas, TX":  {-96.7970, 32.7767},
		"Austin, TX":  {-97.7431, 30.2672},
	}}
	enricher := enrich.NewEnricher(details, nil, stats, logger)
	opts.SuppressProgress = true
	opts.Progress = io.Discard
	return New(geocoder, cov, enricher, sink, stats, logger, opts)
}

func TestRunPipeline(t *testing.T) {
	closed := place("ChIJclosed", 4.8, 300)
	closed.Status = model.StatusClosedPermanently

	cov := &fakeCoverer{places: map[string][]model.RawPlace{
		"plumber": {
			place("ChIJ123", 4.6, 120),
			place("ChIJlow", 3.5, 500),
			place("ChIJ123", 4.6, 120),
			closed,
		},
		"electrician": {
			place("ChIJ456", 4.2, 40),
			place("ChIJ123", 4.6, 120),
		},
	}}
	details := &fakeDetails{}
	sink := &memSink{}
	stats := &model.RunStats{}

	r := newTestRunner(cov, details, sink, stats, Options{
		Keywords:    []string{"plumber", "electrician"},
		Concurrency: 2,
		Filter:      model.QualityFilter{MinReviews: 10, MinRating: 4.0, OperationalOnly: true},
		Pricing:     model.DefaultPricing(),
	})

	areas := ParseAreas([]string{"Houston", "Austin@30.2672,-97.7431"}, ", TX")
	sum, err := r.Run(context.Background(), areas)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sum.Areas) != 2 {
		t.Fatalf("got %d area reports, want 2", len(sum.Areas))
	}
	for _, rep := range sum.Areas {
		if rep.Err != nil {
			t.Errorf("area %s: unexpected error %v", rep.Name, rep.Err)
		}
		if rep.Found != 6 {
			t.Errorf("area %s: Found = %d, want 6", rep.Name, rep.Found)
		}
		if rep.Unique != 4 {
			t.Errorf("area %s: Unique = %d, want 4", rep.Name, rep.Unique)
		}
		if rep.Qualified != 2 {
			t.Errorf("area %s: Qualified = %d, want 2", rep.Name, rep.Qualified)
		}
		if len(rep.Places) != 2 || rep.Places[0].ID != "ChIJ123" || rep.Places[1].ID != "ChIJ456" {
			t.Errorf("area %s: places = %+v", rep.Name, rep.Places)
		}
		if rep.Places[0].Area != rep.Name {
			t.Errorf("area label = %q, want %q", rep.Places[0].Area, rep.Name)
		}
		if rep.Places[0].Phone == "" {
			t.Error("expected detail fields on enriched place")
		}
		if len(rep.Coverage) != 2 {
			t.Errorf("area %s: %d coverage results, want one per keyword", rep.Name, len(rep.Coverage))
		}
	}

	if n := details.calls["ChIJlow"]; n != 0 {
		t.Errorf("details fetched %d times for a place below min rating", n)
	}
	if n := details.calls["ChIJclosed"]; n != 0 {
		t.Errorf("details fetched %d times for a closed place", n)
	}
	if n := details.calls["ChIJ123"]; n != 2 {
		t.Errorf("details for ChIJ123 = %d, want once per area", n)
	}

	if sum.Stats.AreasDone != 2 || sum.Stats.GeocodeCalls != 1 {
		t.Errorf("stats = %+v", sum.Stats)
	}
	if sum.Stats.PlacesKept != 4 || sum.Stats.PlacesStored != 4 {
		t.Errorf("kept/stored = %d/%d, want 4/4", sum.Stats.PlacesKept, sum.Stats.PlacesStored)
	}
	if sum.Stats.DetailCalls != 4 {
		t.Errorf("DetailCalls = %d, want 4", sum.Stats.DetailCalls)
	}
	if len(sink.runs) != 1 || sink.runs[0].ID != sum.ID {
		t.Errorf("run summary not handed to sink: %+v", sink.runs)
	}
	if len(sink.areas) != 2 {
		t.Errorf("sink got %d areas, want 2", len(sink.areas))
	}
}

func TestGeocodeFailureIsContained(t *testing.T) {
	cov := &fakeCoverer{places: map[string][]model.RawPlace{
		"roofer": {place("ChIJ1", 4.5, 50)},
	}}
	sink := &memSink{}
	stats := &model.RunStats{}
	r := newTestRunner(cov, nil, sink, stats, Options{Keywords: []string{"roofer"}, Concurrency: 3})

	sum, err := r.Run(context.Background(), ParseAreas([]string{"Atlantis", "Dallas"}, ", TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	failed := sum.Areas[0]
	if !errors.Is(failed.Err, geo.ErrGeocodingFailed) {
		t.Errorf("Atlantis error = %v, want ErrGeocodingFailed", failed.Err)
	}
	if len(failed.Coverage) != 0 {
		t.Error("coverage ran for an area that failed geocoding")
	}
	if sum.Areas[1].Err != nil || len(sum.Areas[1].Places) != 1 {
		t.Errorf("Dallas report = %+v", sum.Areas[1])
	}
	if sum.Stats.AreasFailed != 1 || sum.Stats.GeocodeFailures != 1 || sum.Stats.AreasDone != 2 {
		t.Errorf("stats = %+v", sum.Stats)
	}
	if len(cov.calls) != 1 {
		t.Errorf("coverage calls = %d, want 1", len(cov.calls))
	}
}

func TestSinkErrorIsCounted(t *testing.T) {
	cov := &fakeCoverer{places: map[string][]model.RawPlace{"hvac": {place("ChIJ1", 4.5, 50)}}}
	sink := &memSink{failOn: "Houston"}
	stats := &model.RunStats{}
	r := newTestRunner(cov, nil, sink, stats, Options{Keywords: []string{"hvac"}, Concurrency: 1})

	sum, err := r.Run(context.Background(), ParseAreas([]string{"Houston", "Dallas"}, ", TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Stats.SinkErrors != 1 {
		t.Errorf("SinkErrors = %d, want 1", sum.Stats.SinkErrors)
	}
	if sum.Stats.PlacesStored != 1 {
		t.Errorf("PlacesStored = %d, want 1", sum.Stats.PlacesStored)
	}
}

func TestMaxPlacesStopsScheduling(t *testing.T) {
	cov := &fakeCoverer{places: map[string][]model.RawPlace{
		"dentist": {place("ChIJ1", 4.5, 50), place("ChIJ2", 4.7, 80)},
	}}
	sink := &memSink{}
	stats := &model.RunStats{}
	r := newTestRunner(cov, nil, sink, stats, Options{
		Keywords:    []string{"dentist"},
		Concurrency: 1,
		MaxPlaces:   2,
	})

	sum, err := r.Run(context.Background(), ParseAreas([]string{"Houston", "Dallas", "Austin"}, ", TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sum.Areas[0].Err != nil {
		t.Errorf("first area error = %v", sum.Areas[0].Err)
	}
	for _, rep := range sum.Areas[1:] {
		if !errors.Is(rep.Err, ErrCapReached) {
			t.Errorf("area %s error = %v, want ErrCapReached", rep.Name, rep.Err)
		}
	}
	if sum.Stats.AreasSkipped != 2 {
		t.Errorf("AreasSkipped = %d, want 2", sum.Stats.AreasSkipped)
	}
	if len(cov.calls) != 1 {
		t.Errorf("coverage calls = %d, want 1", len(cov.calls))
	}
}

func TestMaxCostStopsScheduling(t *testing.T) {
	cov := &fakeCoverer{places: map[string][]model.RawPlace{"dentist": {place("ChIJ1", 4.5, 50)}}}
	stats := &model.RunStats{}
	r := newTestRunner(cov, nil, &memSink{}, stats, Options{
		Keywords:    []string{"dentist"},
		Concurrency: 1,
		MaxCost:     0.004,
		Pricing:     model.Pricing{PerGeocode: 0.005},
	})

	sum, err := r.Run(context.Background(), ParseAreas([]string{"Houston", "Dallas"}, ", TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !errors.Is(sum.Areas[1].Err, ErrCapReached) {
		t.Errorf("second area error = %v, want ErrCapReached", sum.Areas[1].Err)
	}
}

func TestCancelledRunSkipsAreas(t *testing.T) {
	cov := &fakeCoverer{}
	sink := &memSink{}
	stats := &model.RunStats{}
	r := newTestRunner(cov, nil, sink, stats, Options{Keywords: []string{"hvac"}, Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := r.Run(ctx, ParseAreas([]string{"Houston", "Dallas"}, ", TX"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if sum.Stats.AreasSkipped != 2 {
		t.Errorf("AreasSkipped = %d, want 2", sum.Stats.AreasSkipped)
	}
	if len(cov.calls) != 0 {
		t.Errorf("coverage ran %d times after cancellation", len(cov.calls))
	}
	if len(sink.runs) != 1 {
		t.Error("run summary should still be written after cancellation")
	}
}

// denseProvider saturates at the root radius and returns 20 distinct
// results for each quadrant.
type denseProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *denseProvider) ResultCap() int { return 60 }

func (p *denseProvider) NearbySearch(_ context.Context, center orb.Point, radius int, keyword string) (model.NearbyResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	n := 20
	if radius >= 15000 {
		n = 60
	}
	places := make([]model.RawPlace, n)
	for i := range places {
		id := fmt.Sprintf("%.4f,%.4f#%d", center.Lat(), center.Lon(), i)
		places[i] = model.RawPlace{
			ID:          id,
			Name:        id,
			Rating:      rating(4.5),
			ReviewCount: 25,
			Status:      model.StatusOperational,
			Location:    center,
			Keyword:     keyword,
		}
	}
	return model.NearbyResult{Places: places, Requests: (n + 19) / 20}, nil
}

func TestRunWithCoverageEngine(t *testing.T) {
	stats := &model.RunStats{}
	logger := logging.Discard()
	provider := &denseProvider{}
	searcher := coverage.NewSearcher(provider, 0, stats, logger)
	params := model.DefaultCoverageParams()
	params.InterCallDelay = 0
	engine := coverage.NewEngine(searcher, params, stats, logger)

	sink := &memSink{}
	r := newTestRunner(engine, nil, sink, stats, Options{
		Keywords:    []string{"restaurant"},
		Concurrency: 1,
		Dedup:       dedup.Keys{},
		Pricing:     model.DefaultPricing(),
	})

	sum, err := r.Run(context.Background(), ParseAreas([]string{"Houston"}, ", TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if provider.calls != 5 {
		t.Errorf("provider calls = %d, want 1 root + 4 quadrants", provider.calls)
	}
	rep := sum.Areas[0]
	if rep.Found != 60+4*20 {
		t.Errorf("Found = %d, want 140", rep.Found)
	}
	if rep.Unique != rep.Found {
		t.Errorf("Unique = %d, want %d", rep.Unique, rep.Found)
	}
	if sum.Stats.Subdivisions != 1 {
		t.Errorf("Subdivisions = %d, want 1", sum.Stats.Subdivisions)
	}
	if sum.Stats.SearchRequests != 3+4 {
		t.Errorf("SearchRequests = %d, want 7", sum.Stats.SearchRequests)
	}
	pricing := model.DefaultPricing()
	if want := 7*pricing.PerSearch + pricing.PerGeocode; !almostEqual(sum.EstimatedCost, want) {
		t.Errorf("EstimatedCost = %.4f, want %.4f", sum.EstimatedCost, want)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
