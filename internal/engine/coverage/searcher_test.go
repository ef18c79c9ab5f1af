package coverage

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/rendis/geosweep/internal/model"
)

type fakeProvider struct {
	n        int
	requests int
	err      error
}

// NearbySearch returns n places and err together, the way a search whose
// later page fails does.
func (p *fakeProvider) NearbySearch(_ context.Context, center orb.Point, _ int, keyword string) (model.NearbyResult, error) {
	var places []model.RawPlace
	for i := 0; i < p.n; i++ {
		places = append(places, model.RawPlace{ID: string(rune('a' + i%26)), Location: center, Keyword: keyword})
	}
	return model.NearbyResult{Places: places, Requests: p.requests}, p.err
}

func (p *fakeProvider) ResultCap() int { return 60 }

func TestSaturationThresholdDefaults(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 60},
		{-1, 60},
		{55, 55},
		{100, 60},
	}
	for _, tt := range tests {
		if got := NewSearcher(&fakeProvider{}, tt.in, nil, nil).SaturationThreshold(); got != tt.want {
			t.Errorf("NewSearcher(%d).SaturationThreshold() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSearcherSaturation(t *testing.T) {
	area := model.SearchArea{Center: houston, RadiusMeters: 15000}
	stats := &model.RunStats{}

	s := NewSearcher(&fakeProvider{n: 55, requests: 3}, 55, stats, nil)
	places, saturated, err := s.Search(context.Background(), area, "plumber")
	if err != nil || len(places) != 55 || !saturated {
		t.Errorf("places = %d, saturated = %v, err = %v", len(places), saturated, err)
	}

	s = NewSearcher(&fakeProvider{n: 54, requests: 3}, 55, stats, nil)
	if _, saturated, _ := s.Search(context.Background(), area, "plumber"); saturated {
		t.Error("54 results should not be saturated")
	}

	snap := stats.Snapshot()
	if snap.SearchCalls != 2 || snap.SearchRequests != 6 || snap.PlacesFound != 109 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestSearcherWrapsFailures(t *testing.T) {
	stats := &model.RunStats{}
	cause := errors.New("connection reset")
	s := NewSearcher(&fakeProvider{err: cause}, 0, stats, nil)

	places, saturated, err := s.Search(context.Background(), model.SearchArea{Center: houston, RadiusMeters: 15000}, "plumber")
	if !errors.Is(err, ErrProviderTransport) || !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
	if places != nil || saturated {
		t.Errorf("places = %v, saturated = %v", places, saturated)
	}
	// the failed call is still billed once
	if stats.SearchFailures.Load() != 1 || stats.SearchRequests.Load() != 1 {
		t.Errorf("failures = %d, requests = %d", stats.SearchFailures.Load(), stats.SearchRequests.Load())
	}
}

func TestSearcherKeepsPagesBeforeFailure(t *testing.T) {
	stats := &model.RunStats{}
	s := NewSearcher(&fakeProvider{n: 20, requests: 2, err: errors.New("unexpected status 500")}, 0, stats, nil)

	places, saturated, err := s.Search(context.Background(), model.SearchArea{Center: houston, RadiusMeters: 15000}, "plumber")
	if !errors.Is(err, ErrProviderTransport) {
		t.Fatalf("err = %v", err)
	}
	if len(places) != 20 || saturated {
		t.Errorf("places = %d, saturated = %v", len(places), saturated)
	}
	if stats.SearchRequests.Load() != 2 || stats.PlacesFound.Load() != 20 || stats.SearchFailures.Load() != 1 {
		t.Errorf("stats = %+v", stats.Snapshot())
	}
}
