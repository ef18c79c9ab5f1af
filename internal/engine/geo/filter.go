package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/rendis/geosweep/internal/model"
)

// FilterInside keeps the places whose coordinates fall inside poly. Places
// without coordinates are dropped. A nil polygon keeps everything.
func FilterInside(places []model.RawPlace, poly orb.MultiPolygon) []model.RawPlace {
	if len(poly) == 0 {
		return places
	}
	var kept []model.RawPlace
	for _, p := range places {
		if p.Lat() == 0 && p.Lng() == 0 {
			continue
		}
		if planar.MultiPolygonContains(poly, p.Location) {
			kept = append(kept, p)
		}
	}
	return kept
}
