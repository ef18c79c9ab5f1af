package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/rendis/geosweep/internal/model"
)

// MetersPerDegreeLat is the length of one degree of latitude.
const MetersPerDegreeLat = 111320.0

// minCosLat keeps longitude conversion finite near the poles.
const minCosLat = 1e-6

// MetersToDegrees converts a north/east displacement in meters at the given
// latitude into degrees of latitude and longitude.
func MetersToDegrees(lat, northMeters, eastMeters float64) (dLat, dLng float64) {
	cosLat := math.Cos(lat * math.Pi / 180.0)
	if math.Abs(cosLat) < minCosLat {
		cosLat = minCosLat
	}
	dLat = northMeters / MetersPerDegreeLat
	dLng = eastMeters / (MetersPerDegreeLat * cosLat)
	return dLat, dLng
}

// Offset moves p by the given displacement in meters.
func Offset(p orb.Point, northMeters, eastMeters float64) orb.Point {
	dLat, dLng := MetersToDegrees(p.Lat(), northMeters, eastMeters)
	return orb.Point{p.Lon() + dLng, p.Lat() + dLat} // orb.Point is [lng, lat]
}

// Quadrant directions, in the order children are searched.
var quadrantSigns = [4][2]float64{
	{+1, -1}, // NW
	{+1, +1}, // NE
	{-1, -1}, // SW
	{-1, +1}, // SE
}

// Subdivide splits a disk into four children centered radius/2 north/south
// and east/west of the parent, each with half the radius clamped to
// minRadius. Children are one level deeper than the parent.
func Subdivide(area model.SearchArea, minRadius int) [4]model.SearchArea {
	half := float64(area.RadiusMeters) / 2
	childRadius := area.RadiusMeters / 2
	if childRadius < minRadius {
		childRadius = minRadius
	}

	var children [4]model.SearchArea
	for i, s := range quadrantSigns {
		children[i] = model.SearchArea{
			Center:       Offset(area.Center, s[0]*half, s[1]*half),
			RadiusMeters: childRadius,
			Depth:        area.Depth + 1,
			Quadrant:     true,
		}
	}
	return children
}

// Grow returns the area re-centered on the same point with the radius scaled
// by factor and capped at maxRadius.
func Grow(area model.SearchArea, factor float64, maxRadius int) model.SearchArea {
	r := int(math.Round(float64(area.RadiusMeters) * factor))
	if r <= area.RadiusMeters {
		r = area.RadiusMeters + 1
	}
	if r > maxRadius {
		r = maxRadius
	}
	return model.SearchArea{
		Center:       area.Center,
		RadiusMeters: r,
		Depth:        area.Depth + 1,
		Quadrant:     area.Quadrant,
	}
}

// DistanceMeters is the great-circle distance between two points.
func DistanceMeters(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// Within reports whether p lies inside the disk.
func Within(area model.SearchArea, p orb.Point) bool {
	return DistanceMeters(area.Center, p) <= float64(area.RadiusMeters)
}
