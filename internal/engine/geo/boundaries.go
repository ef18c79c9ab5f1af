package geo

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// nameProperties are the feature properties a region can be looked up by.
// Covers Natural Earth admin files and the Census state cartographic files.
var nameProperties = []string{"NAME", "name", "ADMIN", "STUSPS", "postal", "ISO_A2", "ISO_A3", "iso_3166_2"}

// BoundaryStore indexes the polygons of a GeoJSON FeatureCollection by name.
type BoundaryStore struct {
	features map[string]*geojson.Feature // key: lowercase name or code
	all      []*geojson.Feature
}

// LoadBoundaries reads a GeoJSON FeatureCollection from disk.
func LoadBoundaries(path string) (*BoundaryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading boundaries: %w", err)
	}
	return ParseBoundaries(data)
}

// ParseBoundaries indexes an in-memory FeatureCollection.
func ParseBoundaries(data []byte) (*BoundaryStore, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	store := &BoundaryStore{
		features: make(map[string]*geojson.Feature),
	}
	for _, f := range fc.Features {
		if _, err := polygonOf(f); err != nil {
			continue
		}
		store.all = append(store.all, f)
		for _, prop := range nameProperties {
			if v, ok := f.Properties[prop].(string); ok && v != "" {
				store.features[strings.ToLower(v)] = f
			}
		}
	}
	if len(store.all) == 0 {
		return nil, fmt.Errorf("geojson has no polygon features")
	}
	return store, nil
}

// Region returns the MultiPolygon for a region by name or code. An empty
// name returns the union of every polygon in the file.
func (bs *BoundaryStore) Region(name string) (orb.MultiPolygon, error) {
	if strings.TrimSpace(name) == "" {
		var mp orb.MultiPolygon
		for _, f := range bs.all {
			p, _ := polygonOf(f)
			mp = append(mp, p...)
		}
		return mp, nil
	}

	f, ok := bs.features[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("region %q not found in boundaries", name)
	}
	return polygonOf(f)
}

// Names returns the display names of all regions, sorted.
func (bs *BoundaryStore) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range bs.all {
		for _, prop := range []string{"NAME", "name", "ADMIN"} {
			if n, ok := f.Properties[prop].(string); ok && n != "" {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

func polygonOf(f *geojson.Feature) (orb.MultiPolygon, error) {
	switch g := f.Geometry.(type) {
	case orb.MultiPolygon:
		return g, nil
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	default:
		return nil, fmt.Errorf("unexpected geometry type %T", g)
	}
}
