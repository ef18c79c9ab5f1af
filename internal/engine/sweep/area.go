package sweep

import (
	"strings"

	"github.com/paulmach/orb"

	"github.com/rendis/geosweep/internal/engine/geo"
)

// Area is one named place to sweep. Center is set when the coordinates were
// given explicitly and geocoding is skipped.
type Area struct {
	Name   string
	Query  string
	Center *orb.Point
}

// ParseArea reads "name" or "name@lat,lng". suffix is appended to the
// geocoder query (e.g. ", TX") unless the name already ends with it.
func ParseArea(s, suffix string) Area {
	s = strings.TrimSpace(s)
	if name, coords, ok := strings.Cut(s, "@"); ok {
		if p, valid := geo.ParseCoordinates(strings.ReplaceAll(coords, " ", "")); valid {
			name = strings.TrimSpace(name)
			if name == "" {
				name = coords
			}
			return Area{Name: name, Query: name, Center: &p}
		}
	}

	query := s
	if suffix != "" && !strings.HasSuffix(s, suffix) {
		query = s + suffix
	}
	return Area{Name: s, Query: query}
}

// ParseAreas parses every entry, skipping blanks.
func ParseAreas(list []string, suffix string) []Area {
	var out []Area
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, ParseArea(s, suffix))
	}
	return out
}
