package enrich

import "github.com/rendis/geosweep/internal/model"

// Qualifies applies the quality filter to one place. A missing rating only
// passes when no minimum rating is set.
func Qualifies(p model.RawPlace, f model.QualityFilter) bool {
	if f.OperationalOnly && p.Status != model.StatusOperational {
		return false
	}
	if p.ReviewCount < f.MinReviews {
		return false
	}
	if f.MaxReviews > 0 && p.ReviewCount > f.MaxReviews {
		return false
	}
	if f.MinRating > 0 && (p.Rating == nil || *p.Rating < f.MinRating) {
		return false
	}
	return true
}

// Filter keeps the places that qualify, preserving order.
func Filter(places []model.RawPlace, f model.QualityFilter) []model.RawPlace {
	var kept []model.RawPlace
	for _, p := range places {
		if Qualifies(p, f) {
			kept = append(kept, p)
		}
	}
	return kept
}
