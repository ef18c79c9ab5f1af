package storage

import (
	"fmt"
	"strings"

	"github.com/rendis/geosweep/internal/model"
)

// Columns is the flat export layout shared by the CSV sink and the export
// command.
var Columns = []string{
	"place_id", "name", "area", "keyword", "rating", "review_count", "business_status",
	"vicinity", "formatted_address", "lat", "lng", "phone", "international_phone",
	"website", "emails", "maps_url", "types",
}

// Record flattens a place into Columns order.
func Record(p model.EnrichedPlace) []string {
	rating := ""
	if p.Rating != nil {
		rating = fmt.Sprintf("%.1f", *p.Rating)
	}
	return []string{
		p.ID,
		p.Name,
		p.Area,
		p.Keyword,
		rating,
		fmt.Sprintf("%d", p.ReviewCount),
		string(p.Status),
		p.Vicinity,
		p.FormattedAddress,
		fmt.Sprintf("%.6f", p.Lat()),
		fmt.Sprintf("%.6f", p.Lng()),
		p.Phone,
		p.InternationalPhone,
		p.Website,
		strings.Join(p.Emails, ";"),
		p.MapsURL,
		strings.Join(p.Types, ";"),
	}
}
