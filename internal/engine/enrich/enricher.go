// Package enrich turns filtered search results into enriched places.
package enrich

import (
	"context"
	"log/slog"

	"github.com/rendis/geosweep/internal/model"
)

// DetailProvider looks up extended fields for one place.
type DetailProvider interface {
	Details(ctx context.Context, placeID string) (model.PlaceDetails, error)
}

// ContactFinder extracts contact emails from a business website.
type ContactFinder interface {
	FindEmails(ctx context.Context, website string) ([]string, error)
}

// Enricher fetches details for places that already passed the quality
// filter. It never fails: a missing phone or website is a normal outcome.
type Enricher struct {
	details  DetailProvider // nil disables detail lookups
	contacts ContactFinder  // nil disables email extraction
	stats    *model.RunStats
	logger   *slog.Logger
}

func NewEnricher(details DetailProvider, contacts ContactFinder, stats *model.RunStats, logger *slog.Logger) *Enricher {
	if stats == nil {
		stats = &model.RunStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{details: details, contacts: contacts, stats: stats, logger: logger}
}

// Enrich builds the EnrichedPlace for p.
func (e *Enricher) Enrich(ctx context.Context, p model.RawPlace) model.EnrichedPlace {
	out := model.EnrichedPlace{RawPlace: p}

	if e.details != nil && p.ID != "" {
		e.stats.DetailCalls.Add(1)
		d, err := e.details.Details(ctx, p.ID)
		if err != nil {
			e.stats.DetailFailures.Add(1)
			e.logger.Warn("detail lookup failed", "place_id", p.ID, "name", p.Name, "err", err)
		} else {
			out = out.WithDetails(d)
		}
	}

	if e.contacts != nil && out.Website != "" {
		e.stats.EmailLookups.Add(1)
		emails, err := e.contacts.FindEmails(ctx, out.Website)
		if err != nil {
			e.logger.Debug("email extraction failed", "website", out.Website, "err", err)
		}
		out.Emails = emails
	}

	return out
}

// EnrichAll enriches places in order, stopping early if ctx is cancelled.
func (e *Enricher) EnrichAll(ctx context.Context, places []model.RawPlace, area string) []model.EnrichedPlace {
	out := make([]model.EnrichedPlace, 0, len(places))
	for _, p := range places {
		if ctx.Err() != nil {
			break
		}
		ep := e.Enrich(ctx, p)
		ep.Area = area
		out = append(out, ep)
	}
	return out
}
