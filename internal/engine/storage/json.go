package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rendis/geosweep/internal/model"
)

type jsonPlace struct {
	PlaceID            string   `json:"place_id"`
	Name               string   `json:"name"`
	Area               string   `json:"area"`
	Keyword            string   `json:"keyword"`
	Rating             *float64 `json:"rating"`
	ReviewCount        int      `json:"review_count"`
	BusinessStatus     string   `json:"business_status"`
	Vicinity           string   `json:"vicinity,omitempty"`
	FormattedAddress   string   `json:"formatted_address,omitempty"`
	Lat                float64  `json:"lat"`
	Lng                float64  `json:"lng"`
	Phone              string   `json:"phone,omitempty"`
	InternationalPhone string   `json:"international_phone,omitempty"`
	Website            string   `json:"website,omitempty"`
	Emails             []string `json:"emails,omitempty"`
	MapsURL            string   `json:"maps_url,omitempty"`
	Types              []string `json:"types,omitempty"`
}

type jsonArea struct {
	Name           string  `json:"name"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Found          int     `json:"found"`
	Unique         int     `json:"unique"`
	Qualified      int     `json:"qualified"`
	FloorHits      int     `json:"floor_hits"`
	FailedSearches int     `json:"failed_searches"`
	Error          string  `json:"error,omitempty"`
	ElapsedMS      int64   `json:"elapsed_ms"`
}

type jsonDocument struct {
	RunID         string              `json:"run_id"`
	Keywords      []string            `json:"keywords"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	EstimatedCost float64             `json:"estimated_cost"`
	Stats         model.StatsSnapshot `json:"stats"`
	Areas         []jsonArea          `json:"areas"`
	Places        []jsonPlace         `json:"places"`
}

// JSONSink buffers the run and writes one document when the run finishes.
type JSONSink struct {
	mu     sync.Mutex
	path   string
	doc    jsonDocument
	seen   map[string]bool
	closed bool
}

func NewJSONSink(path string) *JSONSink {
	return &JSONSink{path: path, seen: make(map[string]bool)}
}

func (s *JSONSink) WriteArea(_ context.Context, r model.AreaReport) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, p := range r.Places {
		if s.seen[p.ID] {
			continue
		}
		s.seen[p.ID] = true
		s.doc.Places = append(s.doc.Places, toJSONPlace(p))
		added++
	}

	a := jsonArea{
		Name:           r.Name,
		Lat:            r.Center.Lat(),
		Lng:            r.Center.Lon(),
		Found:          r.Found,
		Unique:         r.Unique,
		Qualified:      r.Qualified,
		FloorHits:      r.FloorHits(),
		FailedSearches: r.FailedSearches(),
		ElapsedMS:      r.Elapsed.Milliseconds(),
	}
	if r.Err != nil {
		a.Error = r.Err.Error()
	}
	s.doc.Areas = append(s.doc.Areas, a)
	return added, nil
}

func (s *JSONSink) WriteRun(_ context.Context, sum model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.RunID = sum.ID.String()
	s.doc.Keywords = sum.Keywords
	s.doc.StartedAt = sum.StartedAt
	s.doc.FinishedAt = sum.FinishedAt
	s.doc.EstimatedCost = sum.EstimatedCost
	s.doc.Stats = sum.Stats
	return s.flush()
}

// Close writes whatever was collected, even if WriteRun never ran.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flush()
}

func (s *JSONSink) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}

// WriteJSON writes places as an indented JSON array.
func WriteJSON(w io.Writer, places []model.EnrichedPlace) error {
	out := make([]jsonPlace, 0, len(places))
	for _, p := range places {
		out = append(out, toJSONPlace(p))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONPlace(p model.EnrichedPlace) jsonPlace {
	return jsonPlace{
		PlaceID:            p.ID,
		Name:               p.Name,
		Area:               p.Area,
		Keyword:            p.Keyword,
		Rating:             p.Rating,
		ReviewCount:        p.ReviewCount,
		BusinessStatus:     string(p.Status),
		Vicinity:           p.Vicinity,
		FormattedAddress:   p.FormattedAddress,
		Lat:                p.Lat(),
		Lng:                p.Lng(),
		Phone:              p.Phone,
		InternationalPhone: p.InternationalPhone,
		Website:            p.Website,
		Emails:             p.Emails,
		MapsURL:            p.MapsURL,
		Types:              p.Types,
	}
}
