package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rendis/geosweep/internal/model"
)

// WriteCSV writes a header and one row per place.
func WriteCSV(w io.Writer, places []model.EnrichedPlace) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, p := range places {
		if err := cw.Write(Record(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSink appends places to a CSV file as areas complete, skipping place
// IDs already written during this run.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	seen map[string]bool
}

func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating csv: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	return &CSVSink{f: f, w: w, seen: make(map[string]bool)}, nil
}

func (s *CSVSink) WriteArea(_ context.Context, r model.AreaReport) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, p := range r.Places {
		if s.seen[p.ID] {
			continue
		}
		if err := s.w.Write(Record(p)); err != nil {
			return written, fmt.Errorf("writing csv row: %w", err)
		}
		s.seen[p.ID] = true
		written++
	}
	s.w.Flush()
	return written, s.w.Error()
}

func (s *CSVSink) WriteRun(context.Context, model.RunSummary) error {
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
