package storage

import (
	"context"
	"errors"

	"github.com/rendis/geosweep/internal/model"
)

// Sink receives the final places of each area and the run summary.
// Implementations must be safe for concurrent WriteArea calls.
type Sink interface {
	// WriteArea persists an area's places and returns how many were new.
	WriteArea(ctx context.Context, r model.AreaReport) (int, error)
	WriteRun(ctx context.Context, s model.RunSummary) error
	Close() error
}

// MultiSink fans out to several sinks. The stored count reported is the
// first sink's.
type MultiSink []Sink

func (m MultiSink) WriteArea(ctx context.Context, r model.AreaReport) (int, error) {
	var errs []error
	stored := 0
	for i, s := range m {
		n, err := s.WriteArea(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			stored = n
		}
	}
	return stored, errors.Join(errs...)
}

func (m MultiSink) WriteRun(ctx context.Context, s model.RunSummary) error {
	var errs []error
	for _, sink := range m {
		if err := sink.WriteRun(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
