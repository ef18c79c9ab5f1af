package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rendis/geosweep/internal/model"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresSink writes places to a shared Postgres table. Conflicting place
// IDs are left untouched.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresSink connects to dsn and creates the tables if needed. table
// names the places table; run metadata goes to <table>_runs.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if table == "" {
		table = "places"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresSink{pool: pool, table: table}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) createSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		place_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		area TEXT,
		keyword TEXT,
		rating DOUBLE PRECISION,
		review_count INTEGER,
		business_status TEXT,
		vicinity TEXT,
		formatted_address TEXT,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		phone TEXT,
		international_phone TEXT,
		website TEXT,
		emails TEXT[],
		maps_url TEXT,
		types TEXT[],
		run_id UUID,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS %[1]s_runs (
		run_id UUID PRIMARY KEY,
		keywords TEXT[],
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		estimated_cost DOUBLE PRECISION,
		stats JSONB
	);`, s.table)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: creating schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) WriteArea(ctx context.Context, r model.AreaReport) (int, error) {
	if len(r.Places) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			place_id, name, area, keyword, rating, review_count, business_status,
			vicinity, formatted_address, lat, lng, phone, international_phone,
			website, emails, maps_url, types, run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (place_id) DO NOTHING`, s.table)

	batch := &pgx.Batch{}
	for _, p := range r.Places {
		batch.Queue(query,
			p.ID, p.Name, p.Area, p.Keyword, p.Rating, p.ReviewCount, string(p.Status),
			p.Vicinity, p.FormattedAddress, p.Lat(), p.Lng(), p.Phone, p.InternationalPhone,
			p.Website, nonNil(p.Emails), p.MapsURL, nonNil(p.Types), r.RunID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range r.Places {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: inserting places for %q: %w", r.Name, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresSink) WriteRun(ctx context.Context, sum model.RunSummary) error {
	stats, err := json.Marshal(sum.Stats)
	if err != nil {
		return fmt.Errorf("postgres: encoding stats: %w", err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_runs (run_id, keywords, started_at, finished_at, estimated_cost, stats)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			estimated_cost = EXCLUDED.estimated_cost,
			stats = EXCLUDED.stats`, s.table),
		sum.ID, nonNil(sum.Keywords), sum.StartedAt, sum.FinishedAt, sum.EstimatedCost, string(stats),
	)
	if err != nil {
		return fmt.Errorf("postgres: recording run: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

