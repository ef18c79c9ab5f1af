package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"

	"github.com/rendis/geosweep/internal/model"
)

// Store is the SQLite result sink. Places are unique by place_id across the
// whole database, so re-running a sweep only adds new businesses.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// Optimize for write throughput
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS places (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		place_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		area TEXT,
		keyword TEXT,
		rating REAL,
		review_count INTEGER,
		business_status TEXT,
		vicinity TEXT,
		formatted_address TEXT,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		phone TEXT,
		international_phone TEXT,
		website TEXT,
		emails TEXT,
		maps_url TEXT,
		types TEXT,
		run_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_places_area ON places(area);
	CREATE INDEX IF NOT EXISTS idx_places_keyword ON places(keyword);
	CREATE INDEX IF NOT EXISTS idx_places_rating ON places(rating);

	CREATE TABLE IF NOT EXISTS area_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		area TEXT NOT NULL,
		lat REAL,
		lng REAL,
		found INTEGER,
		unique_places INTEGER,
		qualified INTEGER,
		stored INTEGER,
		searches INTEGER,
		floor_hits INTEGER,
		failed_searches INTEGER,
		error TEXT,
		elapsed_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_area_runs_run ON area_runs(run_id);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		keywords TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		estimated_cost REAL,
		stats TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// InsertBatch stores places, ignoring ones already present. It returns the
// number of new rows; rows that fail are skipped and their errors joined.
func (s *Store) InsertBatch(ctx context.Context, runID string, places []model.EnrichedPlace) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO places
		(place_id, name, area, keyword, rating, review_count, business_status,
		 vicinity, formatted_address, lat, lng, phone, international_phone,
		 website, emails, maps_url, types, run_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing stmt: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	var rowErrs []error
	for _, p := range places {
		var rating any
		if p.Rating != nil {
			rating = *p.Rating
		}
		res, err := stmt.ExecContext(ctx,
			p.ID, p.Name, p.Area, p.Keyword, rating, p.ReviewCount, string(p.Status),
			p.Vicinity, p.FormattedAddress, p.Lat(), p.Lng(), p.Phone, p.InternationalPhone,
			p.Website, strings.Join(p.Emails, ";"), p.MapsURL, strings.Join(p.Types, ";"), runID,
		)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("inserting %s: %w", p.ID, err))
			continue
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing tx: %w", err)
	}
	return inserted, errors.Join(rowErrs...)
}

func (s *Store) WriteArea(ctx context.Context, r model.AreaReport) (int, error) {
	runID := r.RunID.String()
	stored, insertErr := s.InsertBatch(ctx, runID, r.Places)

	searches := 0
	for _, c := range r.Coverage {
		searches += c.Searches
	}
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO area_runs
		(run_id, area, lat, lng, found, unique_places, qualified, stored, searches,
		 floor_hits, failed_searches, error, elapsed_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		runID, r.Name, r.Center.Lat(), r.Center.Lon(), r.Found, r.Unique, r.Qualified, stored,
		searches, r.FloorHits(), r.FailedSearches(), errText, r.Elapsed.Milliseconds(),
	)
	if err != nil {
		return stored, errors.Join(insertErr, fmt.Errorf("recording area %q: %w", r.Name, err))
	}
	return stored, insertErr
}

func (s *Store) WriteRun(ctx context.Context, sum model.RunSummary) error {
	stats, err := json.Marshal(sum.Stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, keywords, started_at, finished_at, estimated_cost, stats)
		VALUES (?,?,?,?,?,?)`,
		sum.ID.String(), strings.Join(sum.Keywords, ","),
		sum.StartedAt.UTC().Format(time.RFC3339), sum.FinishedAt.UTC().Format(time.RFC3339),
		sum.EstimatedCost, string(stats),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM places").Scan(&count)
	return count, err
}

// LoadPlaces returns every stored place ordered by area and name.
func (s *Store) LoadPlaces(ctx context.Context) ([]model.EnrichedPlace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT place_id, name, area, keyword, rating, review_count, business_status,
		       vicinity, formatted_address, lat, lng, phone, international_phone,
		       website, emails, maps_url, types
		FROM places ORDER BY area, name`)
	if err != nil {
		return nil, fmt.Errorf("querying places: %w", err)
	}
	defer rows.Close()

	var places []model.EnrichedPlace
	for rows.Next() {
		var (
			p                     model.EnrichedPlace
			rating                sql.NullFloat64
			status, emails, types string
			lat, lng              float64
		)
		err := rows.Scan(
			&p.ID, &p.Name, &p.Area, &p.Keyword, &rating, &p.ReviewCount, &status,
			&p.Vicinity, &p.FormattedAddress, &lat, &lng, &p.Phone, &p.InternationalPhone,
			&p.Website, &emails, &p.MapsURL, &types,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning place: %w", err)
		}
		if rating.Valid {
			r := rating.Float64
			p.Rating = &r
		}
		p.Status = model.ParseOperationalStatus(status)
		p.Location = orb.Point{lng, lat}
		p.Emails = splitList(emails)
		p.Types = splitList(types)
		places = append(places, p)
	}
	return places, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}
