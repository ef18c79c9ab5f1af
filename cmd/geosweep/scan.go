package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/urfave/cli/v2"

	"github.com/rendis/geosweep/internal/config"
	"github.com/rendis/geosweep/internal/engine/coverage"
	"github.com/rendis/geosweep/internal/engine/dedup"
	"github.com/rendis/geosweep/internal/engine/enrich"
	"github.com/rendis/geosweep/internal/engine/geo"
	"github.com/rendis/geosweep/internal/engine/places"
	"github.com/rendis/geosweep/internal/engine/storage"
	"github.com/rendis/geosweep/internal/engine/sweep"
	"github.com/rendis/geosweep/internal/logging"
	"github.com/rendis/geosweep/internal/model"
	"github.com/rendis/geosweep/internal/report"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Sweep areas for businesses matching keywords",
		UsageText: `geosweep scan --keyword "roofing contractor" --area Houston --area Dallas --area-suffix ", TX"
geosweep scan --config sweep.yaml --sinks sqlite,csv --output ./projects
geosweep scan --keyword hvac --area "Downtown@29.7604,-95.3698" --max-cost 5`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file holding GOOGLE_PLACES_API_KEY"},
			&cli.StringSliceFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "search keyword (repeatable)"},
			&cli.StringSliceFlag{Name: "area", Aliases: []string{"a"}, Usage: `area name or "name@lat,lng" (repeatable)`},
			&cli.StringFlag{Name: "area-suffix", Usage: `appended to area names before geocoding, e.g. ", TX"`},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory"},
			&cli.StringFlag{Name: "sinks", Usage: "comma-separated sinks: sqlite,csv,json,postgres"},
			&cli.StringFlag{Name: "postgres-dsn", Usage: "Postgres connection string for the postgres sink"},
			&cli.IntFlag{Name: "concurrency", Usage: "areas processed at once"},
			&cli.IntFlag{Name: "min-results", Usage: "below this a search is sparse"},
			&cli.IntFlag{Name: "max-results", Usage: "above this a search is dense"},
			&cli.IntFlag{Name: "initial-radius", Usage: "starting radius in meters"},
			&cli.IntFlag{Name: "min-radius", Usage: "smallest radius in meters"},
			&cli.IntFlag{Name: "max-radius", Usage: "largest radius in meters"},
			&cli.IntFlag{Name: "max-depth", Usage: "recursion depth cap"},
			&cli.DurationFlag{Name: "delay", Usage: "delay between recursive searches"},
			&cli.BoolFlag{Name: "parallel-quadrants", Usage: "search the four quadrants concurrently"},
			&cli.IntFlag{Name: "min-reviews", Usage: "minimum review count"},
			&cli.IntFlag{Name: "max-reviews", Usage: "maximum review count (0 = no limit)"},
			&cli.Float64Flag{Name: "min-rating", Usage: "minimum star rating"},
			&cli.StringFlag{Name: "region-file", Usage: "GeoJSON boundaries; places outside are dropped"},
			&cli.StringFlag{Name: "region", Usage: "feature name in --region-file (default: all features)"},
			&cli.StringFlag{Name: "geocoder", Usage: "google or nominatim"},
			&cli.Float64Flag{Name: "qps", Usage: "provider requests per second (0 = unlimited)"},
			&cli.StringFlag{Name: "proxy", Usage: "HTTP/SOCKS5 proxy URL"},
			&cli.BoolFlag{Name: "chrome-tls", Usage: "use a Chrome TLS fingerprint"},
			&cli.BoolFlag{Name: "no-details", Usage: "skip place detail lookups"},
			&cli.BoolFlag{Name: "emails", Usage: "extract contact emails from websites"},
			&cli.IntFlag{Name: "max-places", Usage: "stop scheduling areas after this many kept places"},
			&cli.Float64Flag{Name: "max-cost", Usage: "stop scheduling areas after this estimated spend (USD)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "no progress line"},
		},
		Action: runScan,
	}
}

func runScan(c *cli.Context) error {
	if err := godotenv.Load(c.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", c.String("env-file"), err)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	outputDir := cfg.Output.Dir
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	ts := time.Now().Format("20060102_150405")
	baseName := fmt.Sprintf("geosweep_%s", ts)

	logger, logFile, err := logging.OpenSession(outputDir, baseName, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logPath := logFile.Name()
	fmt.Fprintf(os.Stderr, "Log: %s\n", logPath)

	logger.Info("session start",
		"keywords", cfg.Keywords, "areas", len(cfg.Areas),
		"initial_radius", cfg.Coverage.InitialRadius, "min_radius", cfg.Coverage.MinRadius,
		"max_radius", cfg.Coverage.MaxRadius, "thresholds", fmt.Sprintf("%d-%d", cfg.Coverage.MinResults, cfg.Coverage.MaxResults),
		"concurrency", cfg.Run.MaxConcurrentAreas, "sinks", cfg.Output.Sinks)

	// Graceful shutdown: in-flight areas finish and are stored
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
			logger.Warn("interrupted, finishing in-flight areas")
			cancel()
		case <-ctx.Done():
		}
	}()

	stats := &model.RunStats{}

	httpClient := places.NewHTTPClient(places.TransportOptions{
		Timeout:   cfg.Provider.Timeout,
		ProxyURL:  cfg.Provider.ProxyURL,
		ChromeTLS: cfg.Provider.ChromeTLS,
	})
	client, err := places.New(places.Options{
		APIKey:         cfg.APIKey,
		HTTPClient:     httpClient,
		QPS:            cfg.Provider.QPS,
		MaxRetries:     cfg.Provider.MaxRetries,
		PageTokenDelay: cfg.Provider.PageTokenDelay,
		Logger:         logger,
		OnRateLimit:    func() { stats.RateLimits.Add(1) },
	})
	if err != nil {
		return err
	}

	pricing := cfg.Pricing
	geocoder := newGeocoder(cfg, &pricing)

	var region orb.MultiPolygon
	if cfg.Region.File != "" {
		bs, err := geo.LoadBoundaries(cfg.Region.File)
		if err != nil {
			return fmt.Errorf("loading boundaries: %w", err)
		}
		region, err = bs.Region(cfg.Region.Name)
		if err != nil {
			return fmt.Errorf("%w (available: %s)", err, strings.Join(bs.Names(), ", "))
		}
		fmt.Fprintf(os.Stderr, "Region: %s (%d polygons)\n", regionLabel(cfg.Region), len(region))
	}

	searcher := coverage.NewSearcher(client, cfg.Coverage.Saturation, stats, logger)
	engine := coverage.NewEngine(searcher, cfg.Coverage, stats, logger)
	logger.Info("coverage",
		"saturation_threshold", searcher.SaturationThreshold(),
		"max_depth", cfg.Coverage.MaxDepth,
		"parallel_quadrants", cfg.Coverage.ParallelQuadrants)

	var details enrich.DetailProvider
	if cfg.Run.EnrichDetails {
		details = client
	}
	var contacts enrich.ContactFinder
	if cfg.Run.ExtractEmails {
		contacts = enrich.NewEmailExtractor(&http.Client{Timeout: 10 * time.Second})
	}
	enricher := enrich.NewEnricher(details, contacts, stats, logger)

	sink, outputs, err := openSinks(ctx, cfg, baseName)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("closing sinks", "err", err)
		}
	}()

	areas := sweep.ParseAreas(cfg.Areas, cfg.AreaSuffix)
	fmt.Fprintf(os.Stderr, "Sweeping: %d keywords x %d areas (concurrency=%d)\n",
		len(cfg.Keywords), len(areas), cfg.Run.MaxConcurrentAreas)

	runner := sweep.New(geocoder, engine, enricher, sink, stats, logger, sweep.Options{
		Keywords:         cfg.Keywords,
		Concurrency:      cfg.Run.MaxConcurrentAreas,
		Filter:           cfg.Filter,
		Region:           region,
		Dedup:            dedup.Keys{Phone: cfg.Run.DedupByPhone, Domain: cfg.Run.DedupByDomain},
		MaxPlaces:        cfg.Run.MaxPlaces,
		MaxCost:          cfg.Run.MaxCost,
		Pricing:          pricing,
		SuppressProgress: c.Bool("quiet"),
	})

	sum, err := runner.Run(ctx, areas)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sweeping: %w", err)
	}

	return report.Write(os.Stderr, sum, report.Files{Outputs: outputs, Log: logPath})
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("keyword") {
		cfg.Keywords = trimAll(c.StringSlice("keyword"))
	}
	if c.IsSet("area") {
		cfg.Areas = c.StringSlice("area")
	}
	if c.IsSet("area-suffix") {
		cfg.AreaSuffix = c.String("area-suffix")
	}
	if c.IsSet("output") {
		cfg.Output.Dir = c.String("output")
	}
	if c.IsSet("sinks") {
		cfg.Output.Sinks = trimAll(strings.Split(c.String("sinks"), ","))
	}
	if c.IsSet("postgres-dsn") {
		cfg.Output.PostgresDSN = c.String("postgres-dsn")
	}
	if c.IsSet("concurrency") {
		cfg.Run.MaxConcurrentAreas = c.Int("concurrency")
	}

	cv := &cfg.Coverage
	if c.IsSet("min-results") {
		cv.MinResults = c.Int("min-results")
	}
	if c.IsSet("max-results") {
		cv.MaxResults = c.Int("max-results")
	}
	if c.IsSet("initial-radius") {
		cv.InitialRadius = c.Int("initial-radius")
	}
	if c.IsSet("min-radius") {
		cv.MinRadius = c.Int("min-radius")
	}
	if c.IsSet("max-radius") {
		cv.MaxRadius = c.Int("max-radius")
	}
	if c.IsSet("max-depth") {
		cv.MaxDepth = c.Int("max-depth")
	}
	if c.IsSet("delay") {
		cv.InterCallDelay = c.Duration("delay")
	}
	if c.IsSet("parallel-quadrants") {
		cv.ParallelQuadrants = c.Bool("parallel-quadrants")
	}

	if c.IsSet("min-reviews") {
		cfg.Filter.MinReviews = c.Int("min-reviews")
	}
	if c.IsSet("max-reviews") {
		cfg.Filter.MaxReviews = c.Int("max-reviews")
	}
	if c.IsSet("min-rating") {
		cfg.Filter.MinRating = c.Float64("min-rating")
	}

	if c.IsSet("region-file") {
		cfg.Region.File = c.String("region-file")
	}
	if c.IsSet("region") {
		cfg.Region.Name = c.String("region")
	}
	if c.IsSet("geocoder") {
		cfg.Provider.Geocoder = c.String("geocoder")
	}
	if c.IsSet("qps") {
		cfg.Provider.QPS = c.Float64("qps")
	}
	if c.IsSet("proxy") {
		cfg.Provider.ProxyURL = c.String("proxy")
	}
	if c.IsSet("chrome-tls") {
		cfg.Provider.ChromeTLS = c.Bool("chrome-tls")
	}
	if c.IsSet("no-details") {
		cfg.Run.EnrichDetails = !c.Bool("no-details")
	}
	if c.IsSet("emails") {
		cfg.Run.ExtractEmails = c.Bool("emails")
	}
	if c.IsSet("max-places") {
		cfg.Run.MaxPlaces = c.Int("max-places")
	}
	if c.IsSet("max-cost") {
		cfg.Run.MaxCost = c.Float64("max-cost")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
}

// newGeocoder builds the configured geocoder. Nominatim is free, so its
// calls are priced at zero.
func newGeocoder(cfg *config.Config, pricing *model.Pricing) geo.Geocoder {
	client := &http.Client{Timeout: cfg.Provider.Timeout}
	if cfg.Provider.Geocoder == config.GeocoderNominatim {
		pricing.PerGeocode = 0
		return geo.NewNominatimGeocoder(client)
	}
	return geo.NewGoogleGeocoder(client, cfg.APIKey)
}

// openSinks opens every configured sink. Files are named after the session.
func openSinks(ctx context.Context, cfg *config.Config, baseName string) (storage.Sink, []string, error) {
	var (
		sinks   storage.MultiSink
		outputs []string
	)
	fail := func(err error) (storage.Sink, []string, error) {
		sinks.Close()
		return nil, nil, err
	}

	for _, name := range cfg.Output.Sinks {
		switch name {
		case config.SinkSQLite:
			path := filepath.Join(cfg.Output.Dir, baseName+".db")
			store, err := storage.NewStore(path)
			if err != nil {
				return fail(fmt.Errorf("opening store: %w", err))
			}
			sinks = append(sinks, store)
			outputs = append(outputs, path)
		case config.SinkCSV:
			path := filepath.Join(cfg.Output.Dir, baseName+".csv")
			s, err := storage.NewCSVSink(path)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
			outputs = append(outputs, path)
		case config.SinkJSON:
			path := filepath.Join(cfg.Output.Dir, baseName+".json")
			sinks = append(sinks, storage.NewJSONSink(path))
			outputs = append(outputs, path)
		case config.SinkPostgres:
			s, err := storage.NewPostgresSink(ctx, cfg.Output.PostgresDSN, cfg.Output.PostgresTable)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
			outputs = append(outputs, "postgres:"+cfg.Output.PostgresTable)
		default:
			return fail(fmt.Errorf("unknown sink: %s", name))
		}
	}

	if len(sinks) == 1 {
		return sinks[0], outputs, nil
	}
	return sinks, outputs, nil
}

func regionLabel(r config.RegionConfig) string {
	if r.Name == "" {
		return filepath.Base(r.File)
	}
	return r.Name
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
