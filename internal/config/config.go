package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/geosweep/internal/engine/places"
	"github.com/rendis/geosweep/internal/model"
)

type Config struct {
	APIKey     string               `yaml:"-"`
	Keywords   []string             `yaml:"keywords"`
	Areas      []string             `yaml:"areas"`
	AreaSuffix string               `yaml:"area_suffix"`
	Coverage   model.CoverageParams `yaml:"coverage"`
	Filter     model.QualityFilter  `yaml:"filter"`
	Provider   ProviderConfig       `yaml:"provider"`
	Run        RunConfig            `yaml:"run"`
	Pricing    model.Pricing        `yaml:"pricing"`
	Region     RegionConfig         `yaml:"region"`
	Output     OutputConfig         `yaml:"output"`
	Logging    LoggingConfig        `yaml:"logging"`
}

type ProviderConfig struct {
	QPS            float64       `yaml:"qps"`
	Timeout        time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	PageTokenDelay time.Duration `yaml:"page_token_delay"`
	ProxyURL       string        `yaml:"proxy_url"`
	ChromeTLS      bool          `yaml:"chrome_tls"`
	Geocoder       string        `yaml:"geocoder"`
}

type RunConfig struct {
	MaxConcurrentAreas int     `yaml:"max_concurrent_areas"`
	MaxPlaces          int     `yaml:"max_places"`
	MaxCost            float64 `yaml:"max_cost"`
	EnrichDetails      bool    `yaml:"enrich_details"`
	ExtractEmails      bool    `yaml:"extract_emails"`
	DedupByPhone       bool    `yaml:"dedup_by_phone"`
	DedupByDomain      bool    `yaml:"dedup_by_domain"`
}

type RegionConfig struct {
	File string `yaml:"file"`
	Name string `yaml:"name"`
}

type OutputConfig struct {
	Dir           string   `yaml:"dir"`
	Sinks         []string `yaml:"sinks"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	PostgresTable string   `yaml:"postgres_table"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	GeocoderGoogle    = "google"
	GeocoderNominatim = "nominatim"

	SinkSQLite   = "sqlite"
	SinkCSV      = "csv"
	SinkJSON     = "json"
	SinkPostgres = "postgres"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Coverage: model.DefaultCoverageParams(),
		Filter: model.QualityFilter{
			MinReviews:      10,
			MinRating:       4.0,
			OperationalOnly: true,
		},
		Provider: ProviderConfig{
			Timeout:        20 * time.Second,
			MaxRetries:     3,
			PageTokenDelay: 2 * time.Second,
			Geocoder:       GeocoderGoogle,
		},
		Run: RunConfig{
			MaxConcurrentAreas: 5,
			EnrichDetails:      true,
		},
		Pricing: model.DefaultPricing(),
		Output: OutputConfig{
			Dir:           ".",
			Sinks:         []string{SinkSQLite},
			PostgresTable: "places",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds a Config from the defaults, the YAML file at path (optional,
// empty skips it) and the environment, in that order. Call Validate after
// applying command line overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIKey = getEnv("GOOGLE_PLACES_API_KEY", getEnv("GEOSWEEP_API_KEY", c.APIKey))
	c.Keywords = getEnvList("GEOSWEEP_KEYWORDS", ",", c.Keywords)
	c.Areas = getEnvList("GEOSWEEP_AREAS", ";", c.Areas)
	c.AreaSuffix = getEnv("GEOSWEEP_AREA_SUFFIX", c.AreaSuffix)

	cv := &c.Coverage
	cv.MinResults = getEnvInt("MIN_RESULTS_THRESHOLD", cv.MinResults)
	cv.MaxResults = getEnvInt("MAX_RESULTS_THRESHOLD", cv.MaxResults)
	cv.Saturation = getEnvInt("SATURATION_THRESHOLD", cv.Saturation)
	cv.InitialRadius = getEnvInt("INITIAL_RADIUS", cv.InitialRadius)
	cv.MinRadius = getEnvInt("MIN_RADIUS", cv.MinRadius)
	cv.MaxRadius = getEnvInt("MAX_RADIUS", cv.MaxRadius)
	cv.GrowthFactor = getEnvFloat("RADIUS_GROWTH_FACTOR", cv.GrowthFactor)
	cv.InterCallDelay = getEnvSeconds("INTER_CALL_DELAY_SECONDS", cv.InterCallDelay)
	cv.MaxDepth = getEnvInt("GEOSWEEP_MAX_DEPTH", cv.MaxDepth)
	cv.ParallelQuadrants = getEnvBool("GEOSWEEP_PARALLEL_QUADRANTS", cv.ParallelQuadrants)
	cv.RegrowQuadrants = getEnvBool("GEOSWEEP_REGROW_QUADRANTS", cv.RegrowQuadrants)

	c.Filter.MinReviews = getEnvInt("MIN_REVIEWS", c.Filter.MinReviews)
	c.Filter.MaxReviews = getEnvInt("MAX_REVIEWS", c.Filter.MaxReviews)
	c.Filter.MinRating = getEnvFloat("MIN_RATING", c.Filter.MinRating)

	c.Provider.QPS = getEnvFloat("GEOSWEEP_PROVIDER_QPS", c.Provider.QPS)
	c.Provider.Timeout = getEnvDuration("GEOSWEEP_REQUEST_TIMEOUT", c.Provider.Timeout)
	c.Provider.MaxRetries = getEnvInt("GEOSWEEP_MAX_RETRIES", c.Provider.MaxRetries)
	c.Provider.ProxyURL = getEnv("GEOSWEEP_PROXY_URL", c.Provider.ProxyURL)
	c.Provider.Geocoder = getEnv("GEOSWEEP_GEOCODER", c.Provider.Geocoder)

	c.Run.MaxConcurrentAreas = getEnvInt("MAX_CONCURRENT_AREAS", c.Run.MaxConcurrentAreas)
	c.Run.MaxPlaces = getEnvInt("GEOSWEEP_MAX_PLACES", c.Run.MaxPlaces)
	c.Run.MaxCost = getEnvFloat("GEOSWEEP_MAX_COST", c.Run.MaxCost)

	c.Output.Dir = getEnv("GEOSWEEP_OUTPUT_DIR", c.Output.Dir)
	c.Output.Sinks = getEnvList("GEOSWEEP_SINKS", ",", c.Output.Sinks)
	c.Output.PostgresDSN = getEnv("GEOSWEEP_POSTGRES_DSN", getEnv("DATABASE_URL", c.Output.PostgresDSN))

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Validate checks the configuration is usable for a sweep.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, errors.New("GOOGLE_PLACES_API_KEY is not set"))
	}
	if len(c.Keywords) == 0 {
		errs = append(errs, errors.New("at least one keyword is required"))
	}
	if len(c.Areas) == 0 {
		errs = append(errs, errors.New("at least one area is required"))
	}

	cv := c.Coverage
	if cv.MinRadius <= 0 {
		errs = append(errs, fmt.Errorf("min radius must be positive: %d", cv.MinRadius))
	}
	if cv.MinRadius >= cv.MaxRadius {
		errs = append(errs, fmt.Errorf("min radius %d must be below max radius %d", cv.MinRadius, cv.MaxRadius))
	}
	if cv.InitialRadius < cv.MinRadius || cv.InitialRadius > cv.MaxRadius {
		errs = append(errs, fmt.Errorf("initial radius %d outside [%d, %d]", cv.InitialRadius, cv.MinRadius, cv.MaxRadius))
	}
	if cv.MinResults < 0 || cv.MinResults > cv.MaxResults {
		errs = append(errs, fmt.Errorf("result thresholds out of order: min %d, max %d", cv.MinResults, cv.MaxResults))
	}
	// Nearby search never returns more than the cap, so a max threshold at
	// or above it would make the dense branch unreachable.
	if cv.MaxResults >= places.ResultCap {
		errs = append(errs, fmt.Errorf("max results threshold %d must be below the provider cap %d", cv.MaxResults, places.ResultCap))
	}
	switch {
	case cv.Saturation < 0:
		errs = append(errs, fmt.Errorf("invalid saturation threshold: %d", cv.Saturation))
	case cv.Saturation > 0 && cv.Saturation < cv.MaxResults:
		errs = append(errs, fmt.Errorf("saturation threshold %d must not be below max results threshold %d", cv.Saturation, cv.MaxResults))
	}
	if cv.GrowthFactor <= 1 {
		errs = append(errs, fmt.Errorf("radius growth factor must be above 1: %g", cv.GrowthFactor))
	}
	if cv.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("invalid max depth: %d", cv.MaxDepth))
	}
	if cv.InterCallDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid inter-call delay: %s", cv.InterCallDelay))
	}

	f := c.Filter
	if f.MinRating < 0 || f.MinRating > 5 {
		errs = append(errs, fmt.Errorf("min rating must be within [0, 5]: %g", f.MinRating))
	}
	if f.MinReviews < 0 || (f.MaxReviews > 0 && f.MaxReviews < f.MinReviews) {
		errs = append(errs, fmt.Errorf("review bounds out of order: min %d, max %d", f.MinReviews, f.MaxReviews))
	}

	if c.Run.MaxConcurrentAreas < 1 {
		errs = append(errs, fmt.Errorf("max concurrent areas must be at least 1: %d", c.Run.MaxConcurrentAreas))
	}
	if c.Run.MaxPlaces < 0 || c.Run.MaxCost < 0 {
		errs = append(errs, errors.New("run caps cannot be negative"))
	}

	switch c.Provider.Geocoder {
	case GeocoderGoogle, GeocoderNominatim:
	default:
		errs = append(errs, fmt.Errorf("unknown geocoder: %s", c.Provider.Geocoder))
	}

	if len(c.Output.Sinks) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	for _, s := range c.Output.Sinks {
		switch s {
		case SinkSQLite, SinkCSV, SinkJSON:
		case SinkPostgres:
			if c.Output.PostgresDSN == "" {
				errs = append(errs, errors.New("postgres sink requires postgres_dsn"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink: %s", s))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvSeconds reads a duration written as (fractional) seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if s, err := strconv.ParseFloat(val, 64); err == nil && s >= 0 {
			return time.Duration(s * float64(time.Second))
		}
	}
	return fallback
}

func getEnvList(key, sep string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
