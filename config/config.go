package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	// Environment switches log formatting: "production" logs JSON
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Server struct {
		Port           string   `env:"PORT" envDefault:"5250"`
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Database struct {
		Path string `env:"DATABASE_PATH" envDefault:"database/properties.db"`
	}

	// RegionsFile lists the zip-code selectors per source
	RegionsFile string `env:"REGIONS_FILE" envDefault:"config/regions.json"`

	GovData struct {
		BaseURL          string        `env:"GOV_DATA_BASE_URL" envDefault:"https://data.example.gov/api/v1"`
		Token            string        `env:"GOV_DATA_TOKEN"`
		MinDelay         time.Duration `env:"GOV_DATA_MIN_DELAY" envDefault:"500ms"`
		MaxRecordsPerRun int           `env:"GOV_DATA_MAX_RECORDS" envDefault:"2000"`
		PageSize         int           `env:"GOV_DATA_PAGE_SIZE" envDefault:"100"`
	}

	ListingsAPI struct {
		BaseURL          string        `env:"LISTINGS_API_BASE_URL" envDefault:"https://api.listings.example.com/v1"`
		Token            string        `env:"LISTINGS_API_TOKEN"`
		MinDelay         time.Duration `env:"LISTINGS_API_MIN_DELAY" envDefault:"2s"`
		MaxRecordsPerRun int           `env:"LISTINGS_API_MAX_RECORDS" envDefault:"500"`
		PageSize         int           `env:"LISTINGS_API_PAGE_SIZE" envDefault:"50"`
	}

	WebPages struct {
		Targets []string `env:"WEB_TARGETS" envSeparator:","`

		// Zip-code selectors expand into this URL; {zip} is replaced
		SearchURLTemplate string `env:"WEB_SEARCH_URL_TEMPLATE"`

		MinDelay         time.Duration `env:"WEB_MIN_DELAY" envDefault:"20s"`
		MaxRecordsPerRun int           `env:"WEB_MAX_RECORDS" envDefault:"50"`
		MaxContentChars  int           `env:"WEB_MAX_CONTENT_CHARS" envDefault:"6000"`
	}

	Extraction struct {
		APIKey string `env:"GEMINI_API_KEY"`
		Model  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	}

	Imagery struct {
		StreetViewKey     string        `env:"STREET_VIEW_API_KEY"`
		StreetViewBaseURL string        `env:"STREET_VIEW_BASE_URL" envDefault:"https://maps.googleapis.com/maps/api/streetview"`
		MinDelay          time.Duration `env:"IMAGERY_MIN_DELAY" envDefault:"1s"`
		CacheDir          string        `env:"IMAGERY_CACHE_DIR"`
		BatchSize         int           `env:"IMAGERY_BATCH_SIZE" envDefault:"25"`
	}

	Ingestion struct {
		// Timeout for a single external call, not a whole run
		CallTimeout time.Duration `env:"INGEST_CALL_TIMEOUT" envDefault:"30s"`

		// Attempts per call before a 429 or transient failure escalates
		MaxAttempts int `env:"INGEST_MAX_ATTEMPTS" envDefault:"4"`

		BaseBackoff time.Duration `env:"INGEST_BASE_BACKOFF" envDefault:"2s"`
		MaxBackoff  time.Duration `env:"INGEST_MAX_BACKOFF" envDefault:"1m"`

		// Wall-clock budget for a scheduled run of one source
		RunMaxDuration time.Duration `env:"INGEST_RUN_MAX_DURATION" envDefault:"15m"`

		// Prices under this are treated as transactional noise
		PriceFloor float64 `env:"INGEST_PRICE_FLOOR" envDefault:"1000"`
	}

	Schedule struct {
		Enabled        bool          `env:"SCHEDULE_ENABLED" envDefault:"true"`
		IngestInterval time.Duration `env:"SCHEDULE_INGEST_INTERVAL" envDefault:"6h"`
		EnrichInterval time.Duration `env:"SCHEDULE_ENRICH_INTERVAL" envDefault:"1h"`
	}

	Tiers struct {
		// Rows a non-privileged caller may see across all pages
		FreeResultLimit int `env:"TIER_FREE_RESULT_LIMIT" envDefault:"10"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
