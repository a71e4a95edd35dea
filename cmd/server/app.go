package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/config"
	"propertyfeed/internal/database"
	"propertyfeed/internal/enrichment"
	"propertyfeed/internal/extraction"
	"propertyfeed/internal/httpclient"
	"propertyfeed/internal/ingest"
	"propertyfeed/internal/models"
	"propertyfeed/internal/normalize"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/reconcile"
	"propertyfeed/internal/sources"
	"propertyfeed/internal/sources/govdata"
	"propertyfeed/internal/sources/listingsapi"
	"propertyfeed/internal/sources/webpage"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	db       *database.Database
	regions  *config.RegionCatalog
	governor *ratelimit.Governor
	runner   *ingest.Runner
	enricher *enrichment.Enricher
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openDatabase(cfg *config.Config, logger *logrus.Logger) (*database.Database, error) {
	logger.Infof("Using database at: %s", cfg.Database.Path)
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	regions, err := config.LoadRegions(cfg.RegionsFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	governor := newGovernor(cfg, logger)

	fetcher, err := webpage.NewCollyFetcher(cfg.Ingestion.CallTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create page fetcher: %w", err)
	}

	var generator extraction.Generator
	if cfg.Extraction.APIKey != "" {
		gemini, err := extraction.NewGeminiGenerator(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model)
		if err != nil {
			db.Close()
			return nil, err
		}
		generator = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, web pages without structured data will yield nothing")
	}

	extractor, err := extraction.NewExtractor(generator, cfg.WebPages.MaxContentChars, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	srcs := []sources.Source{
		govdata.NewAdapter(
			httpclient.New(cfg.GovData.BaseURL, cfg.GovData.Token, cfg.Ingestion.CallTimeout),
			governor, cfg.GovData.PageSize, logger),
		listingsapi.NewAdapter(
			httpclient.New(cfg.ListingsAPI.BaseURL, cfg.ListingsAPI.Token, cfg.Ingestion.CallTimeout),
			governor, cfg.ListingsAPI.PageSize, logger),
		webpage.NewAdapter(fetcher, extractor, governor, cfg.WebPages.SearchURLTemplate, logger),
	}

	runner := ingest.NewRunner(
		srcs,
		normalize.NewNormalizer(cfg.Ingestion.PriceFloor, logger),
		reconcile.NewReconciler(db, logger),
		db,
		governor,
		logger,
	)

	cacheDir := cfg.Imagery.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "propertyfeed", "imagery_cache")
	}
	providers := []enrichment.ImageProvider{
		enrichment.NewStreetView(
			httpclient.New("", "", cfg.Ingestion.CallTimeout),
			cfg.Imagery.StreetViewBaseURL, cfg.Imagery.StreetViewKey, governor, cacheDir, logger),
		enrichment.NewListingPage(fetcher, governor),
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		regions:  regions,
		governor: governor,
		runner:   runner,
		enricher: enrichment.NewEnricher(db, providers, cfg.Imagery.BatchSize, logger),
	}, nil
}

func newGovernor(cfg *config.Config, logger *logrus.Logger) *ratelimit.Governor {
	policy := func(minDelay time.Duration, maxRecords int) ratelimit.Policy {
		return ratelimit.Policy{
			MinDelay:         minDelay,
			MaxRecordsPerRun: maxRecords,
			MaxAttempts:      cfg.Ingestion.MaxAttempts,
			BaseBackoff:      cfg.Ingestion.BaseBackoff,
			MaxBackoff:       cfg.Ingestion.MaxBackoff,
			CallTimeout:      cfg.Ingestion.CallTimeout,
		}
	}

	policies := map[models.Source]ratelimit.Policy{
		models.SourceGov:         policy(cfg.GovData.MinDelay, cfg.GovData.MaxRecordsPerRun),
		models.SourceAPI:         policy(cfg.ListingsAPI.MinDelay, cfg.ListingsAPI.MaxRecordsPerRun),
		models.SourceWeb:         policy(cfg.WebPages.MinDelay, cfg.WebPages.MaxRecordsPerRun),
		enrichment.ImagerySource: policy(cfg.Imagery.MinDelay, 0),
	}
	return ratelimit.NewGovernor(policies, policy(0, 0), logger)
}

// selectors returns the default selectors for a source: region zip codes, plus the
// configured page targets for the web source.
func (a *app) selectors(source models.Source) []string {
	var selectors []string
	if source == models.SourceWeb {
		selectors = append(selectors, a.cfg.WebPages.Targets...)
		if a.cfg.WebPages.SearchURLTemplate == "" {
			return selectors
		}
	}
	return append(selectors, a.regions.SelectorsFor(source)...)
}

func (a *app) plan() ingest.Plan {
	plan := ingest.Plan{}
	for _, source := range a.runner.Sources() {
		if selectors := a.selectors(source); len(selectors) > 0 {
			plan[source] = selectors
		}
	}
	return plan
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database")
	}
}
