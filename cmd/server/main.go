package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"propertyfeed/config"
	"propertyfeed/internal/api"
	"propertyfeed/internal/ingest"
	"propertyfeed/internal/models"
	"propertyfeed/internal/query"
	"propertyfeed/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Property ingestion, reconciliation and query service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newIngestCmd(), newEnrichCmd(), newMigrateCmd())
	return root
}

// setup loads the configuration and builds the application under a signal-aware context.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.WithError(err).Error("Failed to initialize application")
		return nil, nil, nil, err
	}
	return ctx, cancel, a, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.close()

			if a.cfg.Environment == "production" {
				gin.SetMode(gin.ReleaseMode)
			}

			var sched *scheduler.Scheduler
			if a.cfg.Schedule.Enabled {
				sched = scheduler.NewScheduler(a.runner, a.enricher, a.plan(), scheduler.Options{
					IngestInterval: a.cfg.Schedule.IngestInterval,
					EnrichInterval: a.cfg.Schedule.EnrichInterval,
					IngestBudget:   ingest.Budget{MaxDuration: a.cfg.Ingestion.RunMaxDuration},
					EnrichBudget:   a.cfg.Ingestion.RunMaxDuration,
				}, a.logger)
				sched.Start(ctx)
				defer sched.Stop()
			}

			handler := api.NewHandler(api.Dependencies{
				Store:           a.db,
				Queries:         query.NewService(a.db),
				Ingester:        a.runner,
				Enricher:        a.enricher,
				Regions:         a.regions,
				Selectors:       a.selectors,
				FreeResultLimit: a.cfg.Tiers.FreeResultLimit,
				IngestBudget:    ingest.Budget{MaxDuration: a.cfg.Ingestion.RunMaxDuration},
			}, a.logger)

			srv := &http.Server{
				Addr:              ":" + a.cfg.Server.Port,
				Handler:           api.NewRouter(handler, a.cfg.Server.AllowedOrigins),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Infof("Starting server on port %s", a.cfg.Server.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.logger.WithError(err).Error("Server failed to start")
					return err
				}
			case <-ctx.Done():
				a.logger.Info("Shutting down server")
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		source      string
		maxRecords  int
		maxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass and print the run summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.close()

			budget := ingest.Budget{MaxRecords: maxRecords, MaxDuration: maxDuration}

			var summaries []*models.RunSummary
			if source == "" {
				summaries, err = a.runner.RunAll(ctx, a.plan(), budget)
			} else {
				var summary *models.RunSummary
				summary, err = a.runner.Run(ctx, models.Source(source), a.selectors(models.Source(source)), budget)
				if summary != nil {
					summaries = append(summaries, summary)
				}
			}

			if printErr := printJSON(cmd, summaries); printErr != nil {
				return printErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source to ingest (gov, api, web); empty runs all")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "stop after this many records per source (0 = source cap only)")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "wall-clock budget per source (0 = none)")
	return cmd
}

func newEnrichCmd() *cobra.Command {
	var (
		afterID     uint
		limit       int
		maxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run one image enrichment pass and print the summary with the next cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer a.close()

			summary, err := a.enricher.Run(ctx, models.EnrichCursor{AfterID: afterID}, limit, maxDuration)
			if printErr := printJSON(cmd, summary); printErr != nil {
				return printErr
			}
			return err
		},
	}

	cmd.Flags().UintVar(&afterID, "after-id", 0, "resume after this property id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum properties to attempt (0 = no limit)")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "wall-clock budget (0 = none)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger(cfg)

			db, err := openDatabase(cfg, logger)
			if err != nil {
				logger.WithError(err).Error("Failed to run database migrations")
				return err
			}
			defer db.Close()

			logger.Info("Database is up to date")
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
