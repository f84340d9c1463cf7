package main

//
//  @title           reconpulse API
//  @version         1.0
//  @description     Trade reconciliation matching & exception workflow service.
//  @termsOfService  https://github.com/guttosm/reconpulse
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/reconpulse
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        runs
//  @tag.description Reconciliation run orchestration
//
//  @tag.name        breaks
//  @tag.description Break workflow transitions
//
//  @tag.name        workflow
//  @tag.description SLA sweep
//
//  @tag.name        reports
//  @tag.description Aging and root-cause reports
//
//  @tag.name        predict
//  @tag.description Break-likelihood scoring
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guttosm/reconpulse/config"
	_ "github.com/guttosm/reconpulse/docs" // swagger docs
	"github.com/guttosm/reconpulse/internal/app"
	"github.com/guttosm/reconpulse/internal/classify"
	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/ingestion"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/matching"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/recon"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown gracefully terminates the HTTP server and cleans up
// resources when an OS interrupt signal (SIGINT, SIGTERM) is received.
func gracefulShutdown(ctx context.Context, server *http.Server, stopSweeper context.CancelFunc, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.L().Info().Msg("shutting down server")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// parseSources splits and validates a comma-separated source list.
func parseSources(s string) ([]models.Source, error) {
	parts := strings.Split(s, ",")
	sources := make([]models.Source, 0, len(parts))
	for _, p := range parts {
		src, err := models.ParseSource(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// main is the entry point of the reconpulse application.
//
// Modes (selected via --mode flag):
//   - api:       Starts the REST API plus the background SLA sweeper.
//   - ingest:    Loads <source>_<date>.csv files from --dir for --date.
//   - reconcile: Runs one reconciliation for --date and --sources, then exits.
//   - sweep:     Runs one SLA sweep pass, then exits.
func main() {
	ctx := context.Background()

	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()

	mode := flag.String("mode", "api", "Mode: api, ingest, reconcile or sweep")
	dir := flag.String("dir", "./data/input", "Directory with .csv trade files")
	date := flag.String("date", time.Now().UTC().Format("2006-01-02"), "Trade date (YYYY-MM-DD)")
	sourcesFlag := flag.String("sources", "oms,custodian", "Comma-separated pair of sources")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for API mode")
	flag.Parse()

	tradeDate, err := time.Parse("2006-01-02", *date)
	if err != nil {
		logger.L().Fatal().Err(err).Str("date", *date).Msg("invalid --date")
	}
	sources, err := parseSources(*sourcesFlag)
	if err != nil {
		logger.L().Fatal().Err(err).Str("sources", *sourcesFlag).Msg("invalid --sources")
	}

	switch *mode {
	case "api":
		router, engine, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		// Background SLA sweeper; stopped on shutdown.
		sweepCtx, stopSweeper := context.WithCancel(ctx)
		go engine.RunSweeper(sweepCtx, config.AppConfig.Workflow.SweepInterval)

		server := startServer(router, *port)
		gracefulShutdown(ctx, server, stopSweeper, cleanup)

	case "ingest":
		db, err := app.InitPostgres(config.AppConfig)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("db connect error")
		}
		defer func() { _ = db.Close() }()

		repo := storage.NewTradeRepository(db)
		if err := ingestion.ProcessSources(ctx, *dir, repo, tradeDate, sources); err != nil {
			logger.L().Fatal().Err(err).Msg("ingestion failed")
		}
		logger.L().Info().Msg("ingestion completed successfully")

	case "reconcile":
		if len(sources) != 2 {
			logger.L().Fatal().Str("sources", *sourcesFlag).Msg("reconcile needs exactly two sources")
		}
		db, err := app.InitPostgres(config.AppConfig)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("db connect error")
		}
		defer func() { _ = db.Close() }()

		cfg := config.AppConfig
		trades := storage.NewTradeRepository(db)
		breaks := storage.NewBreakRepository(db)
		runs := storage.NewRunRepository(db)
		engine := workflow.NewEngine(breaks, cfg.Workflow, workflow.DefaultRules(cfg.Classify.NotionalHigh))
		orchestrator := recon.NewOrchestrator(
			trades, breaks, runs,
			matching.New(cfg.Matching),
			classify.New(cfg.Classify),
			engine,
			predict.NewAdapter(nil),
		)
		run, err := orchestrator.Run(ctx, tradeDate, sources[0], sources[1])
		if err != nil {
			logger.L().Fatal().Err(err).Msg("reconciliation failed")
		}
		logger.L().Info().
			Str("run_id", run.ID).
			Int("matched", run.Counts.Matched).
			Int("breaks_created", run.Counts.BreaksCreated).
			Float64("match_rate", run.Counts.MatchRate()).
			Msg("reconciliation completed")

	case "sweep":
		db, err := app.InitPostgres(config.AppConfig)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("db connect error")
		}
		defer func() { _ = db.Close() }()

		cfg := config.AppConfig
		breaks := storage.NewBreakRepository(db)
		engine := workflow.NewEngine(breaks, cfg.Workflow, workflow.DefaultRules(cfg.Classify.NotionalHigh))
		result, err := engine.Sweep(ctx)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("sweep failed")
		}
		logger.L().Info().
			Int("scanned", result.Scanned).
			Int("escalated", len(result.Escalated)).
			Int("skipped", result.Skipped).
			Msg("sweep completed")

	default:
		logger.L().Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}
