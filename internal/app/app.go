package app

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/reconpulse/config"
	"github.com/guttosm/reconpulse/internal/analyze"
	"github.com/guttosm/reconpulse/internal/api"
	"github.com/guttosm/reconpulse/internal/classify"
	"github.com/guttosm/reconpulse/internal/matching"
	"github.com/guttosm/reconpulse/internal/predict"
	"github.com/guttosm/reconpulse/internal/recon"
	"github.com/guttosm/reconpulse/internal/storage"
	"github.com/guttosm/reconpulse/internal/workflow"
)

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, the workflow engine (for the background
// SLA sweeper), a cleanup function for graceful shutdown, and any error
// encountered during initialization.
//
// Responsibilities:
//   - Connects to PostgreSQL using InitPostgres().
//   - Initializes the repository layer (trades, breaks, runs).
//   - Assembles the matcher, classifier, workflow engine and orchestrator.
//   - Creates the HTTP handler layer and configures the Gin router.
//   - Registers health and readiness probes.
//   - Provides a cleanup function to close resources (e.g., DB connection).
func InitializeApp() (*gin.Engine, *workflow.Engine, func(), error) {
	// Load global configuration
	cfg := config.AppConfig

	// Connect to PostgreSQL
	// indirection for unit testing
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	// Repository layer
	trades := storage.NewTradeRepository(db)
	breaks := storage.NewBreakRepository(db)
	runs := storage.NewRunRepository(db)

	// Domain layer
	matcher := matching.New(cfg.Matching)
	classifier := classify.New(cfg.Classify)
	engine := workflow.NewEngine(breaks, cfg.Workflow, workflow.DefaultRules(cfg.Classify.NotionalHigh))
	analyzer := analyze.NewAnalyzer(breaks)
	predictor := predict.NewAdapter(nil) // no scoring artifact deployed yet
	orchestrator := recon.NewOrchestrator(trades, breaks, runs, matcher, classifier, engine, predictor)

	// HTTP layer
	handler := api.NewHandler(orchestrator, engine, analyzer, predictor, breaks, runs, trades)
	router := api.NewRouter(handler)

	// Register health and readiness probes
	healthHandler := api.NewHealthHandler(db.Ping)
	healthHandler.Register(router)

	// Cleanup resources on shutdown
	cleanup := func() {
		_ = db.Close()
	}

	return router, engine, cleanup, nil
}
