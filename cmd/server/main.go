/*
main.go - Application entry point

PURPOSE:
  Starts the fish-market settlement server. Handles configuration,
  dependency injection, the retention job and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env, flags)
  2. Initialize SQLite store
  3. Register metrics, create API handler
  4. Start retention job
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  APP_ENV, PORT, DB_PATH, LOG_LEVEL, LOG_FORMAT, CORS_ALLOWED_ORIGINS,
  RETENTION_DAYS, RETENTION_INTERVAL, REPORT_WORKERS, METRICS_NAMESPACE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the retention job
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/settlement.db"

  # Run with in-memory database on another port
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fishledger/settlement-engine/api"
	"github.com/fishledger/settlement-engine/config"
	"github.com/fishledger/settlement-engine/obs"
	"github.com/fishledger/settlement-engine/retention"
	"github.com/fishledger/settlement-engine/store/sqlite"
)

func main() {
	boot := obs.NewLogger("json", "info")

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := applyFlags(cfg, os.Args[1:]); err != nil {
		boot.Fatal().Err(err).Msg("invalid command-line flags")
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("app_env", cfg.AppEnv).Logger()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, registry)
	domainMetrics := obs.NewDomainMetrics(cfg.MetricsNamespace, registry)

	// Initialize handler and router
	handler := api.NewHandler(store, cfg.ReportWorkers, logger, domainMetrics)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		HTTPMetrics:    httpMetrics,
		Gatherer:       registry,
		Pinger:         store,
	})

	// Retention
	job := retention.New(store, cfg.RetainFor(), logger)
	job.Interval = cfg.RetentionInterval
	job.Metrics = domainMetrics
	job.Start()

	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	job.Stop()

	logger.Info().Msg("server stopped")
}

// applyFlags overrides the environment with command-line flags.
func applyFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP server port")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port <= 0 || *port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *port)
	}
	cfg.Port, cfg.DBPath = *port, *dbPath
	return nil
}
