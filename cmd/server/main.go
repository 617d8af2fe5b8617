// Package main is the entry point for the Frontier server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/di"
	"github.com/aristath/frontier/internal/server"
	"github.com/aristath/frontier/pkg/logger"
)

// main is the application entry point. It orchestrates the startup sequence:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires all dependencies via the DI container (databases, stores, pipeline)
// 4. Imports the configured price table, if any
// 5. Loads the last snapshot from the artifact store or rebuilds it
// 6. Starts the scheduler and the HTTP server
// 7. Waits for a shutdown signal and shuts down gracefully
//
// Two databases live under the data directory:
// - history.db: asset catalog and daily closes
// - artifacts.db: versioned forecast, covariance and price tables
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("forward_days", cfg.ForwardDays).
		Float64("confidence", cfg.ForecastConfidence).
		Msg("Starting Frontier")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	if container.Jobs.ImportPrices != nil {
		if err := container.Scheduler.RunNow(container.Jobs.ImportPrices); err != nil {
			log.Error().Err(err).Msg("Startup price import failed")
		}
	}

	// A missing or stale snapshot is rebuilt before serving; failure leaves
	// the API up without market data until the next refresh
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Minute)
	if err := container.Snapshots.EnsureFresh(startupCtx); err != nil {
		log.Warn().Err(err).Msg("No market snapshot available at startup")
	}
	startupCancel()

	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Frontier started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop scheduling new runs; waits for a running refresh to finish
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
