package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/modules/artifacts"
	"github.com/aristath/frontier/internal/modules/covariance"
	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/modules/sharpe"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/services"
	"github.com/rs/zerolog"
)

// InitializeServices builds the stores, the pipeline components and the
// snapshot manager on top of the opened databases
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Stores
	container.History = universe.NewHistoryDB(container.HistoryDB.Conn(), log)

	store, err := buildArtifactStore(container, cfg, log)
	if err != nil {
		return err
	}
	container.ArtifactStore = store

	// Pipeline
	forecastCfg := forecasting.DefaultConfig()
	forecastCfg.Differencing = cfg.ARIMADifferencing
	container.Forecaster = forecasting.NewForecaster(forecastCfg, log)
	container.ForecastService = forecasting.NewService(container.Forecaster, cfg.ForecastWorkers, log)
	container.Estimator = covariance.NewEstimator(log)
	container.Scorer = sharpe.NewScorer(container.Forecaster, cfg.ForwardDays, cfg.ForecastConfidence, cfg.ForecastWorkers, log)
	container.Optimizer = optimization.NewOptimizer(optimization.NewActiveSetSolver(), log)
	container.Allocator = allocation.NewAllocator(container.History, log)
	container.ForwardDays = cfg.ForwardDays
	container.Confidence = cfg.ForecastConfidence

	// Snapshot
	container.Snapshots = snapshot.NewManager(
		container.History,
		container.ForecastService,
		container.Estimator,
		container.ArtifactStore,
		container.EventManager,
		snapshot.Options{
			ForwardDays: cfg.ForwardDays,
			Confidence:  cfg.ForecastConfidence,
			MaxAge:      cfg.SnapshotMaxAge,
		},
		log,
	)

	container.Recommendations = services.NewRecommendationService(
		container.Snapshots,
		container.Optimizer,
		container.Allocator,
		container.History,
		log,
	)

	log.Info().Msg("Services initialized")
	return nil
}

// buildArtifactStore returns the local SQLite store, mirrored to S3 when configured
func buildArtifactStore(container *Container, cfg *config.Config, log zerolog.Logger) (artifacts.Store, error) {
	local := artifacts.NewSQLiteStore(container.ArtifactsDB.Conn(), log)
	if !cfg.ArtifactS3.Enabled() {
		return local, nil
	}

	s3cfg := artifacts.S3Config{
		Bucket:    cfg.ArtifactS3.Bucket,
		Endpoint:  cfg.ArtifactS3.Endpoint,
		Region:    cfg.ArtifactS3.Region,
		AccessKey: cfg.ArtifactS3.AccessKey,
		SecretKey: cfg.ArtifactS3.SecretKey,
		Prefix:    cfg.ArtifactS3.Prefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := artifacts.NewS3Client(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact S3 client: %w", err)
	}

	log.Info().
		Str("bucket", s3cfg.Bucket).
		Str("endpoint", s3cfg.Endpoint).
		Msg("Artifact mirror enabled")

	return artifacts.NewMirrorStore(local, artifacts.NewS3Store(client, s3cfg, log), log), nil
}
