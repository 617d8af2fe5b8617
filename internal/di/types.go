/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/modules/artifacts"
	"github.com/aristath/frontier/internal/modules/covariance"
	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/modules/sharpe"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/aristath/frontier/internal/services"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: history (asset catalog, daily prices) and artifacts (versioned snapshot tables)
 * - Stores: price history and the artifact store, optionally mirrored to S3
 * - Pipeline: forecaster, covariance estimator, Sharpe scorer, optimizer, allocator
 * - Snapshot: the shared market snapshot and its refresh jobs
 */
type Container struct {
	// Databases
	HistoryDB   *database.DB
	ArtifactsDB *database.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Stores
	History       *universe.HistoryDB
	ArtifactStore artifacts.Store

	// Pipeline
	Forecaster      *forecasting.Forecaster
	ForecastService *forecasting.Service
	Estimator       *covariance.Estimator
	Scorer          *sharpe.Scorer
	Optimizer       *optimization.Optimizer
	Allocator       *allocation.Allocator
	Recommendations *services.RecommendationService

	// Snapshot
	Snapshots *snapshot.Manager

	// Background jobs
	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances

	ForwardDays int
	Confidence  float64
}

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	RefreshSnapshot *scheduler.RefreshSnapshotJob
	Maintenance     *scheduler.MaintenanceJob
	ImportPrices    *scheduler.ImportPricesJob // nil unless a price table is configured
}

// All returns the registered jobs keyed by name
func (j *JobInstances) All() map[string]scheduler.Job {
	jobs := map[string]scheduler.Job{
		j.RefreshSnapshot.Name(): j.RefreshSnapshot,
		j.Maintenance.Name():     j.Maintenance,
	}
	if j.ImportPrices != nil {
		jobs[j.ImportPrices.Name()] = j.ImportPrices
	}
	return jobs
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		c.HistoryDB.Name():   c.HistoryDB,
		c.ArtifactsDB.Name(): c.ArtifactsDB,
	}
}

// Close releases the databases
func (c *Container) Close() {
	if c.HistoryDB != nil {
		c.HistoryDB.Close()
	}
	if c.ArtifactsDB != nil {
		c.ArtifactsDB.Close()
	}
}
