package di

import (
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/rs/zerolog"
)

// snapshotRefreshTimeout bounds a single scheduled rebuild
const snapshotRefreshTimeout = 30 * time.Minute

// RegisterJobs creates the background jobs and registers the scheduled ones.
// The scheduler is returned unstarted.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(container.EventManager, log)
	container.Scheduler = sched

	jobs := &JobInstances{
		RefreshSnapshot: scheduler.NewRefreshSnapshotJob(container.Snapshots, snapshotRefreshTimeout, log),
		Maintenance: scheduler.NewMaintenanceJob(
			container.Databases(),
			container.ArtifactStore,
			cfg.ArtifactKeepVersions,
			cfg.DataDir,
			container.EventManager,
			log,
		),
	}
	if cfg.PricesCSVImport != "" {
		jobs.ImportPrices = scheduler.NewImportPricesJob(
			container.History,
			cfg.PricesCSVImport,
			universe.ImportOptions{RejectAnomalies: cfg.RejectAnomalies},
			container.EventManager,
			log,
		)
	}

	if cfg.SnapshotRefreshSchedule != "" {
		if err := sched.AddJob(cfg.SnapshotRefreshSchedule, jobs.RefreshSnapshot); err != nil {
			return nil, fmt.Errorf("failed to register refresh_snapshot job: %w", err)
		}
	}
	if cfg.MaintenanceSchedule != "" {
		if err := sched.AddJob(cfg.MaintenanceSchedule, jobs.Maintenance); err != nil {
			return nil, fmt.Errorf("failed to register maintenance job: %w", err)
		}
	}

	container.Jobs = jobs
	log.Info().Int("scheduled", sched.Entries()).Msg("Jobs registered")
	return jobs, nil
}
