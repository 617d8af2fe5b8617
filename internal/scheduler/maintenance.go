package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/artifacts"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk space thresholds
const (
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0
)

// A database is vacuumed once this share of its pages sits on the freelist
const vacuumFreelistRatio = 0.25

// MaintenanceJob checkpoints the databases, checks free disk space and
// prunes old artifact versions
type MaintenanceJob struct {
	databases    map[string]*database.DB
	store        artifacts.Store
	keepVersions int
	dataDir      string
	events       EventEmitter
	log          zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job. store and emitter may
// be nil; keepVersions below one keeps a single version.
func NewMaintenanceJob(
	databases map[string]*database.DB,
	store artifacts.Store,
	keepVersions int,
	dataDir string,
	emitter EventEmitter,
	log zerolog.Logger,
) *MaintenanceJob {
	if keepVersions < 1 {
		keepVersions = 1
	}
	return &MaintenanceJob{
		databases:    databases,
		store:        store,
		keepVersions: keepVersions,
		dataDir:      dataDir,
		events:       emitter,
		log:          log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	// WAL checkpoint for all databases (prevent bloat)
	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := j.databases[name].WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	removed, err := j.pruneArtifacts()
	if err != nil {
		return err
	}

	for _, name := range names {
		j.vacuumIfFragmented(name, j.databases[name])
	}

	j.log.Info().
		Int("artifacts_removed", removed).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *MaintenanceJob) checkDiskSpace() error {
	if j.dataDir == "" {
		return nil
	}

	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Failed to stat filesystem")
		return nil
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")

	if availableGB < criticalFreeGB {
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if availableGB < lowFreeGB {
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}

// pruneArtifacts keeps the newest keepVersions versions of every key
func (j *MaintenanceJob) pruneArtifacts() (int, error) {
	if j.store == nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	keys, err := j.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list artifact keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		n, err := j.store.Prune(ctx, key, j.keepVersions)
		if err != nil {
			j.log.Warn().Err(err).Str("key", key.String()).Msg("Artifact prune failed")
			continue
		}
		removed += n
	}

	if j.events != nil && removed > 0 {
		j.events.EmitTyped("maintenance", &events.ArtifactsPrunedData{Keys: len(keys), Removed: removed})
	}
	return removed, nil
}

// vacuumIfFragmented reclaims space once pruning has left enough free pages
func (j *MaintenanceJob) vacuumIfFragmented(name string, db *database.DB) {
	stats, err := db.GetStats()
	if err != nil || stats.PageCount == 0 {
		return
	}

	ratio := float64(stats.FreelistCount) / float64(stats.PageCount)
	if ratio < vacuumFreelistRatio {
		return
	}

	if err := db.Vacuum(); err != nil {
		j.log.Warn().Str("database", name).Err(err).Msg("Vacuum failed")
		return
	}
	j.log.Info().
		Str("database", name).
		Str("profile", string(db.Profile())).
		Int64("freed_pages", stats.FreelistCount).
		Msg("Database vacuumed")
}
