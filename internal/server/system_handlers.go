package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/aristath/frontier/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SnapshotStatus reports the current market snapshot
type SnapshotStatus interface {
	Current() *snapshot.Snapshot
	Refreshing() bool
	MaxAge() time.Duration
}

// JobRunner executes a job outside its schedule
type JobRunner interface {
	RunNow(job scheduler.Job) error
	Entries() int
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	snapshots   SnapshotStatus
	databases   map[string]*database.DB
	runner      JobRunner
	jobs        map[string]scheduler.Job
	dataDir     string
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance. runner and jobs
// may be nil.
func NewSystemHandlers(
	snapshots SnapshotStatus,
	databases map[string]*database.DB,
	runner JobRunner,
	jobs map[string]scheduler.Job,
	dataDir string,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		snapshots:   snapshots,
		databases:   databases,
		runner:      runner,
		jobs:        jobs,
		dataDir:     dataDir,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status        string            `json:"status"` // "healthy" or "degraded"
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	ScheduledJobs int               `json:"scheduled_jobs"`
	Refreshing    bool              `json:"refreshing"`
	Snapshot      *snapshot.Summary `json:"snapshot"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	DataDirMB   float64  `json:"data_dir_mb"`
	LastChecked string   `json:"last_checked"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Profile   string          `json:"profile"`
	SizeMB    float64         `json:"size_mb"`
	Stats     *database.Stats `json:"stats,omitempty"`
	Reachable bool            `json:"reachable"`
}

// HandleSystemStatus returns process, host and snapshot status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
	}
	if h.runner != nil {
		response.ScheduledJobs = h.runner.Entries()
	}

	if h.snapshots != nil {
		response.Refreshing = h.snapshots.Refreshing()
		if snap := h.snapshots.Current(); snap != nil {
			summary := snap.Summary(time.Now(), h.snapshots.MaxAge())
			response.Snapshot = &summary
			if summary.Stale {
				response.Status = "degraded"
			}
		} else {
			response.Status = "degraded"
		}
	}

	utils.WriteJSON(w, http.StatusOK, response, h.log)
}

// HandleDatabaseStats returns per-database size and page statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	response := DatabaseStatsResponse{
		Databases:   []DBInfo{},
		DataDirMB:   h.dataDirSizeMB(),
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for _, name := range names {
		db := h.databases[name]
		info := DBInfo{
			Name:    name,
			Path:    db.Path(),
			Profile: string(db.Profile()),
		}

		if fileInfo, err := os.Stat(db.Path()); err == nil {
			info.SizeMB = float64(fileInfo.Size()) / 1024 / 1024
		}
		if stats, err := db.GetStats(); err == nil {
			info.Stats = stats
			info.SizeMB = float64(stats.SizeBytes+stats.WALSizeBytes) / 1024 / 1024
		} else {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
		}
		info.Reachable = db.HealthCheck(r.Context()) == nil

		response.TotalSizeMB += info.SizeMB
		response.Databases = append(response.Databases, info)
	}

	utils.WriteJSON(w, http.StatusOK, response, h.log)
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.jobs[name]
	if !ok || h.runner == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown job: " + name, "kind": "not_found"})
		return
	}

	started := time.Now()
	if err := h.runner.RunNow(job); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(started).Milliseconds(),
	}, h.log)
}

// dataDirSizeMB calculates total size of the data directory in MB
func (h *SystemHandlers) dataDirSizeMB() float64 {
	if h.dataDir == "" {
		return 0
	}

	var totalSize int64
	err := filepath.Walk(h.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", h.dataDir).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short sampling interval so the endpoint stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
