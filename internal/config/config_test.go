package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("FRONTIER_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.DirExists(t, dir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 5, cfg.ForwardDays)
	assert.Equal(t, 0.95, cfg.ForecastConfidence)
	assert.Equal(t, 4, cfg.ForecastWorkers)
	assert.Equal(t, -1, cfg.ARIMADifferencing)
	assert.Equal(t, "0 30 22 * * MON-FRI", cfg.SnapshotRefreshSchedule)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotMaxAge)
	assert.False(t, cfg.ArtifactS3.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FRONTIER_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9100")
	t.Setenv("FORWARD_DAYS", "10")
	t.Setenv("FORECAST_CONFIDENCE", "0.9")
	t.Setenv("ARIMA_DIFFERENCING", "1")
	t.Setenv("SNAPSHOT_MAX_AGE_HOURS", "6")
	t.Setenv("ARTIFACT_S3_BUCKET", "frontier")
	t.Setenv("ARTIFACT_S3_ACCESS_KEY", "key")
	t.Setenv("ARTIFACT_S3_SECRET_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 10, cfg.ForwardDays)
	assert.Equal(t, 0.9, cfg.ForecastConfidence)
	assert.Equal(t, 1, cfg.ARIMADifferencing)
	assert.Equal(t, 6*time.Hour, cfg.SnapshotMaxAge)
	assert.True(t, cfg.ArtifactS3.Enabled())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("FRONTIER_DATA_DIR", t.TempDir())
	t.Setenv("FORECAST_CONFIDENCE", "1.5")
	t.Setenv("SNAPSHOT_REFRESH_SCHEDULE", "whenever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORECAST_CONFIDENCE")
	assert.Contains(t, err.Error(), "SNAPSHOT_REFRESH_SCHEDULE")
}

func TestValidate_PartialS3(t *testing.T) {
	cfg := &Config{
		Port:                    8001,
		ForwardDays:             5,
		ForecastConfidence:      0.95,
		ForecastWorkers:         1,
		ARIMADifferencing:       -1,
		SnapshotMaxAge:          time.Hour,
		ArtifactKeepVersions:    1,
		SnapshotRefreshSchedule: "@daily",
		ArtifactS3:              S3Config{Bucket: "frontier"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARTIFACT_S3_ACCESS_KEY")

	cfg.ArtifactS3 = S3Config{}
	assert.NoError(t, cfg.Validate())
}
