// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	ForwardDays        int
	ForecastConfidence float64
	ForecastWorkers    int
	ARIMADifferencing  int // -1 selects d automatically

	SnapshotRefreshSchedule string
	SnapshotMaxAge          time.Duration
	ArtifactKeepVersions    int
	MaintenanceSchedule     string

	PricesCSVImport string // Optional price table loaded at startup
	RejectAnomalies bool

	ArtifactS3 S3Config
}

// S3Config holds the optional S3-compatible artifact mirror settings
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled reports whether the mirror is configured
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ForwardDays:        getEnvAsInt("FORWARD_DAYS", 5),
		ForecastConfidence: getEnvAsFloat("FORECAST_CONFIDENCE", 0.95),
		ForecastWorkers:    getEnvAsInt("FORECAST_WORKERS", 4),
		ARIMADifferencing:  getEnvAsInt("ARIMA_DIFFERENCING", -1),

		SnapshotRefreshSchedule: getEnv("SNAPSHOT_REFRESH_SCHEDULE", "0 30 22 * * MON-FRI"),
		SnapshotMaxAge:          time.Duration(getEnvAsInt("SNAPSHOT_MAX_AGE_HOURS", 24)) * time.Hour,
		ArtifactKeepVersions:    getEnvAsInt("ARTIFACT_KEEP_VERSIONS", 5),
		MaintenanceSchedule:     getEnv("MAINTENANCE_SCHEDULE", "0 0 3 * * *"),

		PricesCSVImport: getEnv("PRICES_CSV_IMPORT", ""),
		RejectAnomalies: getEnvAsBool("REJECT_PRICE_ANOMALIES", false),

		ArtifactS3: S3Config{
			Bucket:    getEnv("ARTIFACT_S3_BUCKET", ""),
			Endpoint:  getEnv("ARTIFACT_S3_ENDPOINT", ""),
			Region:    getEnv("ARTIFACT_S3_REGION", "auto"),
			AccessKey: getEnv("ARTIFACT_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("ARTIFACT_S3_SECRET_KEY", ""),
			Prefix:    getEnv("ARTIFACT_S3_PREFIX", "frontier"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("GO_PORT %d out of range", c.Port))
	}
	if c.ForwardDays < 1 {
		problems = append(problems, "FORWARD_DAYS must be at least 1")
	}
	if c.ForecastConfidence <= 0 || c.ForecastConfidence >= 1 {
		problems = append(problems, "FORECAST_CONFIDENCE must be in (0, 1)")
	}
	if c.ForecastWorkers < 1 {
		problems = append(problems, "FORECAST_WORKERS must be at least 1")
	}
	if c.ARIMADifferencing < -1 || c.ARIMADifferencing > 2 {
		problems = append(problems, "ARIMA_DIFFERENCING must be -1 (auto), 0, 1 or 2")
	}
	if c.SnapshotMaxAge <= 0 {
		problems = append(problems, "SNAPSHOT_MAX_AGE_HOURS must be positive")
	}
	if c.ArtifactKeepVersions < 1 {
		problems = append(problems, "ARTIFACT_KEEP_VERSIONS must be at least 1")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"SNAPSHOT_REFRESH_SCHEDULE": c.SnapshotRefreshSchedule,
		"MAINTENANCE_SCHEDULE":      c.MaintenanceSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			problems = append(problems, fmt.Sprintf("%s invalid: %v", name, err))
		}
	}

	s3 := c.ArtifactS3
	if s3.Bucket != "" && !s3.Enabled() {
		problems = append(problems, "ARTIFACT_S3_BUCKET requires ARTIFACT_S3_ACCESS_KEY and ARTIFACT_S3_SECRET_KEY")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
