// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. history.db - Asset catalog and daily closes
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryDB = historyDB

	// 2. artifacts.db - Versioned forecast, covariance and price tables
	artifactsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "artifacts.db"),
		Profile: database.ProfileCache, // Rebuildable from history
		Name:    "artifacts",
	})
	if err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to initialize artifacts database: %w", err)
	}
	container.ArtifactsDB = artifactsDB

	for _, db := range []*database.DB{historyDB, artifactsDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("All databases initialized and schemas applied")

	return container, nil
}
